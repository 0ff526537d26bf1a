// Package classifier decides whether a single video frame shows a lit LED.
package classifier

import (
	"image"

	"golang.org/x/image/draw"
)

// Default tuning for the red LED on household electricity meters.
const (
	DefaultWidth     = 720
	DefaultHeight    = 1280
	DefaultIntensity = 240
	DefaultMinPixels = 200
)

type Classifier interface {
	IsActive(frame image.Image) bool
}

// RedClassifier counts bright red pixels after scaling the frame to a fixed
// resolution. A frame is active when more than MinPixels pixels exceed
// Intensity.
type RedClassifier struct {
	width     int
	height    int
	intensity uint8
	minPixels int
	scaler    draw.Scaler
}

func NewRedClassifier(width, height int, intensity uint8, minPixels int) *RedClassifier {
	if width <= 0 {
		width = DefaultWidth
	}
	if height <= 0 {
		height = DefaultHeight
	}
	return &RedClassifier{
		width:     width,
		height:    height,
		intensity: intensity,
		minPixels: minPixels,
		scaler:    draw.BiLinear,
	}
}

// NewDefaultClassifier returns a RedClassifier with the default tuning.
func NewDefaultClassifier() *RedClassifier {
	return NewRedClassifier(DefaultWidth, DefaultHeight, DefaultIntensity, DefaultMinPixels)
}

func (c *RedClassifier) IsActive(frame image.Image) bool {
	return c.Count(frame) > c.minPixels
}

// Count returns the number of pixels above the intensity threshold in the
// scaled red channel.
func (c *RedClassifier) Count(frame image.Image) int {
	red := redChannel(frame)

	scaled := red
	if red.Rect.Dx() != c.width || red.Rect.Dy() != c.height {
		scaled = image.NewGray(image.Rect(0, 0, c.width, c.height))
		c.scaler.Scale(scaled, scaled.Rect, red, red.Rect, draw.Src, nil)
	}

	count := 0
	for y := 0; y < scaled.Rect.Dy(); y++ {
		row := scaled.Pix[y*scaled.Stride : y*scaled.Stride+scaled.Rect.Dx()]
		for _, v := range row {
			if v > c.intensity {
				count++
			}
		}
	}
	return count
}

// redChannel copies the red component of frame into a Gray image anchored at
// the origin.
func redChannel(frame image.Image) *image.Gray {
	b := frame.Bounds()
	out := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))

	if rgba, ok := frame.(*image.RGBA); ok {
		for y := 0; y < b.Dy(); y++ {
			src := rgba.Pix[rgba.PixOffset(b.Min.X, b.Min.Y+y):]
			dst := out.Pix[y*out.Stride:]
			for x := 0; x < b.Dx(); x++ {
				dst[x] = src[x*4]
			}
		}
		return out
	}

	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			r, _, _, _ := frame.At(b.Min.X+x, b.Min.Y+y).RGBA()
			out.Pix[y*out.Stride+x] = uint8(r >> 8)
		}
	}
	return out
}
