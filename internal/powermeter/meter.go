package powermeter

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"

	"github.com/KnotATypo/Telegram-Bots/internal/classifier"
	"go.uber.org/zap"
)

// FrameSource yields the decoded frames of one clip in order. Next returns
// io.EOF after the last frame. The returned image is only valid until the
// following call to Next.
type FrameSource interface {
	FPS() float64
	Next() (image.Image, error)
	Close() error
}

// Decoder opens a FrameSource for a local video file.
type Decoder interface {
	Open(ctx context.Context, path string) (FrameSource, error)
}

// Meter turns a video file into a power Reading.
type Meter struct {
	decoder    Decoder
	classifier classifier.Classifier
	logger     *zap.Logger
}

func NewMeter(decoder Decoder, clf classifier.Classifier, logger *zap.Logger) *Meter {
	return &Meter{
		decoder:    decoder,
		classifier: clf,
		logger:     logger,
	}
}

// Measure decodes the whole clip at path, classifies every frame and
// estimates the load. It returns ErrNoSignal when no blink pattern is found.
func (m *Meter) Measure(ctx context.Context, path string) (Reading, error) {
	src, err := m.decoder.Open(ctx, path)
	if err != nil {
		return Reading{}, fmt.Errorf("failed to open video: %w", err)
	}
	defer src.Close()

	fps := src.FPS()
	if fps <= 0 {
		return Reading{}, fmt.Errorf("invalid frame rate %v", fps)
	}

	var active []bool
	for {
		if err := ctx.Err(); err != nil {
			return Reading{}, err
		}
		frame, err := src.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Reading{}, fmt.Errorf("failed to decode frame %d: %w", len(active), err)
		}
		active = append(active, m.classifier.IsActive(frame))
	}

	reading, err := Estimate(Samples(active, fps))
	if err != nil {
		m.logger.Info("No blink pattern in video",
			zap.String("path", path),
			zap.Int("frames", len(active)),
			zap.Float64("fps", fps))
		return Reading{}, err
	}

	m.logger.Info("Measured power draw",
		zap.String("path", path),
		zap.Int("frames", len(active)),
		zap.Float64("fps", fps),
		zap.Int("gaps", reading.Gaps),
		zap.Float64("elapsed_seconds", reading.Elapsed),
		zap.String("reading", reading.String()))

	return reading, nil
}
