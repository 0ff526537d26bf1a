// Package powermeter estimates household power draw from a video of an
// electricity meter's impulse LED. Every blink is one watt-hour, so the
// number of gaps between blinks over the clip's duration gives the load.
package powermeter

import (
	"errors"
	"math"
	"strconv"
	"strings"
)

// ErrNoSignal is returned when a clip contains no usable blink pattern.
var ErrNoSignal = errors.New("no blink detected in the video")

// FrameSample is the classification of one decoded frame.
type FrameSample struct {
	Index     int
	Active    bool
	Timestamp float64
}

// Reading is an estimated load in watts.
type Reading struct {
	Watts   float64
	Gaps    int
	Elapsed float64
}

// String formats the reading the way it is sent to users: kilowatts with up
// to two decimals above 1000 W, otherwise whole watts.
func (r Reading) String() string {
	if r.Watts > 1000 {
		kw := strconv.FormatFloat(math.Round(r.Watts/1000*100)/100, 'f', -1, 64)
		if !strings.Contains(kw, ".") {
			kw += ".0"
		}
		return kw + " kW"
	}
	return strconv.FormatFloat(math.Round(r.Watts), 'f', 0, 64) + " W"
}

// Samples builds FrameSamples from ordered per-frame activity flags.
func Samples(active []bool, fps float64) []FrameSample {
	samples := make([]FrameSample, len(active))
	for i, a := range active {
		samples[i] = FrameSample{Index: i, Active: a, Timestamp: float64(i) / fps}
	}
	return samples
}

// Estimate derives a power reading from the full, ordered sample sequence of
// one clip. The input slice is not modified.
func Estimate(samples []FrameSample) (Reading, error) {
	start := -1
	for i, s := range samples {
		if s.Active {
			start = i
			break
		}
	}
	if start < 0 {
		return Reading{}, ErrNoSignal
	}

	runs := compress(samples[start:])
	if !runs[len(runs)-1].Active {
		runs = runs[:len(runs)-1]
	}

	gaps := 0
	for _, r := range runs {
		if !r.Active {
			gaps++
		}
	}

	elapsed := runs[len(runs)-1].Timestamp - runs[0].Timestamp
	if elapsed <= 0 {
		return Reading{}, ErrNoSignal
	}

	return Reading{
		Watts:   3600 * float64(gaps) / elapsed,
		Gaps:    gaps,
		Elapsed: elapsed,
	}, nil
}

// compress keeps the first sample of every maximal run of equal activity.
func compress(samples []FrameSample) []FrameSample {
	runs := []FrameSample{samples[0]}
	for i := 1; i < len(samples); i++ {
		if samples[i].Active != samples[i-1].Active {
			runs = append(runs, samples[i])
		}
	}
	return runs
}
