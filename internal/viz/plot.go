package viz

import (
	"fmt"

	"github.com/guptarohit/asciigraph"
	"github.com/san-kum/rampmerge/internal/vehicle"
)

// ErrorThreshold is the acceptable per-tick error, in percent.
const ErrorThreshold = 15.0

// RenderErrors plots the speed and gap error series against the threshold.
func RenderErrors(speed, gap []float64, width, height int) string {
	n := max(len(speed), len(gap))
	if n == 0 {
		return "no scored ticks"
	}
	threshold := make([]float64, n)
	for i := range threshold {
		threshold[i] = ErrorThreshold
	}

	series := [][]float64{threshold}
	colors := []asciigraph.AnsiColor{asciigraph.Default}
	caption := fmt.Sprintf("error %% (threshold %.0f%%)", ErrorThreshold)
	if len(speed) > 0 {
		series = append(series, speed)
		colors = append(colors, asciigraph.Red)
		caption += " red=speed"
	}
	if len(gap) > 0 {
		series = append(series, gap)
		colors = append(colors, asciigraph.Blue)
		caption += " blue=gap"
	}

	return asciigraph.PlotMany(series,
		asciigraph.Height(height),
		asciigraph.Width(width),
		asciigraph.LowerBound(0),
		asciigraph.SeriesColors(colors...),
		asciigraph.Caption(caption),
	)
}

// RenderSpeeds plots a vehicle's actual speed against its plan shifted by
// the delay, which is what the vehicle could have followed.
func RenderSpeeds(id vehicle.ID, actual, planned []float64, delaySteps, width, height int) string {
	a, p := AlignDelayed(actual, planned, delaySteps)
	if len(a) == 0 {
		return fmt.Sprintf("%s: not enough samples", id)
	}
	return asciigraph.PlotMany([][]float64{a, p},
		asciigraph.Height(height),
		asciigraph.Width(width),
		asciigraph.SeriesColors(asciigraph.Green, asciigraph.Yellow),
		asciigraph.Caption(fmt.Sprintf("%s speed m/s green=actual yellow=delayed plan", id)),
	)
}

// AlignDelayed pairs actual[i] with planned[i-steps], dropping the ticks
// that have no delayed plan yet.
func AlignDelayed(actual, planned []float64, steps int) (a, p []float64) {
	if steps < 0 {
		steps = 0
	}
	for i := steps; i < len(actual); i++ {
		j := i - steps
		if j >= len(planned) {
			break
		}
		a = append(a, actual[i])
		p = append(p, planned[j])
	}
	return a, p
}
