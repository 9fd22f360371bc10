package pipeline

import (
	"fmt"
	"strings"
)

// FormatSamplesTime renders a sample count as a duration at the given
// sample rate, e.g. "220.000 us (138240 samples)".
func FormatSamplesTime(samples int, sampleRateHz float64) string {
	if sampleRateHz <= 0 {
		return fmt.Sprintf("%d samples", samples)
	}
	seconds := float64(samples) / sampleRateHz
	switch {
	case seconds >= 1:
		return fmt.Sprintf("%.3f s (%d samples)", seconds, samples)
	case seconds >= 1e-3:
		return fmt.Sprintf("%.3f ms (%d samples)", seconds*1e3, samples)
	default:
		return fmt.Sprintf("%.3f us (%d samples)", seconds*1e6, samples)
	}
}

// QuantizationReport renders the per-segment quantization outcome, one
// line per segment.
func QuantizationReport(q *Quantized) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "segment quantum: %s | step: %d samples",
		FormatSamplesTime(q.QuantumSamples, q.SampleRateHz), StepSamples)
	for _, qi := range q.Quantization {
		fmt.Fprintf(&sb, "\n- %s: %s -> %s | mode=%s loop=%d loopable=%t",
			qi.Name,
			FormatSamplesTime(qi.OriginalSamples, q.SampleRateHz),
			FormatSamplesTime(qi.QuantizedSamples, q.SampleRateHz),
			qi.Mode, qi.Loop, qi.Loopable)
	}
	return sb.String()
}
