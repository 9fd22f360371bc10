// Package pipeline turns an intent program into card-ready int16 sample
// buffers in three stages: resolve (time resolution against a sample
// rate), quantize (rounding to hardware step granularity) and compile
// (sample synthesis against a card's exact full-scale code value).
//
// The driver core consumes the stages through the Pipeline interface and
// never inspects the intermediate values beyond segment name and order;
// segment order and identity are stable across all three stages, so an
// index computed on one stage's output addresses the same segment in the
// others.
package pipeline

import (
	"spectrum-awg-host/pkg/intent"
	"spectrum-awg-host/pkg/setup"
)

// StepSamples is the hardware step granularity: segment buffer lengths
// must be a multiple of this.
const StepSamples = 32

// Pipeline is the resolve/quantize/compile collaborator chain.
type Pipeline interface {
	Resolve(p *intent.Program, sampleRateHz float64) (*Resolved, error)
	Quantize(r *Resolved, quantumS float64) (*Quantized, error)
	Compile(q *Quantized, opts CompileOptions) (*CompiledSet, error)
}

// ToneSpec is one resolved oscillator.
type ToneSpec struct {
	FreqHz   float64
	Power    float64
	PhaseRad float64
}

// ResolvedChannel is the tone set of one logical channel in one segment.
type ResolvedChannel struct {
	Channel string
	Tones   []ToneSpec
}

// ResolvedSegment is a time-resolved segment: the requested duration
// converted to a raw sample count at the resolve-time sample rate.
type ResolvedSegment struct {
	Name         string
	Samples      int
	Loop         int
	Loopable     bool
	TriggerGated bool
	Next         string
	Channels     []ResolvedChannel
}

// Resolved is the time-resolved form of an intent program.
type Resolved struct {
	Name         string
	SampleRateHz float64
	Segments     []ResolvedSegment
}

// QuantMode records how a segment's duration was fitted to the quantum.
type QuantMode string

const (
	// QuantPad pads the buffer up to a whole number of quanta.
	QuantPad QuantMode = "pad"

	// QuantLoop shortens the buffer to a single quantum and multiplies the
	// step-graph loop count instead. Only loopable segments qualify.
	QuantLoop QuantMode = "loop"
)

// QuantInfo describes one segment's quantization, for reporting.
type QuantInfo struct {
	Name             string
	OriginalSamples  int
	QuantizedSamples int
	Mode             QuantMode
	Loop             int
	Loopable         bool
}

// QuantizedSegment is a segment whose buffer length is a whole number of
// quanta (QuantPad) or exactly one quantum (QuantLoop).
type QuantizedSegment struct {
	ResolvedSegment

	// BufferSamples is the per-channel buffer length actually synthesized.
	BufferSamples int

	// StepLoop is the step-graph loop count after quantization.
	StepLoop int

	Mode QuantMode
}

// Quantized is the quantized form of a resolved program.
type Quantized struct {
	Name           string
	SampleRateHz   float64
	QuantumSamples int
	Segments       []QuantizedSegment
	Quantization   []QuantInfo
}

// SegmentIndexByName returns a name-to-index map over the quantized
// segments.
func (q *Quantized) SegmentIndexByName() map[string]int {
	m := make(map[string]int, len(q.Segments))
	for i := range q.Segments {
		m[q.Segments[i].Name] = i
	}
	return m
}

// CompiledSegment holds one segment's card-ready samples: channel-
// interleaved int16 frames plus the end phase of every tone, kept so a
// later recompile can continue phase smoothly.
type CompiledSegment struct {
	Name          string
	NumChannels   int
	BufferSamples int
	Interleaved   []int16

	// EndPhase is indexed by hardware channel, then tone, and holds the
	// oscillator phase (radians) at the end of the buffer.
	EndPhase [][]float64

	StepLoop     int
	TriggerGated bool
	Next         string
}

// CompiledSet is the full compiled program: every segment's samples scaled
// against one full-scale code value.
type CompiledSet struct {
	Name          string
	SampleRateHz  float64
	FullScaleMV   float64
	FullScaleCode int
	Segments      []*CompiledSegment
}

// CompileOptions selects what to compile and against which scaling.
type CompileOptions struct {
	Setup         *setup.PhysicalSetup
	FullScaleMV   float64
	FullScaleCode int

	// SegmentIndices limits compilation to the listed segment indices.
	// Nil compiles everything.
	SegmentIndices []int

	// Seed supplies a prior compilation. Segments outside SegmentIndices
	// are carried over from it unchanged, and recompiled segments start
	// each tone at the seed's end phase instead of the intent phase, so
	// oscillator phase stays continuous across a hotswap.
	Seed *CompiledSet
}
