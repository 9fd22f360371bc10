package pipeline

import (
	"fmt"
	"math"

	"spectrum-awg-host/pkg/errors"
	"spectrum-awg-host/pkg/intent"
)

// Synth is the reference Pipeline implementation: deterministic tone
// synthesis with calibration-scaled amplitudes.
type Synth struct{}

// NewSynth returns the reference pipeline.
func NewSynth() *Synth {
	return &Synth{}
}

// Resolve converts segment durations to raw sample counts and flattens
// remap operations into concrete tone lists.
func (s *Synth) Resolve(p *intent.Program, sampleRateHz float64) (*Resolved, error) {
	if sampleRateHz <= 0 {
		return nil, errors.ResolveError(fmt.Errorf("non-positive sample rate %g", sampleRateHz))
	}
	if err := p.Validate(); err != nil {
		return nil, errors.ResolveError(err)
	}

	r := &Resolved{
		Name:         p.Name,
		SampleRateHz: sampleRateHz,
		Segments:     make([]ResolvedSegment, len(p.Segments)),
	}
	for i := range p.Segments {
		seg := &p.Segments[i]
		rs := ResolvedSegment{
			Name:         seg.Name,
			Samples:      int(math.Round(seg.DurationS * sampleRateHz)),
			Loop:         seg.Loop,
			Loopable:     seg.Loopable,
			TriggerGated: seg.TriggerGated,
			Next:         seg.Next,
			Channels:     make([]ResolvedChannel, 0, len(seg.Ops)),
		}
		if rs.Samples < 1 {
			return nil, errors.ResolveError(fmt.Errorf(
				"segment %q resolves to %d samples at %g Hz", seg.Name, rs.Samples, sampleRateHz))
		}
		for _, op := range seg.Ops {
			rc := ResolvedChannel{Channel: op.Channel}
			switch op.Kind {
			case intent.OpTones:
				rc.Tones = toneSpecs(op.Tones)
			case intent.OpRemap:
				def := p.Definitions[op.Definition]
				selected := make([]intent.Tone, len(op.SrcIndices))
				for j, idx := range op.SrcIndices {
					selected[j] = def[idx]
				}
				rc.Tones = toneSpecs(selected)
			}
			rs.Channels = append(rs.Channels, rc)
		}
		r.Segments[i] = rs
	}
	return r, nil
}

func toneSpecs(tones []intent.Tone) []ToneSpec {
	specs := make([]ToneSpec, len(tones))
	for i, t := range tones {
		specs[i] = ToneSpec{FreqHz: t.FreqHz, Power: t.Power, PhaseRad: t.PhaseRad}
	}
	return specs
}

// Quantize fits every segment to a whole number of quanta. The quantum
// itself is rounded up to a multiple of the hardware step granularity.
// Loopable segments longer than one quantum are shortened to a single
// quantum buffer with the step-graph loop count multiplied instead, which
// keeps card memory bounded for long static holds.
func (s *Synth) Quantize(r *Resolved, quantumS float64) (*Quantized, error) {
	if quantumS <= 0 {
		return nil, errors.QuantizeError(fmt.Errorf("non-positive quantum %g s", quantumS))
	}
	quantum := int(math.Ceil(quantumS * r.SampleRateHz))
	if rem := quantum % StepSamples; rem != 0 {
		quantum += StepSamples - rem
	}
	if quantum < StepSamples {
		quantum = StepSamples
	}

	q := &Quantized{
		Name:           r.Name,
		SampleRateHz:   r.SampleRateHz,
		QuantumSamples: quantum,
		Segments:       make([]QuantizedSegment, len(r.Segments)),
		Quantization:   make([]QuantInfo, len(r.Segments)),
	}
	for i := range r.Segments {
		rs := &r.Segments[i]
		quanta := (rs.Samples + quantum - 1) / quantum
		qs := QuantizedSegment{ResolvedSegment: *rs}
		if rs.Loopable && quanta > 1 {
			qs.Mode = QuantLoop
			qs.BufferSamples = quantum
			qs.StepLoop = rs.Loop * quanta
		} else {
			qs.Mode = QuantPad
			qs.BufferSamples = quanta * quantum
			qs.StepLoop = rs.Loop
		}
		q.Segments[i] = qs
		q.Quantization[i] = QuantInfo{
			Name:             rs.Name,
			OriginalSamples:  rs.Samples,
			QuantizedSamples: qs.BufferSamples * (qs.StepLoop / rs.Loop),
			Mode:             qs.Mode,
			Loop:             qs.StepLoop,
			Loopable:         rs.Loopable,
		}
	}
	return q, nil
}

// Compile synthesizes int16 sample buffers for the selected segments.
func (s *Synth) Compile(q *Quantized, opts CompileOptions) (*CompiledSet, error) {
	if opts.Setup == nil {
		return nil, errors.CompileError("", fmt.Errorf("no physical setup"))
	}
	if opts.FullScaleCode <= 0 || opts.FullScaleMV <= 0 {
		return nil, errors.CompileError("", fmt.Errorf(
			"bad scaling: full_scale_mv=%g full_scale=%d", opts.FullScaleMV, opts.FullScaleCode))
	}

	wanted := make(map[int]bool, len(q.Segments))
	if opts.SegmentIndices == nil {
		for i := range q.Segments {
			wanted[i] = true
		}
	} else {
		for _, idx := range opts.SegmentIndices {
			if idx < 0 || idx >= len(q.Segments) {
				return nil, errors.CompileError("", fmt.Errorf(
					"segment index %d outside program (%d segments)", idx, len(q.Segments)))
			}
			wanted[idx] = true
		}
	}

	set := &CompiledSet{
		Name:          q.Name,
		SampleRateHz:  q.SampleRateHz,
		FullScaleMV:   opts.FullScaleMV,
		FullScaleCode: opts.FullScaleCode,
		Segments:      make([]*CompiledSegment, len(q.Segments)),
	}
	for i := range q.Segments {
		if !wanted[i] {
			if opts.Seed == nil || i >= len(opts.Seed.Segments) {
				return nil, errors.CompileError(q.Segments[i].Name, fmt.Errorf(
					"partial compile without a seed covering segment %d", i))
			}
			set.Segments[i] = opts.Seed.Segments[i]
			continue
		}
		var seed *CompiledSegment
		if opts.Seed != nil && i < len(opts.Seed.Segments) {
			seed = opts.Seed.Segments[i]
		}
		compiled, err := s.compileSegment(&q.Segments[i], q.SampleRateHz, opts, seed)
		if err != nil {
			return nil, err
		}
		set.Segments[i] = compiled
	}
	return set, nil
}

// compileSegment synthesizes one segment's interleaved buffer.
func (s *Synth) compileSegment(qs *QuantizedSegment, fs float64, opts CompileOptions, seed *CompiledSegment) (*CompiledSegment, error) {
	nCh := opts.Setup.NumChannels()
	out := &CompiledSegment{
		Name:          qs.Name,
		NumChannels:   nCh,
		BufferSamples: qs.BufferSamples,
		Interleaved:   make([]int16, qs.BufferSamples*nCh),
		EndPhase:      make([][]float64, nCh),
		StepLoop:      qs.StepLoop,
		TriggerGated:  qs.TriggerGated,
		Next:          qs.Next,
	}

	// Per-hardware-channel accumulation buffer in volts-scaled float.
	acc := make([]float64, qs.BufferSamples*nCh)

	for _, rc := range qs.Channels {
		hw, ok := opts.Setup.HardwareChannel(rc.Channel)
		if !ok {
			return nil, errors.CompileError(qs.Name, fmt.Errorf(
				"logical channel %q not in physical setup", rc.Channel))
		}
		calib := &opts.Setup.Calibrations[hw]
		endPhases := make([]float64, len(rc.Tones))
		for ti, tone := range rc.Tones {
			if !calib.InRange(tone.FreqHz) {
				return nil, errors.CompileError(qs.Name, fmt.Errorf(
					"tone %g Hz outside calibrated range [%g, %g] of channel %q",
					tone.FreqHz, calib.FreqMinHz, calib.FreqMaxHz, rc.Channel))
			}

			ampMV := calib.DriveScaleMV(tone.FreqHz) * math.Sqrt(math.Max(tone.Power, 0))
			if ampMV > opts.FullScaleMV {
				ampMV = opts.FullScaleMV
			}
			amp := ampMV / opts.FullScaleMV * float64(opts.FullScaleCode)

			phase := tone.PhaseRad
			if seed != nil && hw < len(seed.EndPhase) && ti < len(seed.EndPhase[hw]) {
				phase = seed.EndPhase[hw][ti]
			}
			omega := 2 * math.Pi * tone.FreqHz / fs
			for n := 0; n < qs.BufferSamples; n++ {
				acc[n*nCh+hw] += amp * math.Sin(phase+omega*float64(n))
			}
			endPhases[ti] = math.Mod(phase+omega*float64(qs.BufferSamples), 2*math.Pi)
		}
		out.EndPhase[hw] = endPhases
	}

	limit := float64(opts.FullScaleCode)
	for i, v := range acc {
		if v > limit {
			v = limit
		} else if v < -limit {
			v = -limit
		}
		out.Interleaved[i] = int16(math.Round(v))
	}
	return out, nil
}
