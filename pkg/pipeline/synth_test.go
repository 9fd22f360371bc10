package pipeline

import (
	"math"
	"testing"

	"spectrum-awg-host/pkg/errors"
	"spectrum-awg-host/pkg/intent"
	"spectrum-awg-host/pkg/setup"
)

func flatSetup() *setup.PhysicalSetup {
	return &setup.PhysicalSetup{
		LogicalToHardware: map[string]int{"H": 0},
		Calibrations: []setup.ChannelCalibration{
			{
				GPolyHighToLow:   []float64{0.8},
				V0APolyHighToLow: []float64{150},
				FreqMinHz:        50e3,
				FreqMaxHz:        500e3,
				MinG:             1e-3,
				MinV0Sq:          1e-6,
				YEps:             1e-9,
			},
		},
	}
}

func oneToneProgram(durationS float64, loopable bool) *intent.Program {
	return &intent.Program{
		Name: "single",
		Segments: []intent.Segment{
			{
				Name:      "seg",
				DurationS: durationS,
				Loop:      1,
				Loopable:  loopable,
				Ops: []intent.ChannelOp{
					{Channel: "H", Kind: intent.OpTones, Tones: []intent.Tone{{FreqHz: 100e3, Power: 0.5}}},
				},
			},
		},
	}
}

func TestResolveRemapFlattening(t *testing.T) {
	p := &intent.Program{
		Name: "remap",
		Definitions: map[string][]intent.Tone{
			"ladder": {
				{FreqHz: 100e3, Power: 0.1},
				{FreqHz: 200e3, Power: 0.2},
				{FreqHz: 300e3, Power: 0.3},
				{FreqHz: 400e3, Power: 0.4},
			},
		},
		Segments: []intent.Segment{
			{
				Name:      "seg",
				DurationS: 100e-6,
				Loop:      1,
				Ops: []intent.ChannelOp{
					{Channel: "H", Kind: intent.OpRemap, Definition: "ladder", SrcIndices: []int{3, 1}},
				},
			},
		},
	}
	r, err := NewSynth().Resolve(p, 1e6)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if r.Segments[0].Samples != 100 {
		t.Errorf("samples = %d, want 100", r.Segments[0].Samples)
	}
	tones := r.Segments[0].Channels[0].Tones
	if len(tones) != 2 {
		t.Fatalf("flattened tones = %d, want 2", len(tones))
	}
	if tones[0].FreqHz != 400e3 || tones[1].FreqHz != 200e3 {
		t.Errorf("tones = %+v, want def[3] then def[1]", tones)
	}
}

func TestResolveRejectsInvalid(t *testing.T) {
	if _, err := NewSynth().Resolve(oneToneProgram(100e-6, false), 0); !errors.Is(err, errors.ErrPipelineResolve) {
		t.Errorf("zero rate: got %v", err)
	}
	if _, err := NewSynth().Resolve(oneToneProgram(-1, false), 1e6); !errors.Is(err, errors.ErrPipelineResolve) {
		t.Errorf("negative duration: got %v", err)
	}
	// Sub-sample duration resolves to zero samples.
	if _, err := NewSynth().Resolve(oneToneProgram(1e-9, false), 1e6); !errors.Is(err, errors.ErrPipelineResolve) {
		t.Errorf("sub-sample duration: got %v", err)
	}
}

func TestQuantizePadMode(t *testing.T) {
	s := NewSynth()
	// 100 us at 1 MHz is 100 samples; the 40 us quantum is 40 samples,
	// rounded up to 64 for step granularity; 100 samples pad to 2 quanta.
	r, err := s.Resolve(oneToneProgram(100e-6, false), 1e6)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	q, err := s.Quantize(r, 40e-6)
	if err != nil {
		t.Fatalf("quantize: %v", err)
	}
	if q.QuantumSamples != 64 {
		t.Fatalf("quantum = %d samples, want 64", q.QuantumSamples)
	}
	seg := q.Segments[0]
	if seg.Mode != QuantPad {
		t.Fatalf("mode = %s, want pad", seg.Mode)
	}
	if seg.BufferSamples != 128 {
		t.Errorf("buffer = %d samples, want 128", seg.BufferSamples)
	}
	if seg.StepLoop != 1 {
		t.Errorf("step loop = %d, want 1", seg.StepLoop)
	}
	if seg.BufferSamples%StepSamples != 0 {
		t.Errorf("buffer %d not a step multiple", seg.BufferSamples)
	}
}

func TestQuantizeLoopMode(t *testing.T) {
	s := NewSynth()
	// A loopable 320 us hold at 1 MHz spans 5 quanta; the buffer shrinks
	// to one quantum with the loop count multiplied.
	r, err := s.Resolve(oneToneProgram(320e-6, true), 1e6)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	q, err := s.Quantize(r, 40e-6)
	if err != nil {
		t.Fatalf("quantize: %v", err)
	}
	seg := q.Segments[0]
	if seg.Mode != QuantLoop {
		t.Fatalf("mode = %s, want loop", seg.Mode)
	}
	if seg.BufferSamples != q.QuantumSamples {
		t.Errorf("buffer = %d, want one quantum (%d)", seg.BufferSamples, q.QuantumSamples)
	}
	if seg.StepLoop != 5 {
		t.Errorf("step loop = %d, want 5", seg.StepLoop)
	}
}

func TestQuantizeShortLoopableStaysPadded(t *testing.T) {
	s := NewSynth()
	// One quantum or less gains nothing from looping.
	r, err := s.Resolve(oneToneProgram(30e-6, true), 1e6)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	q, err := s.Quantize(r, 40e-6)
	if err != nil {
		t.Fatalf("quantize: %v", err)
	}
	if q.Segments[0].Mode != QuantPad {
		t.Errorf("mode = %s, want pad for a single-quantum segment", q.Segments[0].Mode)
	}
}

func compileOne(t *testing.T, seed *CompiledSet) *CompiledSet {
	t.Helper()
	s := NewSynth()
	r, err := s.Resolve(oneToneProgram(100e-6, false), 1e6)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	q, err := s.Quantize(r, 40e-6)
	if err != nil {
		t.Fatalf("quantize: %v", err)
	}
	set, err := s.Compile(q, CompileOptions{
		Setup:         flatSetup(),
		FullScaleMV:   282,
		FullScaleCode: 32767,
		Seed:          seed,
	})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	return set
}

func TestCompilePhaseContinuity(t *testing.T) {
	first := compileOne(t, nil)
	second := compileOne(t, first)

	seg := first.Segments[0]
	n := seg.BufferSamples

	// Concatenating the two buffers must equal one uninterrupted sine of
	// 2n samples: the seeded compile picks up exactly where the first
	// buffer's phase left off.
	calib := &flatSetup().Calibrations[0]
	ampMV := calib.DriveScaleMV(100e3) * math.Sqrt(0.5)
	amp := ampMV / 282 * 32767
	omega := 2 * math.Pi * 100e3 / 1e6
	for k := 0; k < 2*n; k++ {
		want := amp * math.Sin(omega*float64(k))
		var got int16
		if k < n {
			got = first.Segments[0].Interleaved[k]
		} else {
			got = second.Segments[0].Interleaved[k-n]
		}
		// One code of slack for rounding of the wrapped phase.
		if math.Abs(float64(got)-want) > 1 {
			t.Fatalf("sample %d = %d, want %.1f (phase discontinuity)", k, got, want)
		}
	}
}

func TestCompileEndPhaseWraps(t *testing.T) {
	set := compileOne(t, nil)
	end := set.Segments[0].EndPhase[0][0]
	if end < 0 || end >= 2*math.Pi {
		t.Fatalf("end phase %g outside [0, 2pi)", end)
	}
}

func TestCompilePartialRequiresSeed(t *testing.T) {
	s := NewSynth()
	p := &intent.Program{
		Name: "two",
		Segments: []intent.Segment{
			oneToneProgram(100e-6, false).Segments[0],
			{
				Name:      "other",
				DurationS: 100e-6,
				Loop:      1,
				Ops: []intent.ChannelOp{
					{Channel: "H", Kind: intent.OpTones, Tones: []intent.Tone{{FreqHz: 200e3, Power: 0.5}}},
				},
			},
		},
	}
	r, err := s.Resolve(p, 1e6)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	q, err := s.Quantize(r, 40e-6)
	if err != nil {
		t.Fatalf("quantize: %v", err)
	}
	opts := CompileOptions{
		Setup:          flatSetup(),
		FullScaleMV:    282,
		FullScaleCode:  32767,
		SegmentIndices: []int{1},
	}
	if _, err := s.Compile(q, opts); !errors.Is(err, errors.ErrPipelineCompile) {
		t.Fatalf("partial compile without seed: got %v", err)
	}

	full, err := s.Compile(q, CompileOptions{Setup: opts.Setup, FullScaleMV: 282, FullScaleCode: 32767})
	if err != nil {
		t.Fatalf("full compile: %v", err)
	}
	opts.Seed = full
	partial, err := s.Compile(q, opts)
	if err != nil {
		t.Fatalf("partial compile: %v", err)
	}
	// The unselected segment is carried over from the seed untouched.
	if partial.Segments[0] != full.Segments[0] {
		t.Error("seed segment not carried over by reference")
	}
	if partial.Segments[1] == full.Segments[1] {
		t.Error("selected segment not recompiled")
	}
}

func TestCompileRejectsOutOfRangeTone(t *testing.T) {
	s := NewSynth()
	p := oneToneProgram(100e-6, false)
	p.Segments[0].Ops[0].Tones[0].FreqHz = 1e6 // calibrated up to 500 kHz
	r, err := s.Resolve(p, 1e7)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	q, err := s.Quantize(r, 40e-6)
	if err != nil {
		t.Fatalf("quantize: %v", err)
	}
	_, err = s.Compile(q, CompileOptions{Setup: flatSetup(), FullScaleMV: 282, FullScaleCode: 32767})
	if !errors.Is(err, errors.ErrPipelineCompile) {
		t.Fatalf("got %v, want PIPELINE_COMPILE", err)
	}
}

func TestCompileRejectsUnknownChannel(t *testing.T) {
	s := NewSynth()
	p := oneToneProgram(100e-6, false)
	p.Segments[0].Ops[0].Channel = "V"
	r, err := s.Resolve(p, 1e6)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	q, err := s.Quantize(r, 40e-6)
	if err != nil {
		t.Fatalf("quantize: %v", err)
	}
	_, err = s.Compile(q, CompileOptions{Setup: flatSetup(), FullScaleMV: 282, FullScaleCode: 32767})
	if !errors.Is(err, errors.ErrPipelineCompile) {
		t.Fatalf("got %v, want PIPELINE_COMPILE", err)
	}
}

func TestCompileClipsToFullScale(t *testing.T) {
	s := NewSynth()
	p := oneToneProgram(100e-6, false)
	// Many in-phase copies of the same tone drive the accumulator far
	// past full scale.
	tone := p.Segments[0].Ops[0].Tones[0]
	for i := 0; i < 20; i++ {
		p.Segments[0].Ops[0].Tones = append(p.Segments[0].Ops[0].Tones, tone)
	}
	r, err := s.Resolve(p, 1e6)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	q, err := s.Quantize(r, 40e-6)
	if err != nil {
		t.Fatalf("quantize: %v", err)
	}
	set, err := s.Compile(q, CompileOptions{Setup: flatSetup(), FullScaleMV: 282, FullScaleCode: 32767})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	for i, v := range set.Segments[0].Interleaved {
		if v > 32767 || v < -32767 {
			t.Fatalf("sample %d = %d outside full scale", i, v)
		}
	}
}
