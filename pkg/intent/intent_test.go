package intent

import (
	"testing"

	"spectrum-awg-host/pkg/errors"
)

func sampleProgram() *Program {
	return &Program{
		Name: "sample",
		Definitions: map[string][]Tone{
			"ladder": {
				{FreqHz: 98e6, Power: 0.4},
				{FreqHz: 100e6, Power: 0.4},
				{FreqHz: 102e6, Power: 0.4},
				{FreqHz: 104e6, Power: 0.4},
			},
		},
		Segments: []Segment{
			{
				Name:      "static",
				DurationS: 200e-6,
				Loop:      1,
				Loopable:  true,
				Ops: []ChannelOp{
					{Channel: "H", Kind: OpTones, Tones: []Tone{{FreqHz: 100e6, Power: 0.5}}},
				},
			},
			{
				Name:         "rearrange",
				DurationS:    220e-6,
				Loop:         1,
				TriggerGated: true,
				Next:         "static",
				Ops: []ChannelOp{
					{Channel: "H", Kind: OpRemap, Definition: "ladder", SrcIndices: []int{0, 2}},
				},
			},
		},
	}
}

func TestDigestDeterministic(t *testing.T) {
	a := sampleProgram()
	b := sampleProgram()
	if a.Digest() != b.Digest() {
		t.Fatal("structurally equal programs produced different digests")
	}
	if len(a.Digest()) != 64 {
		t.Fatalf("digest length %d, want 64 hex characters", len(a.Digest()))
	}
}

func TestDigestSensitivity(t *testing.T) {
	base := sampleProgram().Digest()
	cases := map[string]func(*Program){
		"tone frequency": func(p *Program) { p.Segments[0].Ops[0].Tones[0].FreqHz += 1 },
		"tone power":     func(p *Program) { p.Segments[0].Ops[0].Tones[0].Power += 1e-6 },
		"duration":       func(p *Program) { p.Segments[1].DurationS *= 2 },
		"source indices": func(p *Program) { p.Segments[1].Ops[0].SrcIndices = []int{1, 3} },
		"definition":     func(p *Program) { p.Definitions["ladder"][3].FreqHz += 1 },
		"segment name":   func(p *Program) { p.Segments[0].Name = "hold" },
	}
	for name, mutate := range cases {
		p := sampleProgram()
		mutate(p)
		if p.Digest() == base {
			t.Errorf("%s change not reflected in digest", name)
		}
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	p := sampleProgram()
	data, err := p.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := Decode(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Digest() != p.Digest() {
		t.Fatal("digest changed across encode/decode")
	}
}

func TestDecodeRejectsInvalid(t *testing.T) {
	if _, err := Decode([]byte{0xff, 0x00}); err == nil {
		t.Fatal("garbage bytes decoded without error")
	}
	p := sampleProgram()
	p.Segments[0].DurationS = 0
	data, err := p.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := Decode(data); err == nil {
		t.Fatal("invalid program decoded without error")
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Program)
	}{
		{"duplicate segment name", func(p *Program) { p.Segments[1].Name = "static" }},
		{"non-positive duration", func(p *Program) { p.Segments[0].DurationS = 0 }},
		{"zero loop", func(p *Program) { p.Segments[0].Loop = 0 }},
		{"unknown definition", func(p *Program) { p.Segments[1].Ops[0].Definition = "nope" }},
		{"source index out of range", func(p *Program) { p.Segments[1].Ops[0].SrcIndices = []int{0, 9} }},
		{"unknown next target", func(p *Program) { p.Segments[1].Next = "nope" }},
	}
	for _, tc := range cases {
		p := sampleProgram()
		tc.mutate(p)
		if err := p.Validate(); err == nil {
			t.Errorf("%s: validation passed", tc.name)
		}
	}
	if err := sampleProgram().Validate(); err != nil {
		t.Fatalf("valid program rejected: %v", err)
	}
}

func TestWithRemapSrcDoesNotMutateReceiver(t *testing.T) {
	p := sampleProgram()
	before := p.Digest()
	patched, err := p.WithRemapSrc("rearrange", "H", []int{1, 3})
	if err != nil {
		t.Fatalf("patch: %v", err)
	}
	if p.Digest() != before {
		t.Fatal("patch mutated the receiver")
	}
	if patched.Digest() == before {
		t.Fatal("patch had no effect on the copy")
	}
	got := patched.Segments[1].Ops[0].SrcIndices
	if len(got) != 2 || got[0] != 1 || got[1] != 3 {
		t.Fatalf("patched indices = %v, want [1 3]", got)
	}
}

func TestWithRemapSrcErrors(t *testing.T) {
	p := sampleProgram()
	if _, err := p.WithRemapSrc("nope", "H", []int{1, 3}); !errors.Is(err, errors.ErrLookupSegment) {
		t.Errorf("unknown segment: got %v", err)
	}
	if _, err := p.WithRemapSrc("static", "H", []int{1, 3}); !errors.Is(err, errors.ErrLookupOp) {
		t.Errorf("no remap op: got %v", err)
	}
	if _, err := p.WithRemapSrc("rearrange", "V", []int{1, 3}); !errors.Is(err, errors.ErrLookupOp) {
		t.Errorf("wrong channel: got %v", err)
	}
	if _, err := p.WithRemapSrc("rearrange", "H", []int{1, 2, 3}); !errors.Is(err, errors.ErrShapeMismatch) {
		t.Errorf("length mismatch: got %v", err)
	}
	if _, err := p.WithRemapSrc("rearrange", "H", []int{1, 7}); !errors.Is(err, errors.ErrShapeMismatch) {
		t.Errorf("index out of definition: got %v", err)
	}
}

func TestPresets(t *testing.T) {
	for _, name := range []string{"rt_spec_analyser_rearr_hotswap", "spec_analyser_test"} {
		p, err := Preset(name)
		if err != nil {
			t.Fatalf("preset %q: %v", name, err)
		}
		if err := p.Validate(); err != nil {
			t.Errorf("preset %q invalid: %v", name, err)
		}
	}
	if _, err := Preset("nope"); err == nil {
		t.Fatal("unknown preset accepted")
	}
}
