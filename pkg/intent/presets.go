package intent

import "fmt"

// Presets used by the test client and the driver tests, standing in for
// experiment-side program builders. Frequencies sit inside the calibrated
// range of the built-in setup profiles.

// PresetRearrangeHotswap builds the two-segment program used for
// rearrangement testing: a static trap ladder plus a rearrange segment
// whose remap operation is the hotswap target.
func PresetRearrangeHotswap() *Program {
	ladder := make([]Tone, 10)
	for i := range ladder {
		ladder[i] = Tone{
			FreqHz: 98e6 + float64(i)*2e6,
			Power:  0.08,
		}
	}
	return &Program{
		Name: "rt_spec_analyser_rearr_hotswap",
		Definitions: map[string][]Tone{
			"trap_ladder": ladder,
		},
		Segments: []Segment{
			{
				Name:      "static",
				DurationS: 200e-6,
				Loop:      1,
				Loopable:  true,
				Ops: []ChannelOp{
					{Channel: "H", Kind: OpTones, Tones: []Tone{
						{FreqHz: 100e6, Power: 0.25},
						{FreqHz: 104e6, Power: 0.25},
					}},
				},
			},
			{
				Name:         "rearrange",
				DurationS:    220e-6,
				Loop:         1,
				TriggerGated: true,
				Next:         "static",
				Ops: []ChannelOp{
					{
						Channel:    "H",
						Kind:       OpRemap,
						Definition: "trap_ladder",
						SrcIndices: []int{0, 3, 5, 8},
					},
				},
			},
		},
	}
}

// PresetSpectrumTest builds a single looping segment with a dense comb,
// used for spectrum analyser checks of a connected card.
func PresetSpectrumTest() *Program {
	tones := make([]Tone, 8)
	for i := range tones {
		tones[i] = Tone{
			FreqHz: 96e6 + float64(i)*3e6,
			Power:  0.1,
		}
	}
	return &Program{
		Name: "spec_analyser_test",
		Segments: []Segment{
			{
				Name:      "comb",
				DurationS: 500e-6,
				Loop:      1,
				Loopable:  true,
				Ops: []ChannelOp{
					{Channel: "H", Kind: OpTones, Tones: tones},
				},
			},
		},
	}
}

// Preset returns a named preset program.
func Preset(name string) (*Program, error) {
	switch name {
	case "rt_spec_analyser_rearr_hotswap":
		return PresetRearrangeHotswap(), nil
	case "spec_analyser_test":
		return PresetSpectrumTest(), nil
	default:
		return nil, fmt.Errorf("unknown preset %q", name)
	}
}
