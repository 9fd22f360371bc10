package setup

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"spectrum-awg-host/pkg/errors"
)

func TestBuiltinProfiles(t *testing.T) {
	r := NewRegistry()
	for _, id := range []string{"AWG_817_CALIB", "AWG_938_CALIB", "AWG_1145_CALIB"} {
		s, err := r.Lookup(id)
		if err != nil {
			t.Fatalf("lookup %s: %v", id, err)
		}
		if err := s.Validate(id); err != nil {
			t.Errorf("builtin %s invalid: %v", id, err)
		}
	}
	if s, _ := r.Lookup("AWG_817_CALIB"); s.NumChannels() != 2 {
		t.Errorf("AWG_817_CALIB has %d channels, want 2", s.NumChannels())
	}
}

func TestLookupUnknownProfile(t *testing.T) {
	r := NewRegistry()
	_, err := r.Lookup("NOPE")
	if !errors.Is(err, errors.ErrConfigProfile) {
		t.Fatalf("got %v, want CONFIG_PROFILE", err)
	}
	// The error names the valid choices.
	for _, id := range r.Profiles() {
		if msg := err.Error(); !contains(msg, id) {
			t.Errorf("error %q does not mention %s", msg, id)
		}
	}
}

func contains(s, sub string) bool {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return true
		}
	}
	return false
}

func validSetup() *PhysicalSetup {
	return &PhysicalSetup{
		LogicalToHardware: map[string]int{"H": 0, "V": 1},
		Calibrations: []ChannelCalibration{
			{GPolyHighToLow: []float64{0.8}, V0APolyHighToLow: []float64{150}, FreqMinHz: 90e6, FreqMaxHz: 120e6},
			{GPolyHighToLow: []float64{0.7}, V0APolyHighToLow: []float64{140}, FreqMinHz: 90e6, FreqMaxHz: 120e6},
		},
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*PhysicalSetup)
	}{
		{"no calibrations", func(s *PhysicalSetup) { s.Calibrations = nil }},
		{"channel count mismatch", func(s *PhysicalSetup) { delete(s.LogicalToHardware, "V") }},
		{"index out of range", func(s *PhysicalSetup) { s.LogicalToHardware["V"] = 5 }},
		{"duplicate hardware index", func(s *PhysicalSetup) { s.LogicalToHardware["V"] = 0 }},
		{"empty frequency range", func(s *PhysicalSetup) { s.Calibrations[0].FreqMaxHz = s.Calibrations[0].FreqMinHz }},
		{"missing coefficients", func(s *PhysicalSetup) { s.Calibrations[1].GPolyHighToLow = nil }},
	}
	for _, tc := range cases {
		s := validSetup()
		tc.mutate(s)
		if err := s.Validate("test"); !errors.Is(err, errors.ErrConfigValidation) {
			t.Errorf("%s: got %v, want CONFIG_VALIDATION", tc.name, err)
		}
	}
	if err := validSetup().Validate("test"); err != nil {
		t.Fatalf("valid setup rejected: %v", err)
	}
}

func TestRegisterRejectsInvalid(t *testing.T) {
	r := NewRegistry()
	bad := validSetup()
	bad.Calibrations = nil
	if err := r.Register("BAD", bad); err == nil {
		t.Fatal("invalid profile registered")
	}
	if _, err := r.Lookup("BAD"); err == nil {
		t.Fatal("invalid profile is resolvable")
	}
}

func TestLogicalChannelsOrdered(t *testing.T) {
	s := validSetup()
	got := s.LogicalChannels()
	if len(got) != 2 || got[0] != "H" || got[1] != "V" {
		t.Fatalf("channels = %v, want [H V] in hardware order", got)
	}
}

func TestLoadFile(t *testing.T) {
	yamlText := `
EXTRA_CALIB:
  logical_to_hardware_map:
    H: 0
  channel_calibrations:
    - g_poly_high_to_low: [0.5, 0.1]
      v0_a_poly_high_to_low: [120.0]
      freq_min_hz: 95.0e6
      freq_max_hz: 118.0e6
      traceability_string: "fit from bench run 2026-03-12"
      min_g: 1.0e-3
      min_v0_sq: 1.0e-6
      y_eps: 1.0e-9
`
	path := filepath.Join(t.TempDir(), "profiles.yaml")
	if err := os.WriteFile(path, []byte(yamlText), 0o644); err != nil {
		t.Fatal(err)
	}
	r := NewRegistry()
	if err := r.LoadFile(path); err != nil {
		t.Fatalf("load: %v", err)
	}
	s, err := r.Lookup("EXTRA_CALIB")
	if err != nil {
		t.Fatalf("lookup loaded profile: %v", err)
	}
	c := &s.Calibrations[0]
	if !c.InRange(100e6) || c.InRange(90e6) {
		t.Error("loaded frequency range wrong")
	}
	// Midband: normalized x for 106.5 MHz is 0, so the polynomials
	// evaluate to their constant terms.
	mid := (c.FreqMinHz + c.FreqMaxHz) / 2
	if g := c.Efficiency(mid); math.Abs(g-0.1) > 1e-12 {
		t.Errorf("efficiency at midband = %g, want 0.1", g)
	}
	if v := c.DriveScaleMV(mid); math.Abs(v-120) > 1e-12 {
		t.Errorf("drive scale at midband = %g, want 120", v)
	}
}

func TestEfficiencyClampedBelow(t *testing.T) {
	c := &ChannelCalibration{
		GPolyHighToLow:   []float64{-1},
		V0APolyHighToLow: []float64{100},
		FreqMinHz:        90e6,
		FreqMaxHz:        120e6,
		MinG:             1e-3,
	}
	if g := c.Efficiency(100e6); g != 1e-3 {
		t.Fatalf("efficiency = %g, want clamped to 1e-3", g)
	}
}
