// Package setup describes what each AWG output channel is physically wired
// to: the logical-to-hardware channel mapping and the per-channel optical
// calibration of the deflector driven by that output.
//
// A PhysicalSetup is looked up once, by profile id, when the driver is
// constructed and is never mutated afterwards.
package setup

import (
	"fmt"
	"sort"

	"spectrum-awg-host/pkg/errors"
)

// ChannelCalibration holds the fitted sin^2 AOD response of one hardware
// channel. The polynomial coefficients are stored highest order first, the
// way the calibration fitting tool emits them. The driver core treats this
// as opaque; only the synthesis pipeline evaluates it.
type ChannelCalibration struct {
	// GPolyHighToLow maps normalized frequency to diffraction efficiency.
	GPolyHighToLow []float64 `yaml:"g_poly_high_to_low"`

	// V0APolyHighToLow maps normalized frequency to the drive amplitude
	// scale of the sin^2 response, in mV.
	V0APolyHighToLow []float64 `yaml:"v0_a_poly_high_to_low"`

	// FreqMinHz and FreqMaxHz bound the frequency range the fit is valid
	// over. Tones outside this range are a compile error.
	FreqMinHz float64 `yaml:"freq_min_hz"`
	FreqMaxHz float64 `yaml:"freq_max_hz"`

	// Traceability records the measurement file the fit came from.
	Traceability string `yaml:"traceability_string"`

	// Numerical guards used by the inverse sin^2 evaluation.
	MinG    float64 `yaml:"min_g"`
	MinV0Sq float64 `yaml:"min_v0_sq"`
	YEps    float64 `yaml:"y_eps"`
}

// InRange reports whether freqHz lies inside the calibrated range.
func (c *ChannelCalibration) InRange(freqHz float64) bool {
	return freqHz >= c.FreqMinHz && freqHz <= c.FreqMaxHz
}

// normalize maps freqHz onto [-1, 1] across the calibrated range, the
// domain the polynomials were fitted over.
func (c *ChannelCalibration) normalize(freqHz float64) float64 {
	span := c.FreqMaxHz - c.FreqMinHz
	if span <= 0 {
		return 0
	}
	return 2*(freqHz-c.FreqMinHz)/span - 1
}

// evalPoly evaluates a highest-order-first polynomial at x (Horner).
func evalPoly(coeffs []float64, x float64) float64 {
	var acc float64
	for _, c := range coeffs {
		acc = acc*x + c
	}
	return acc
}

// Efficiency returns the fitted diffraction efficiency at freqHz, clamped
// below by MinG.
func (c *ChannelCalibration) Efficiency(freqHz float64) float64 {
	g := evalPoly(c.GPolyHighToLow, c.normalize(freqHz))
	if g < c.MinG {
		return c.MinG
	}
	return g
}

// DriveScaleMV returns the fitted drive amplitude scale (mV) at freqHz.
func (c *ChannelCalibration) DriveScaleMV(freqHz float64) float64 {
	return evalPoly(c.V0APolyHighToLow, c.normalize(freqHz))
}

// PhysicalSetup is an immutable description of the wiring and calibration
// of one AWG card. Shared by reference for the driver's lifetime.
type PhysicalSetup struct {
	// LogicalToHardware maps logical channel names ("H", "V") to hardware
	// channel indices. Indices must be 0..N-1 with no gaps; the driver
	// enables exactly the first N hardware channels.
	LogicalToHardware map[string]int `yaml:"logical_to_hardware_map"`

	// Calibrations is indexed by hardware channel.
	Calibrations []ChannelCalibration `yaml:"channel_calibrations"`
}

// NumChannels returns the number of hardware channels in use.
func (s *PhysicalSetup) NumChannels() int {
	return len(s.Calibrations)
}

// HardwareChannel resolves a logical channel name to its hardware index.
func (s *PhysicalSetup) HardwareChannel(logical string) (int, bool) {
	hw, ok := s.LogicalToHardware[logical]
	return hw, ok
}

// LogicalChannels returns the logical channel names in hardware order.
func (s *PhysicalSetup) LogicalChannels() []string {
	names := make([]string, 0, len(s.LogicalToHardware))
	for name := range s.LogicalToHardware {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		return s.LogicalToHardware[names[i]] < s.LogicalToHardware[names[j]]
	})
	return names
}

// Validate checks internal consistency of a profile.
func (s *PhysicalSetup) Validate(profile string) error {
	if len(s.Calibrations) == 0 {
		return errors.ConfigValidationError(profile, "no channel calibrations")
	}
	if len(s.LogicalToHardware) != len(s.Calibrations) {
		return errors.ConfigValidationError(profile, fmt.Sprintf(
			"%d logical channels mapped but %d calibrations",
			len(s.LogicalToHardware), len(s.Calibrations)))
	}
	seen := make(map[int]string, len(s.LogicalToHardware))
	for name, hw := range s.LogicalToHardware {
		if hw < 0 || hw >= len(s.Calibrations) {
			return errors.ConfigValidationError(profile, fmt.Sprintf(
				"channel %q maps to hardware index %d, outside 0..%d",
				name, hw, len(s.Calibrations)-1))
		}
		if prev, dup := seen[hw]; dup {
			return errors.ConfigValidationError(profile, fmt.Sprintf(
				"channels %q and %q both map to hardware index %d", prev, name, hw))
		}
		seen[hw] = name
	}
	for i := range s.Calibrations {
		c := &s.Calibrations[i]
		if c.FreqMaxHz <= c.FreqMinHz {
			return errors.ConfigValidationError(profile, fmt.Sprintf(
				"calibration %d: empty frequency range [%g, %g]", i, c.FreqMinHz, c.FreqMaxHz))
		}
		if len(c.GPolyHighToLow) == 0 || len(c.V0APolyHighToLow) == 0 {
			return errors.ConfigValidationError(profile, fmt.Sprintf(
				"calibration %d: missing polynomial coefficients", i))
		}
	}
	return nil
}
