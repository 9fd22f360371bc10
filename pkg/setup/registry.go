package setup

import (
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"spectrum-awg-host/pkg/errors"
)

// Registry maps calibration profile ids to physical setups. The built-in
// profiles below were fitted from the measurement files named in their
// traceability strings; extra profiles can be loaded from YAML files.
type Registry struct {
	profiles map[string]*PhysicalSetup
}

// NewRegistry returns a registry containing only the built-in profiles.
func NewRegistry() *Registry {
	r := &Registry{profiles: make(map[string]*PhysicalSetup)}
	for id, s := range builtinProfiles {
		r.profiles[id] = s
	}
	return r
}

// Lookup resolves a profile id. Unknown ids are a hard configuration
// error carrying the list of valid options.
func (r *Registry) Lookup(profile string) (*PhysicalSetup, error) {
	s, ok := r.profiles[profile]
	if !ok {
		return nil, errors.ConfigProfileError(profile, r.Profiles())
	}
	return s, nil
}

// Profiles returns the sorted list of known profile ids.
func (r *Registry) Profiles() []string {
	ids := make([]string, 0, len(r.profiles))
	for id := range r.profiles {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Register adds or replaces a profile after validating it.
func (r *Registry) Register(id string, s *PhysicalSetup) error {
	if err := s.Validate(id); err != nil {
		return err
	}
	r.profiles[id] = s
	return nil
}

// LoadFile merges profiles from a YAML file into the registry. The file
// holds a map of profile id to setup, in the same shape as the built-ins.
func (r *Registry) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.ConfigOptionError("setup-file", err.Error())
	}
	var loaded map[string]*PhysicalSetup
	if err := yaml.Unmarshal(data, &loaded); err != nil {
		return errors.ConfigOptionError("setup-file", "parse "+path+": "+err.Error())
	}
	for id, s := range loaded {
		if err := r.Register(id, s); err != nil {
			return err
		}
	}
	return nil
}

// Built-in profiles. Coefficients are highest order first, as emitted by
// the calibration fitting tool.
var builtinProfiles = map[string]*PhysicalSetup{
	"AWG_817_CALIB": {
		LogicalToHardware: map[string]int{"H": 0, "V": 1},
		Calibrations: []ChannelCalibration{
			{
				GPolyHighToLow:   []float64{0.4090989912253647, 0.2018618742515838, -0.9215927915167634, -0.4412476500516808, -0.1906036583947077, -0.03972136086542679, 1.177618710972786},
				V0APolyHighToLow: []float64{-206.7523109846387, -51.19251677219333, 328.8140960804296, 66.80024091181865, -142.5622869379855, -11.97940312739627, 199.7834400057718},
				FreqMinHz:        80e6,
				FreqMaxHz:        120e6,
				Traceability:     "calibrations/814_H_calFile_17.02.2022_0=0.txt",
				MinG:             1e-12,
				MinV0Sq:          1e-9,
				YEps:             1e-6,
			},
			{
				GPolyHighToLow:   []float64{0.1476077059082392, -0.03982795249054526, -0.6737338878355211, -0.02778152984507814, 0.3370885748323629, 0.02326850145597811, 0.9935230408830742},
				V0APolyHighToLow: []float64{-155.0879927769708, -49.22556216836927, 253.8100155943833, 63.78042793848495, -98.59810691776225, -12.31066136792399, 151.8124648021865},
				FreqMinHz:        80e6,
				FreqMaxHz:        120e6,
				Traceability:     "calibrations/814_V_calFile_17.02.2022_0=0.txt",
				MinG:             1e-12,
				MinV0Sq:          1e-9,
				YEps:             1e-6,
			},
		},
	},
	"AWG_938_CALIB": {
		LogicalToHardware: map[string]int{"H": 0},
		Calibrations: []ChannelCalibration{
			{
				GPolyHighToLow:   []float64{3.538826714549613, 5.312443088870038, -0.04736469375881174, -4.824428845570577, -4.545263097686731, 0.7659317524132674, 2.386968689643068},
				V0APolyHighToLow: []float64{-3904.371247207825, 553.4946879703813, 5822.427228628258, 209.2972708093259, -1189.579569913762, 49.98357276909121, 273.4502137609406},
				FreqMinHz:        90e6,
				FreqMaxHz:        246.5e6,
				Traceability:     "calibrations/AWG1_calibration_22_02_2023_90MHz_255MHz.awgde",
				MinG:             1e-12,
				MinV0Sq:          1e-9,
				YEps:             1e-6,
			},
		},
	},
	"AWG_1145_CALIB": {
		LogicalToHardware: map[string]int{"H": 0},
		Calibrations: []ChannelCalibration{
			{
				GPolyHighToLow:   []float64{-0.8754904123674585, 0.01908417521116575, 2.746368559542769, 0.354430567446119, -3.0483222669169, -0.5073342883236134, 1.384480548700198},
				V0APolyHighToLow: []float64{195.3448675907807, 116.7738888023813, -242.9455379699489, -166.6070725616716, 26.10215046803684, 66.14371171486478, 376.4358129178906},
				FreqMinHz:        85e6,
				FreqMaxHz:        135e6,
				Traceability:     "calibrations/AWG3_calibration_04_10_2024_98MHz_118MHz.awgde",
				MinG:             1e-12,
				MinV0Sq:          1e-9,
				YEps:             1e-6,
			},
		},
	},
}
