// Package awg is the compiler/uploader driver for one Spectrum AWG card
// in sequence replay mode. It owns the card session state machine, the
// digest gate that skips redundant compiles, the full compile-and-upload
// path and the single-segment hotswap path.
//
// The driver is not safe for concurrent callers; the RPC layer in front
// of it serializes calls. It is re-entrant-safe across sequential calls:
// every exit path leaves the cached compile state either fully valid for
// the program actually resident on the card, or fully cleared.
package awg

import (
	"fmt"
	"strconv"

	"spectrum-awg-host/pkg/errors"
	"spectrum-awg-host/pkg/intent"
	"spectrum-awg-host/pkg/log"
	"spectrum-awg-host/pkg/metrics"
	"spectrum-awg-host/pkg/pipeline"
	"spectrum-awg-host/pkg/setup"
	"spectrum-awg-host/pkg/spcm"
)

const (
	// DefaultSegmentQuantumS is the segment time quantum used by the
	// quantizer.
	DefaultSegmentQuantumS = 40e-6

	// DefaultCardMaxMV is the default output amplitude.
	DefaultCardMaxMV = 282

	// SimFullScaleCode is the conservative full-scale code used in
	// simulation mode, where no card can be asked for the exact value.
	SimFullScaleCode = 1<<15 - 1

	// Configure-once register values.
	outputLoadOhm      = 50
	triggerLevelMV     = 800
	triggerDelaySample = 0
)

// State is the card session state. Transitions only move forward within
// one connection (Disconnected -> Connected -> Configured -> Uploaded)
// and fall back on rollback or close.
type State int

const (
	StateDisconnected State = iota
	StateConnected
	StateConfigured
	StateUploaded
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnected:
		return "connected"
	case StateConfigured:
		return "configured"
	case StateUploaded:
		return "uploaded"
	default:
		return "unknown"
	}
}

// Config holds the construction parameters of a Driver.
type Config struct {
	SerialNumber int
	SampleRateHz float64

	// CardMaxMV is the output amplitude in mV (default 282).
	CardMaxMV int

	// SetupProfile selects the physical setup from the registry.
	SetupProfile string

	// Simulation exercises the compile path without any hardware.
	Simulation bool

	// SegmentQuantumS overrides the segment time quantum (default 40 us).
	SegmentQuantumS float64
}

// compileState bundles everything needed to hotswap without recompiling
// the whole program. It is replaced as a single value on every successful
// transition and cleared as a whole on rollback; no field is ever updated
// on its own.
type compileState struct {
	hash        string
	program     *intent.Program
	quantized   *pipeline.Quantized
	compiled    *pipeline.CompiledSet
	indexByName map[string]int

	// session is nil in simulation mode, where nothing is card-resident.
	session *UploadSession
}

// Driver manages the compile/upload lifecycle for one card.
type Driver struct {
	cfg           Config
	physicalSetup *setup.PhysicalSetup
	pipe          pipeline.Pipeline
	opener        spcm.Opener
	m             *metrics.AWGMetrics
	logger        *log.Logger

	card  spcm.Card
	lock  *spcm.CardLock
	state State

	// cached is non-nil exactly when a compile has succeeded and the
	// digest it carries describes what is resident (or, in simulation,
	// what would be resident).
	cached *compileState
}

// New constructs a driver. The setup profile is resolved immediately;
// an unknown profile is a hard configuration error.
func New(cfg Config, registry *setup.Registry, pipe pipeline.Pipeline, opener spcm.Opener, m *metrics.AWGMetrics) (*Driver, error) {
	if cfg.SampleRateHz <= 0 {
		return nil, errors.ConfigOptionError("sample-rate-hz", "must be positive")
	}
	if cfg.CardMaxMV == 0 {
		cfg.CardMaxMV = DefaultCardMaxMV
	}
	if cfg.CardMaxMV < 0 {
		return nil, errors.ConfigOptionError("card-max-mv", "must be positive")
	}
	if cfg.SegmentQuantumS == 0 {
		cfg.SegmentQuantumS = DefaultSegmentQuantumS
	}
	physicalSetup, err := registry.Lookup(cfg.SetupProfile)
	if err != nil {
		return nil, err
	}
	if m == nil {
		m = metrics.NewAWGMetrics()
	}
	return &Driver{
		cfg:           cfg,
		physicalSetup: physicalSetup,
		pipe:          pipe,
		opener:        opener,
		m:             m,
		logger:        log.GetLogger("awg-driver"),
		state:         StateDisconnected,
	}, nil
}

// cardLabels returns the metric labels for this driver's card.
func (d *Driver) cardLabels() metrics.Labels {
	return metrics.Labels{"card": strconv.Itoa(d.cfg.SerialNumber)}
}

// Ping is a liveness check with no side effect.
func (d *Driver) Ping() bool {
	return true
}

// State returns the current session state.
func (d *Driver) State() State {
	return d.state
}

// CurrentHash returns the digest of the program currently resident on the
// card, or "" when unknown.
func (d *Driver) CurrentHash() string {
	if d.cached == nil {
		return ""
	}
	return d.cached.hash
}

// connect returns the open card handle, establishing the connection on
// first use. Idempotent; repeated calls reuse the handle.
func (d *Driver) connect() (spcm.Card, error) {
	if d.card != nil {
		return d.card, nil
	}
	lock, err := spcm.AcquireCardLock(d.cfg.SerialNumber)
	if err != nil {
		return nil, errors.HardwareConnectError(d.cfg.SerialNumber, err)
	}
	card, err := d.opener(d.cfg.SerialNumber)
	if err != nil {
		lock.Release()
		d.m.HardwareErrors.Inc(metrics.Labels{"card": strconv.Itoa(d.cfg.SerialNumber), "op": "connect"})
		return nil, errors.HardwareConnectError(d.cfg.SerialNumber, err)
	}
	d.card = card
	d.lock = lock
	d.state = StateConnected
	d.m.CardConnected.Set(d.cardLabels(), 1)
	d.logger.Info("connected to card SN %d (%s)", d.cfg.SerialNumber, card.ProductName())
	return card, nil
}

// configureOnce applies the one-time register configuration. It is a
// no-op once the connection is configured; re-applying it mid-session can
// glitch the outputs, so the guard is a correctness requirement, not an
// optimization.
func (d *Driver) configureOnce(card spcm.Card) error {
	if d.state >= StateConfigured {
		return nil
	}

	type step struct {
		name string
		call func() error
	}
	nCh := d.physicalSetup.NumChannels()
	steps := []step{
		{"card mode", func() error { return card.SetCardMode(spcm.ModeSequence) }},
		{"channel enable", func() error { return card.EnableChannels(uint32(1<<nCh) - 1) }},
		{"output load", func() error { return card.SetOutputLoadOhm(outputLoadOhm) }},
		{"amplitude", func() error { return card.SetAmplitudeMV(d.cfg.CardMaxMV) }},
		{"stop level", func() error { return card.SetStopLevel(spcm.StopHoldLast) }},
		{"trigger mask", func() error { return card.SetTriggerORMaskExt0() }},
		{"trigger mode", func() error { return card.SetTriggerExt0Mode(spcm.TriggerPositiveEdge) }},
		{"trigger level", func() error { return card.SetTriggerExt0LevelMV(triggerLevelMV) }},
		{"trigger coupling", func() error { return card.SetTriggerExt0Coupling(spcm.CouplingDC) }},
		{"trigger termination", func() error { return card.SetTriggerTermination(true) }},
		{"trigger delay", func() error { return card.SetTriggerDelay(triggerDelaySample) }},
		{"clock mode", func() error { return card.SetClockMode(spcm.ClockInternalPLL) }},
		{"sample rate", func() error { return card.SetSampleRateHz(d.cfg.SampleRateHz) }},
		{"clock output", func() error { return card.SetClockOutput(false) }},
	}
	for _, st := range steps {
		if err := st.call(); err != nil {
			d.m.HardwareErrors.Inc(metrics.Labels{"card": strconv.Itoa(d.cfg.SerialNumber), "op": st.name})
			return errors.HardwareConfigureError(st.name, err)
		}
	}

	d.state = StateConfigured
	d.m.ConfigureCalls.Inc(d.cardLabels())
	d.m.CardConfigured.Set(d.cardLabels(), 1)
	d.logger.Info("card configured: %d channel(s), %d mV, %.0f Hz", nCh, d.cfg.CardMaxMV, d.cfg.SampleRateHz)
	return nil
}

// PrintCardInfo connects if needed, prints product name and status, and
// returns both. Read-only apart from establishing the connection.
func (d *Driver) PrintCardInfo() (product string, status string, err error) {
	if d.cfg.Simulation {
		return "simulation", "no card", nil
	}
	card, err := d.connect()
	if err != nil {
		return "", "", err
	}
	product = card.ProductName()
	status, err = card.Status()
	if err != nil {
		return product, "", errors.HardwareControlError("status", err)
	}
	fmt.Printf("Product: %s, card status: %s\n", product, status)
	return product, status, nil
}

// CurrentStep reads the live sequencer step register.
func (d *Driver) CurrentStep() (int, error) {
	if d.cfg.Simulation {
		return 0, errors.SessionStateError("no sequencer step in simulation mode")
	}
	card, err := d.connect()
	if err != nil {
		return 0, err
	}
	step, err := card.CurrentStep()
	if err != nil {
		return 0, errors.HardwareControlError("read current step", err)
	}
	return step, nil
}

// StopStartCard stops and restarts the card, resetting the sequencer to
// its entry step. Millisecond-scale; playback restarts immediately.
func (d *Driver) StopStartCard() error {
	if d.cfg.Simulation {
		return nil
	}
	card, err := d.connect()
	if err != nil {
		return err
	}
	if err := card.Stop(); err != nil {
		return errors.HardwareControlError("stop", err)
	}
	if err := card.Start(spcm.StartEnableTrigger, spcm.StartForceTrigger); err != nil {
		return errors.HardwareControlError("restart", err)
	}
	d.logger.Info("card stopped and restarted")
	return nil
}

// CloseCard stops the card, releases the handle and clears all cached
// state. Safe to call when never connected, and idempotent.
func (d *Driver) CloseCard() error {
	if d.card == nil {
		d.cached = nil
		d.state = StateDisconnected
		return nil
	}
	// Best effort: leave the hardware stopped even if the stop fails.
	if err := d.card.StopDMA(); err != nil {
		d.logger.Warn("stop DMA during close: %v", err)
	}
	err := d.card.Close()
	d.lock.Release()
	d.card = nil
	d.lock = nil
	d.cached = nil
	d.state = StateDisconnected
	d.m.CardConnected.Set(d.cardLabels(), 0)
	d.m.CardConfigured.Set(d.cardLabels(), 0)
	d.m.ResidentSegments.Set(d.cardLabels(), 0)
	if err != nil {
		return errors.HardwareControlError("close", err)
	}
	d.logger.Info("card SN %d closed", d.cfg.SerialNumber)
	return nil
}

// Status is a point-in-time snapshot of the driver, for the RPC surface.
type Status struct {
	State            string  `json:"state"`
	SerialNumber     int     `json:"serial_number"`
	SetupProfile     string  `json:"setup_profile"`
	Simulation       bool    `json:"simulation"`
	SampleRateHz     float64 `json:"sample_rate_hz"`
	CurrentHash      string  `json:"current_hash,omitempty"`
	ProgramName      string  `json:"program_name,omitempty"`
	SessionID        string  `json:"session_id,omitempty"`
	ResidentSegments int     `json:"resident_segments"`
}

// GetStatus returns the driver status snapshot.
func (d *Driver) GetStatus() Status {
	st := Status{
		State:        d.state.String(),
		SerialNumber: d.cfg.SerialNumber,
		SetupProfile: d.cfg.SetupProfile,
		Simulation:   d.cfg.Simulation,
		SampleRateHz: d.cfg.SampleRateHz,
	}
	if d.cached != nil {
		st.CurrentHash = d.cached.hash
		st.ProgramName = d.cached.program.Name
		if d.cached.session != nil {
			st.SessionID = d.cached.session.ID.String()
			st.ResidentSegments = d.cached.session.NumSegments
		}
	}
	return st
}
