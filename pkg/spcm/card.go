// Package spcm abstracts the vendor SDK of the Spectrum Instruments AWG
// card behind a narrow interface. The driver core talks only to Card; the
// register/DMA protocol underneath it is out of scope and supplied by an
// Opener, so tests and the simulation path substitute an in-memory card.
package spcm

import "time"

// CardMode selects the card's replay mode.
type CardMode int

const (
	// ModeSequence is standard sequence replay mode: the card loops a
	// step-transition graph over uploaded segment buffers.
	ModeSequence CardMode = iota
)

// StopLevel selects the output level the card holds when stopped.
type StopLevel int

const (
	// StopHoldLast holds the last replayed sample value.
	StopHoldLast StopLevel = iota
	// StopZero drives zero.
	StopZero
)

// TriggerMode selects the external trigger edge.
type TriggerMode int

const (
	// TriggerPositiveEdge fires on a rising edge.
	TriggerPositiveEdge TriggerMode = iota
	// TriggerNegativeEdge fires on a falling edge.
	TriggerNegativeEdge
)

// Coupling selects trigger input coupling.
type Coupling int

const (
	CouplingDC Coupling = iota
	CouplingAC
)

// ClockMode selects the sample clock source.
type ClockMode int

const (
	// ClockInternalPLL derives the sample clock from the internal PLL.
	ClockInternalPLL ClockMode = iota
	// ClockExternalReference locks to an external reference input.
	ClockExternalReference
)

// StartFlag modifies a Start call.
type StartFlag int

const (
	// StartEnableTrigger arms the trigger engine along with the start.
	StartEnableTrigger StartFlag = iota
	// StartForceTrigger issues a software trigger immediately.
	StartForceTrigger
)

// SequenceStep is one node of the step-transition graph: which segment to
// replay, how often to loop it, and where to go next. OnTrigger gates the
// transition on the external trigger.
type SequenceStep struct {
	Segment   int
	Loops     int
	Next      int
	OnTrigger bool
}

// Card is one open handle to a physical (or mock) AWG card. All calls are
// synchronous; any call may return an error at the register level.
type Card interface {
	// Identity and status.
	SerialNumber() int
	ProductName() string
	Status() (string, error)

	// One-time configuration.
	SetCardMode(mode CardMode) error
	EnableChannels(mask uint32) error
	SetOutputLoadOhm(ohm int) error
	SetAmplitudeMV(mv int) error
	SetStopLevel(level StopLevel) error
	SetTriggerORMaskExt0() error
	SetTriggerExt0Mode(mode TriggerMode) error
	SetTriggerExt0LevelMV(mv int) error
	SetTriggerExt0Coupling(c Coupling) error
	SetTriggerTermination(enabled bool) error
	SetTriggerDelay(samples int) error
	SetClockMode(mode ClockMode) error
	SetSampleRateHz(hz float64) error
	SetClockOutput(enabled bool) error

	// SampleRateHz reads back the live sample rate. The clock is pinned to
	// its exact achievable value only once SetSampleRateHz has run, so
	// recompiles must use this rather than the requested rate.
	SampleRateHz() (float64, error)

	// MaxSampleValue returns the card's most positive sample code plus
	// one (e.g. 32768 for 16-bit DACs).
	MaxSampleValue() (int, error)

	// Sequence memory.
	WriteSegment(index int, numChannels int, interleaved []int16) error
	WriteSequenceSteps(steps []SequenceStep) error
	SetStartStep(step int) error
	CurrentStep() (int, error)

	// Replay control.
	SetTimeout(d time.Duration) error
	Start(flags ...StartFlag) error
	Stop() error
	StopDMA() error

	Close() error
}

// Opener opens a handle to the card with the given serial number. The
// production opener wraps the vendor SDK; tests and simulation inject
// their own.
type Opener func(serialNumber int) (Card, error)

// DefaultOpener is installed at init time by the vendor SDK binding when
// that package is linked into the binary. Nil otherwise.
var DefaultOpener Opener
