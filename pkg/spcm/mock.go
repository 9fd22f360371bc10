package spcm

import (
	"fmt"
	"sync"
	"time"
)

// MockCard is an in-memory Card that records every call and the sequence
// memory written to it. It is used by the driver tests and by mock runs
// of the host binary.
//
// Fault injection: set FailOn["WriteSegment"] (or any other method name)
// to make that method return an error once; the entry is cleared after it
// fires.
type MockCard struct {
	mu sync.Mutex

	Serial  int
	Product string

	// Calls records method names in invocation order.
	Calls []string

	// FailOn maps method names to the error to return on next call.
	FailOn map[string]error

	// Configuration shadow registers.
	Mode         CardMode
	ChannelMask  uint32
	OutputLoad   int
	AmplitudeMV  int
	StopLvl      StopLevel
	TriggerMode  TriggerMode
	TriggerLevel int
	TriggerCoup  Coupling
	TriggerTerm  bool
	TriggerDel   int
	ClkMode      ClockMode
	ClockOut     bool

	// RequestedRateHz is the rate last set; LiveRateHz is what the PLL
	// actually achieves (defaults to the requested rate if zero).
	RequestedRateHz float64
	LiveRateHz      float64

	// MaxSample is what MaxSampleValue returns (defaults to 32768).
	MaxSample int

	// Segment memory: index -> interleaved samples (copied on write).
	Segments    map[int][]int16
	SegmentChan map[int]int
	Steps       []SequenceStep
	StartStep   int
	Step        int

	Running bool
	Closed  bool
}

// NewMockCard creates a mock card with the given serial number.
func NewMockCard(serial int) *MockCard {
	return &MockCard{
		Serial:      serial,
		Product:     "M4i.6622-x8 (mock)",
		FailOn:      make(map[string]error),
		Segments:    make(map[int][]int16),
		SegmentChan: make(map[int]int),
		MaxSample:   32768,
	}
}

// MockOpener returns an Opener that always hands out the given card.
func MockOpener(card *MockCard) Opener {
	return func(serialNumber int) (Card, error) {
		if serialNumber != card.Serial {
			return nil, fmt.Errorf("mock card has SN %d, asked for %d", card.Serial, serialNumber)
		}
		return card, nil
	}
}

// CallCount returns how many times the named method was invoked.
func (m *MockCard) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.Calls {
		if c == method {
			n++
		}
	}
	return n
}

// record logs the call and pops any injected fault for it.
func (m *MockCard) record(method string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, method)
	if err, ok := m.FailOn[method]; ok {
		delete(m.FailOn, method)
		return err
	}
	return nil
}

func (m *MockCard) SerialNumber() int   { return m.Serial }
func (m *MockCard) ProductName() string { return m.Product }

func (m *MockCard) Status() (string, error) {
	if err := m.record("Status"); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Running {
		return "ready, running", nil
	}
	return "ready, stopped", nil
}

func (m *MockCard) SetCardMode(mode CardMode) error {
	if err := m.record("SetCardMode"); err != nil {
		return err
	}
	m.Mode = mode
	return nil
}

func (m *MockCard) EnableChannels(mask uint32) error {
	if err := m.record("EnableChannels"); err != nil {
		return err
	}
	m.ChannelMask = mask
	return nil
}

func (m *MockCard) SetOutputLoadOhm(ohm int) error {
	if err := m.record("SetOutputLoadOhm"); err != nil {
		return err
	}
	m.OutputLoad = ohm
	return nil
}

func (m *MockCard) SetAmplitudeMV(mv int) error {
	if err := m.record("SetAmplitudeMV"); err != nil {
		return err
	}
	m.AmplitudeMV = mv
	return nil
}

func (m *MockCard) SetStopLevel(level StopLevel) error {
	if err := m.record("SetStopLevel"); err != nil {
		return err
	}
	m.StopLvl = level
	return nil
}

func (m *MockCard) SetTriggerORMaskExt0() error {
	return m.record("SetTriggerORMaskExt0")
}

func (m *MockCard) SetTriggerExt0Mode(mode TriggerMode) error {
	if err := m.record("SetTriggerExt0Mode"); err != nil {
		return err
	}
	m.TriggerMode = mode
	return nil
}

func (m *MockCard) SetTriggerExt0LevelMV(mv int) error {
	if err := m.record("SetTriggerExt0LevelMV"); err != nil {
		return err
	}
	m.TriggerLevel = mv
	return nil
}

func (m *MockCard) SetTriggerExt0Coupling(c Coupling) error {
	if err := m.record("SetTriggerExt0Coupling"); err != nil {
		return err
	}
	m.TriggerCoup = c
	return nil
}

func (m *MockCard) SetTriggerTermination(enabled bool) error {
	if err := m.record("SetTriggerTermination"); err != nil {
		return err
	}
	m.TriggerTerm = enabled
	return nil
}

func (m *MockCard) SetTriggerDelay(samples int) error {
	if err := m.record("SetTriggerDelay"); err != nil {
		return err
	}
	m.TriggerDel = samples
	return nil
}

func (m *MockCard) SetClockMode(mode ClockMode) error {
	if err := m.record("SetClockMode"); err != nil {
		return err
	}
	m.ClkMode = mode
	return nil
}

func (m *MockCard) SetSampleRateHz(hz float64) error {
	if err := m.record("SetSampleRateHz"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RequestedRateHz = hz
	if m.LiveRateHz == 0 {
		m.LiveRateHz = hz
	}
	return nil
}

func (m *MockCard) SetClockOutput(enabled bool) error {
	if err := m.record("SetClockOutput"); err != nil {
		return err
	}
	m.ClockOut = enabled
	return nil
}

func (m *MockCard) SampleRateHz() (float64, error) {
	if err := m.record("SampleRateHz"); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.LiveRateHz == 0 {
		return 0, fmt.Errorf("clock not configured")
	}
	return m.LiveRateHz, nil
}

func (m *MockCard) MaxSampleValue() (int, error) {
	if err := m.record("MaxSampleValue"); err != nil {
		return 0, err
	}
	return m.MaxSample, nil
}

func (m *MockCard) WriteSegment(index int, numChannels int, interleaved []int16) error {
	if err := m.record("WriteSegment"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	buf := make([]int16, len(interleaved))
	copy(buf, interleaved)
	m.Segments[index] = buf
	m.SegmentChan[index] = numChannels
	return nil
}

func (m *MockCard) WriteSequenceSteps(steps []SequenceStep) error {
	if err := m.record("WriteSequenceSteps"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Steps = make([]SequenceStep, len(steps))
	copy(m.Steps, steps)
	return nil
}

func (m *MockCard) SetStartStep(step int) error {
	if err := m.record("SetStartStep"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.StartStep = step
	m.Step = step
	return nil
}

func (m *MockCard) CurrentStep() (int, error) {
	if err := m.record("CurrentStep"); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Step, nil
}

func (m *MockCard) SetTimeout(d time.Duration) error {
	return m.record("SetTimeout")
}

func (m *MockCard) Start(flags ...StartFlag) error {
	if err := m.record("Start"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Running = true
	m.Step = m.StartStep
	return nil
}

func (m *MockCard) Stop() error {
	if err := m.record("Stop"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Running = false
	return nil
}

func (m *MockCard) StopDMA() error {
	if err := m.record("StopDMA"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Running = false
	return nil
}

func (m *MockCard) Close() error {
	if err := m.record("Close"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Closed = true
	m.Running = false
	return nil
}
