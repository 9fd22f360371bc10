package spcm

import (
	"errors"
	"testing"
)

func TestMockRecordsCallsInOrder(t *testing.T) {
	card := NewMockCard(7)
	if err := card.SetCardMode(ModeSequence); err != nil {
		t.Fatal(err)
	}
	if err := card.EnableChannels(0b11); err != nil {
		t.Fatal(err)
	}
	if err := card.Start(StartEnableTrigger, StartForceTrigger); err != nil {
		t.Fatal(err)
	}
	want := []string{"SetCardMode", "EnableChannels", "Start"}
	if len(card.Calls) != len(want) {
		t.Fatalf("calls = %v", card.Calls)
	}
	for i, name := range want {
		if card.Calls[i] != name {
			t.Errorf("call %d = %s, want %s", i, card.Calls[i], name)
		}
	}
	if card.Mode != ModeSequence || card.ChannelMask != 0b11 || !card.Running {
		t.Error("shadow registers not updated")
	}
}

func TestMockFaultInjectionFiresOnce(t *testing.T) {
	card := NewMockCard(7)
	injected := errors.New("register write failed")
	card.FailOn["WriteSegment"] = injected

	if err := card.WriteSegment(0, 1, []int16{1, 2, 3}); err != injected {
		t.Fatalf("got %v, want injected error", err)
	}
	if _, ok := card.Segments[0]; ok {
		t.Error("failed write still stored the buffer")
	}
	if err := card.WriteSegment(0, 1, []int16{1, 2, 3}); err != nil {
		t.Fatalf("second write: %v", err)
	}
	if got := card.Segments[0]; len(got) != 3 {
		t.Fatalf("stored buffer = %v", got)
	}
}

func TestMockWriteSegmentCopies(t *testing.T) {
	card := NewMockCard(7)
	buf := []int16{1, 2, 3}
	if err := card.WriteSegment(0, 1, buf); err != nil {
		t.Fatal(err)
	}
	buf[0] = 99
	if card.Segments[0][0] != 1 {
		t.Fatal("stored buffer aliases the caller's slice")
	}
}

func TestMockLiveRateDefaultsToRequested(t *testing.T) {
	card := NewMockCard(7)
	if _, err := card.SampleRateHz(); err == nil {
		t.Fatal("rate readable before clock configured")
	}
	if err := card.SetSampleRateHz(625e6); err != nil {
		t.Fatal(err)
	}
	rate, err := card.SampleRateHz()
	if err != nil {
		t.Fatal(err)
	}
	if rate != 625e6 {
		t.Fatalf("live rate = %g, want requested 625e6", rate)
	}

	offset := NewMockCard(7)
	offset.LiveRateHz = 624.9e6
	if err := offset.SetSampleRateHz(625e6); err != nil {
		t.Fatal(err)
	}
	rate, _ = offset.SampleRateHz()
	if rate != 624.9e6 {
		t.Fatalf("live rate = %g, want preset PLL value", rate)
	}
}

func TestMockOpenerChecksSerial(t *testing.T) {
	card := NewMockCard(42)
	open := MockOpener(card)
	if _, err := open(41); err == nil {
		t.Fatal("wrong serial accepted")
	}
	got, err := open(42)
	if err != nil {
		t.Fatal(err)
	}
	if got.SerialNumber() != 42 {
		t.Fatalf("serial = %d", got.SerialNumber())
	}
}

func TestCardLockExcludes(t *testing.T) {
	LockDir = t.TempDir()
	first, err := AcquireCardLock(99)
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	if _, err := AcquireCardLock(99); err == nil {
		t.Fatal("second acquire of the same card succeeded")
	}
	// A different card is unaffected.
	other, err := AcquireCardLock(100)
	if err != nil {
		t.Fatalf("other card: %v", err)
	}
	other.Release()

	if err := first.Release(); err != nil {
		t.Fatalf("release: %v", err)
	}
	again, err := AcquireCardLock(99)
	if err != nil {
		t.Fatalf("reacquire after release: %v", err)
	}
	again.Release()
}

func TestCardLockReleaseNilSafe(t *testing.T) {
	var l *CardLock
	if err := l.Release(); err != nil {
		t.Fatalf("nil release: %v", err)
	}
}
