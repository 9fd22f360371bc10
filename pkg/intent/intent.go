// Package intent models the declarative sequencer program sent to the AWG
// host: named segments, per-logical-channel operations, and the tone
// definitions that remap operations index into.
//
// Programs are immutable values. Patching (see WithRemapSrc) returns a new
// Program; the content digest of a Program is derived deterministically
// from its full structure, so two programs compare equal exactly when
// their digests do.
package intent

import (
	"encoding/hex"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/zeebo/blake3"

	"spectrum-awg-host/pkg/errors"
)

// OpKind discriminates the per-channel operation types.
type OpKind string

const (
	// OpTones plays a fixed set of tones for the segment duration.
	OpTones OpKind = "tones"

	// OpRemap plays a subset of a named tone definition, selected by a
	// fixed-length integer index list. The index list length is pinned at
	// program definition time because it determines the hardware buffer
	// shape; hotswaps may only replace it with a list of the same length.
	OpRemap OpKind = "remap_from_definition"
)

// Tone is one oscillator: frequency, requested optical power fraction and
// initial phase. The synthesis pipeline owns the meaning of Power.
type Tone struct {
	FreqHz   float64 `cbor:"1,keyasint" json:"freq_hz"`
	Power    float64 `cbor:"2,keyasint" json:"power"`
	PhaseRad float64 `cbor:"3,keyasint" json:"phase_rad"`
}

// ChannelOp is one operation on one logical channel within a segment.
type ChannelOp struct {
	// Channel is the logical channel name ("H", "V").
	Channel string `cbor:"1,keyasint" json:"channel"`

	Kind OpKind `cbor:"2,keyasint" json:"kind"`

	// Tones is set for OpTones.
	Tones []Tone `cbor:"3,keyasint,omitempty" json:"tones,omitempty"`

	// Definition and SrcIndices are set for OpRemap. SrcIndices selects
	// entries of the named definition, in order.
	Definition string `cbor:"4,keyasint,omitempty" json:"definition,omitempty"`
	SrcIndices []int  `cbor:"5,keyasint,omitempty" json:"src_indices,omitempty"`
}

// Segment is a named block of the sequencer program.
type Segment struct {
	Name string `cbor:"1,keyasint" json:"name"`

	// DurationS is the requested duration before quantization.
	DurationS float64 `cbor:"2,keyasint" json:"duration_s"`

	// Loop is the step-graph loop count for this segment (minimum 1).
	Loop int `cbor:"3,keyasint" json:"loop"`

	// Loopable marks segments whose buffer may be shortened to one loopable
	// quantum by the quantizer.
	Loopable bool `cbor:"4,keyasint,omitempty" json:"loopable,omitempty"`

	// TriggerGated holds the sequencer on this segment until the hardware
	// trigger fires before taking the transition.
	TriggerGated bool `cbor:"5,keyasint,omitempty" json:"trigger_gated,omitempty"`

	// Next names the transition target. Empty means the following segment
	// in program order, with the last segment wrapping to the first.
	Next string `cbor:"6,keyasint,omitempty" json:"next,omitempty"`

	Ops []ChannelOp `cbor:"7,keyasint" json:"ops"`
}

// Program is an ordered collection of named segments plus the tone
// definitions remap operations index into.
type Program struct {
	Name        string            `cbor:"1,keyasint" json:"name"`
	Segments    []Segment         `cbor:"2,keyasint" json:"segments"`
	Definitions map[string][]Tone `cbor:"3,keyasint,omitempty" json:"definitions,omitempty"`
}

// digest encoding must be deterministic: core deterministic CBOR with
// sorted map keys, so structurally equal programs hash identically.
var detEncMode cbor.EncMode

func init() {
	var err error
	detEncMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
}

// Digest returns the hex BLAKE3 digest of the program's canonical encoding.
func (p *Program) Digest() string {
	data, err := detEncMode.Marshal(p)
	if err != nil {
		// Marshal of a plain value struct only fails on unsupported types,
		// which would be a programming error in this package.
		panic(fmt.Sprintf("intent: encode program for digest: %v", err))
	}
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Encode serializes the program to its canonical CBOR wire form.
func (p *Program) Encode() ([]byte, error) {
	return detEncMode.Marshal(p)
}

// Decode deserializes a program from its CBOR wire form and validates it.
func Decode(data []byte) (*Program, error) {
	var p Program
	if err := cbor.Unmarshal(data, &p); err != nil {
		return nil, errors.Wrap(err, errors.ErrRuntime, "decode intent program")
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// SegmentIndex returns the index of the named segment, or -1.
func (p *Program) SegmentIndex(name string) int {
	for i := range p.Segments {
		if p.Segments[i].Name == name {
			return i
		}
	}
	return -1
}

// SegmentIndexByName returns a name-to-index map over the program's
// segments. Segment order and identity are stable across a hotswap, so a
// map computed once stays valid for the patched program.
func (p *Program) SegmentIndexByName() map[string]int {
	m := make(map[string]int, len(p.Segments))
	for i := range p.Segments {
		m[p.Segments[i].Name] = i
	}
	return m
}

// Validate checks structural invariants: unique non-empty segment names,
// positive durations, remap operations referencing known definitions with
// in-range indices, and transition targets that exist.
func (p *Program) Validate() error {
	if len(p.Segments) == 0 {
		return errors.RuntimeError("program has no segments")
	}
	seen := make(map[string]bool, len(p.Segments))
	for i := range p.Segments {
		seg := &p.Segments[i]
		if seg.Name == "" {
			return errors.RuntimeError(fmt.Sprintf("segment %d has no name", i))
		}
		if seen[seg.Name] {
			return errors.RuntimeError(fmt.Sprintf("duplicate segment name %q", seg.Name))
		}
		seen[seg.Name] = true
		if seg.DurationS <= 0 {
			return errors.RuntimeError(fmt.Sprintf("segment %q: non-positive duration", seg.Name))
		}
		if seg.Loop < 1 {
			return errors.RuntimeError(fmt.Sprintf("segment %q: loop count %d < 1", seg.Name, seg.Loop))
		}
		for _, op := range seg.Ops {
			if op.Channel == "" {
				return errors.RuntimeError(fmt.Sprintf("segment %q: operation with no channel", seg.Name))
			}
			switch op.Kind {
			case OpTones:
				if len(op.Tones) == 0 {
					return errors.RuntimeError(fmt.Sprintf(
						"segment %q channel %q: tones operation with no tones", seg.Name, op.Channel))
				}
			case OpRemap:
				def, ok := p.Definitions[op.Definition]
				if !ok {
					return errors.RuntimeError(fmt.Sprintf(
						"segment %q channel %q: unknown definition %q", seg.Name, op.Channel, op.Definition))
				}
				if len(op.SrcIndices) == 0 {
					return errors.RuntimeError(fmt.Sprintf(
						"segment %q channel %q: remap with empty source indices", seg.Name, op.Channel))
				}
				for _, idx := range op.SrcIndices {
					if idx < 0 || idx >= len(def) {
						return errors.RuntimeError(fmt.Sprintf(
							"segment %q channel %q: source index %d outside definition %q (%d entries)",
							seg.Name, op.Channel, idx, op.Definition, len(def)))
					}
				}
			default:
				return errors.RuntimeError(fmt.Sprintf(
					"segment %q channel %q: unknown operation kind %q", seg.Name, op.Channel, op.Kind))
			}
		}
	}
	for i := range p.Segments {
		if next := p.Segments[i].Next; next != "" && !seen[next] {
			return errors.RuntimeError(fmt.Sprintf(
				"segment %q: transition target %q does not exist", p.Segments[i].Name, next))
		}
	}
	return nil
}
