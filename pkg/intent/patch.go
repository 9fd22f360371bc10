package intent

import (
	"fmt"

	"spectrum-awg-host/pkg/errors"
)

// WithRemapSrc returns a copy of the program in which the remap operation
// on the given logical channel of the named segment carries newSrc as its
// source index list. The receiver is not modified.
//
// The replacement list must have exactly the length of the existing one:
// a remap operand's length is fixed at definition time by the hardware
// buffer shape, so a mismatch is a hard error rather than truncate-or-pad.
// All checks run before any copying, so a failed patch allocates nothing.
func (p *Program) WithRemapSrc(segment, channel string, newSrc []int) (*Program, error) {
	segIdx := p.SegmentIndex(segment)
	if segIdx < 0 {
		return nil, errors.SegmentLookupError(segment)
	}
	opIdx := -1
	for i, op := range p.Segments[segIdx].Ops {
		if op.Channel == channel && op.Kind == OpRemap {
			opIdx = i
			break
		}
	}
	if opIdx < 0 {
		return nil, errors.OpLookupError(segment, channel)
	}
	old := &p.Segments[segIdx].Ops[opIdx]
	if len(newSrc) != len(old.SrcIndices) {
		return nil, errors.ShapeMismatchError(segment, len(newSrc), len(old.SrcIndices))
	}
	def := p.Definitions[old.Definition]
	for _, idx := range newSrc {
		if idx < 0 || idx >= len(def) {
			return nil, errors.New(errors.ErrShapeMismatch,
				fmt.Sprintf("source index %d outside definition %q (%d entries)",
					idx, old.Definition, len(def))).SetSegment(segment)
		}
	}

	patched := *p
	patched.Segments = make([]Segment, len(p.Segments))
	copy(patched.Segments, p.Segments)

	seg := &patched.Segments[segIdx]
	seg.Ops = make([]ChannelOp, len(p.Segments[segIdx].Ops))
	copy(seg.Ops, p.Segments[segIdx].Ops)

	op := &seg.Ops[opIdx]
	op.SrcIndices = make([]int, len(newSrc))
	copy(op.SrcIndices, newSrc)

	return &patched, nil
}
