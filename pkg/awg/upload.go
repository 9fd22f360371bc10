package awg

import (
	"fmt"

	"github.com/google/uuid"

	"spectrum-awg-host/pkg/errors"
	"spectrum-awg-host/pkg/pipeline"
	"spectrum-awg-host/pkg/spcm"
)

// UploadSession is the authoritative record of what is resident on the
// card: which segment buffers were written, the step graph, and the entry
// step. It exists only while the connection that produced it is open and
// is destroyed by disconnect or by any full-path failure. A hotswap
// mutates the resident buffers but reuses the session; the step graph is
// never re-uploaded by a hotswap.
type UploadSession struct {
	ID          uuid.UUID
	NumSegments int
	EntryStep   int
	Steps       []spcm.SequenceStep
}

// buildSteps derives the step-transition graph from a compiled set. Step
// i replays segment i; the transition target defaults to the next segment
// in order (the last wrapping to the first) unless the segment names an
// explicit target.
func buildSteps(compiled *pipeline.CompiledSet, indexByName map[string]int) ([]spcm.SequenceStep, error) {
	n := len(compiled.Segments)
	steps := make([]spcm.SequenceStep, n)
	for i, seg := range compiled.Segments {
		next := (i + 1) % n
		if seg.Next != "" {
			idx, ok := indexByName[seg.Next]
			if !ok {
				return nil, errors.SegmentLookupError(seg.Next)
			}
			next = idx
		}
		steps[i] = spcm.SequenceStep{
			Segment:   i,
			Loops:     seg.StepLoop,
			Next:      next,
			OnTrigger: seg.TriggerGated,
		}
	}
	return steps, nil
}

// uploadProgram writes every segment buffer and the step graph to the
// card, producing a fresh UploadSession. The sequencer entry step is
// always step 0.
func uploadProgram(card spcm.Card, compiled *pipeline.CompiledSet, indexByName map[string]int) (*UploadSession, error) {
	for i, seg := range compiled.Segments {
		if err := card.WriteSegment(i, seg.NumChannels, seg.Interleaved); err != nil {
			return nil, errors.HardwareUploadError(fmt.Sprintf("segment %q", seg.Name), err).
				SetSegment(seg.Name)
		}
	}
	steps, err := buildSteps(compiled, indexByName)
	if err != nil {
		return nil, err
	}
	if err := card.WriteSequenceSteps(steps); err != nil {
		return nil, errors.HardwareUploadError("step graph", err)
	}
	if err := card.SetStartStep(0); err != nil {
		return nil, errors.HardwareUploadError("entry step", err)
	}
	return &UploadSession{
		ID:          uuid.New(),
		NumSegments: len(compiled.Segments),
		EntryStep:   0,
		Steps:       steps,
	}, nil
}

// uploadSegmentOnly rewrites a single segment buffer in place, leaving
// the step graph and every other segment untouched.
func uploadSegmentOnly(card spcm.Card, compiled *pipeline.CompiledSet, index int) error {
	seg := compiled.Segments[index]
	if err := card.WriteSegment(index, seg.NumChannels, seg.Interleaved); err != nil {
		return errors.HardwareUploadError(fmt.Sprintf("segment %q", seg.Name), err).
			SetSegment(seg.Name)
	}
	return nil
}
