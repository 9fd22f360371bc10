package intent

import (
	"fmt"
	"strings"
)

// Format renders a program as a human-readable multi-line summary, used
// when logging received programs.
func Format(p *Program) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "program %q: %d segment(s)", p.Name, len(p.Segments))
	for i := range p.Segments {
		seg := &p.Segments[i]
		fmt.Fprintf(&sb, "\n- %s: %s loop=%d", seg.Name, formatDuration(seg.DurationS), seg.Loop)
		if seg.Loopable {
			sb.WriteString(" loopable")
		}
		if seg.TriggerGated {
			sb.WriteString(" trigger-gated")
		}
		if seg.Next != "" {
			fmt.Fprintf(&sb, " -> %s", seg.Next)
		}
		for _, op := range seg.Ops {
			switch op.Kind {
			case OpTones:
				fmt.Fprintf(&sb, "\n    %s: %d tone(s)", op.Channel, len(op.Tones))
			case OpRemap:
				fmt.Fprintf(&sb, "\n    %s: remap %q src=%v", op.Channel, op.Definition, op.SrcIndices)
			}
		}
	}
	return sb.String()
}

func formatDuration(seconds float64) string {
	switch {
	case seconds >= 1:
		return fmt.Sprintf("%.3f s", seconds)
	case seconds >= 1e-3:
		return fmt.Sprintf("%.3f ms", seconds*1e3)
	default:
		return fmt.Sprintf("%.3f us", seconds*1e6)
	}
}
