// Package pipeline is the phase/sub-phase processing engine that drives
// bookmarks from fetch through publish.
package pipeline

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ejwhitmore/tweetvault/internal/types"
)

// Phase is the closed set of pipeline phases. Dispatch is one executor per
// variant; adding a phase without wiring an executor is a compile-visible
// hole in the engine's switch, not a silent lookup miss.
type Phase int

const (
	PhaseInitialization Phase = iota + 1
	PhaseFetch
	PhaseContent
	PhaseSynthesis
	PhaseEmbeddings
	PhaseIndex
	PhasePublish
)

// Phases lists all phases in execution order.
var Phases = []Phase{
	PhaseInitialization,
	PhaseFetch,
	PhaseContent,
	PhaseSynthesis,
	PhaseEmbeddings,
	PhaseIndex,
	PhasePublish,
}

func (p Phase) String() string {
	switch p {
	case PhaseInitialization:
		return "initialization"
	case PhaseFetch:
		return "fetch"
	case PhaseContent:
		return "content"
	case PhaseSynthesis:
		return "synthesis"
	case PhaseEmbeddings:
		return "embeddings"
	case PhaseIndex:
		return "index"
	case PhasePublish:
		return "publish"
	}
	return "unknown"
}

// ID returns the phase identifier recorded on runs, e.g. "3" or "3.1".
// Sub-phases are numbered 1-based within the content phase.
func ID(p Phase, sub *types.SubPhase) string {
	if sub == nil {
		return strconv.Itoa(int(p))
	}
	return fmt.Sprintf("%d.%d", int(p), int(*sub)+1)
}

// ParseTarget parses a user-supplied phase reference. Accepted forms:
// a phase name ("content"), a phase number ("3"), a dotted number ("3.2"),
// or a dotted name ("content.media_analysis").
func ParseTarget(s string) (Phase, *types.SubPhase, error) {
	phasePart, subPart, hasSub := strings.Cut(s, ".")

	phase, err := parsePhase(phasePart)
	if err != nil {
		return 0, nil, err
	}
	if !hasSub {
		return phase, nil, nil
	}

	if phase != PhaseContent {
		return 0, nil, fmt.Errorf("phase %s has no sub-phases", phase)
	}
	sub, err := parseSubPhase(subPart)
	if err != nil {
		return 0, nil, err
	}
	return phase, &sub, nil
}

func parsePhase(s string) (Phase, error) {
	if n, err := strconv.Atoi(s); err == nil {
		if n < int(PhaseInitialization) || n > int(PhasePublish) {
			return 0, fmt.Errorf("unknown phase %d", n)
		}
		return Phase(n), nil
	}
	for _, p := range Phases {
		if p.String() == s {
			return p, nil
		}
	}
	return 0, fmt.Errorf("unknown phase %q", s)
}

func parseSubPhase(s string) (types.SubPhase, error) {
	if n, err := strconv.Atoi(s); err == nil {
		idx := n - 1
		if idx < 0 || idx >= len(types.SubPhases) {
			return 0, fmt.Errorf("unknown sub-phase %d", n)
		}
		return types.SubPhases[idx], nil
	}
	for _, sub := range types.SubPhases {
		if sub.String() == s {
			return sub, nil
		}
	}
	return 0, fmt.Errorf("unknown sub-phase %q", s)
}
