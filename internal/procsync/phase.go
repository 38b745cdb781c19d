package procsync

import "strings"

// Phase classifies work into the four internal stages derived from the remote
// section a task sits in.
type Phase string

const (
	PhasePlan     Phase = "plan"
	PhaseExecute  Phase = "execute"
	PhaseEvaluate Phase = "evaluate"
	PhaseImprove  Phase = "improve"
)

// Section names are free text that humans rename, so the lookup is
// case-insensitive and anything unrecognized lands in the first phase.
var sectionPhases = map[string]Phase{
	"plan":     PhasePlan,
	"execute":  PhaseExecute,
	"do":       PhaseExecute,
	"evaluate": PhaseEvaluate,
	"check":    PhaseEvaluate,
	"improve":  PhaseImprove,
	"act":      PhaseImprove,
}

func PhaseForSection(name string) Phase {
	if phase, ok := sectionPhases[strings.ToLower(strings.TrimSpace(name))]; ok {
		return phase
	}
	return PhasePlan
}

// managedTitlePrefixes are the bracketed tags reserved for the internal
// documentation mechanism. Tasks carrying one are never reconciled.
var managedTitlePrefixes = []string{
	"[adli: approach]",
	"[adli: deployment]",
	"[adli: learning]",
	"[adli: integration]",
}

// IsManagedTitle reports whether a remote title is reserved for the internal
// documentation mechanism. The check applies to every task and subtask
// independently; a managed parent does not make its subtasks managed.
func IsManagedTitle(title string) bool {
	normalized := strings.ToLower(strings.TrimSpace(title))
	for _, prefix := range managedTitlePrefixes {
		if strings.HasPrefix(normalized, prefix) {
			return true
		}
	}
	return false
}
