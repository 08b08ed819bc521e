package engine

import (
	"sort"

	"signoff/internal/domain"
)

// Stage ordering math. Inputs are a workflow's stages; order values need not
// be contiguous and equal orders are legal. Everything here is pure so the
// same rules serve validation, eligibility, and notification routing.

func sortedStages(stages []domain.Stage) []domain.Stage {
	out := make([]domain.Stage, len(stages))
	copy(out, stages)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out
}

// MandatoryStages returns the non-optional stages in order.
func MandatoryStages(stages []domain.Stage) []domain.Stage {
	var out []domain.Stage
	for _, s := range sortedStages(stages) {
		if !s.Optional {
			out = append(out, s)
		}
	}
	return out
}

// FirstMandatoryStage returns the lowest-order mandatory stage, or nil.
func FirstMandatoryStage(stages []domain.Stage) *domain.Stage {
	m := MandatoryStages(stages)
	if len(m) == 0 {
		return nil
	}
	return &m[0]
}

// NextMandatoryStage returns the lowest-order mandatory stage strictly after
// the given stage, or nil when none remains. A mandatory stage sharing the
// given stage's order does not count as next.
func NextMandatoryStage(stages []domain.Stage, after domain.Stage) *domain.Stage {
	for _, s := range MandatoryStages(stages) {
		if s.Order > after.Order {
			return &s
		}
	}
	return nil
}

// PossibleNextStages returns the stages an approval may legally target.
// With no current stage the candidates run up to and including the first
// mandatory gate; with a current stage they are the stages strictly after
// it, bounded inclusively by the next mandatory gate. When no gate bounds
// the window the candidates are unbounded, so a workflow with zero
// mandatory stages offers every stage at once.
func PossibleNextStages(stages []domain.Stage, current *domain.Stage) []domain.Stage {
	var out []domain.Stage
	if current == nil {
		bound := FirstMandatoryStage(stages)
		for _, s := range sortedStages(stages) {
			if bound != nil && s.Order > bound.Order {
				continue
			}
			out = append(out, s)
		}
		return out
	}
	bound := NextMandatoryStage(stages, *current)
	for _, s := range sortedStages(stages) {
		if s.Order <= current.Order {
			continue
		}
		if bound != nil && s.Order > bound.Order {
			continue
		}
		out = append(out, s)
	}
	return out
}
