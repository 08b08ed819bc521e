package engine

import (
	"signoff/internal/domain"
)

// Derived chain state. Nothing here is stored; every check reads the last
// node of the chain, where last means highest depth then most recent.

func stageByID(stages []domain.Stage, id *string) *domain.Stage {
	if id == nil {
		return nil
	}
	for i := range stages {
		if stages[i].ID == *id {
			return &stages[i]
		}
	}
	return nil
}

// LastAction returns the last node of a chain ordered by (depth, created).
func LastAction(chain []domain.Action) *domain.Action {
	if len(chain) == 0 {
		return nil
	}
	last := &chain[0]
	for i := 1; i < len(chain); i++ {
		a := &chain[i]
		if a.Depth > last.Depth || (a.Depth == last.Depth && a.CreatedAt >= last.CreatedAt) {
			last = a
		}
	}
	return last
}

// IsClosed reports whether the chain ending in last accepts no further
// actions.
func IsClosed(last domain.Action) bool {
	switch last.Kind {
	case domain.KindReject, domain.KindCancel, domain.KindPublish:
		return true
	}
	return false
}

// IsPublishable reports whether the chain ending in last has cleared every
// mandatory stage: it is open, its last node is an approval, and no
// mandatory stage remains after that approval's stage. An approval whose
// stage snapshot was deleted has no remaining gate and counts as cleared.
func IsPublishable(last domain.Action, stages []domain.Stage) bool {
	if last.Kind != domain.KindApprove {
		return false
	}
	current := stageByID(stages, last.StageID)
	if current == nil {
		return true
	}
	return NextMandatoryStage(stages, *current) == nil
}

// Status derives the chain status from its last node.
func Status(last domain.Action, stages []domain.Stage) string {
	switch last.Kind {
	case domain.KindReject:
		return domain.StatusRejected
	case domain.KindCancel:
		return domain.StatusCancelled
	case domain.KindPublish:
		return domain.StatusPublished
	case domain.KindApprove:
		if IsPublishable(last, stages) {
			return domain.StatusApproved
		}
	}
	return domain.StatusRequested
}

// NextEligibleStage returns the stage the user may act at next, or nil when
// none. Candidates are the possible next stages after the last node's stage;
// among those whose group contains the user the highest-order one wins, so
// an approver authorized for a later stage collapses the optional stages in
// between.
func NextEligibleStage(stages []domain.Stage, last domain.Action, isMember func(groupID string) (bool, error)) (*domain.Stage, error) {
	if IsClosed(last) {
		return nil, nil
	}
	current := stageByID(stages, last.StageID)
	if last.Kind == domain.KindRequest {
		current = nil
	}
	candidates := PossibleNextStages(stages, current)
	var eligible *domain.Stage
	for i := range candidates {
		ok, err := isMember(candidates[i].GroupID)
		if err != nil {
			return nil, err
		}
		if ok {
			eligible = &candidates[i]
		}
	}
	return eligible, nil
}
