package engine

import (
	"testing"

	"signoff/internal/domain"
)

func st(id string, order int, optional bool) domain.Stage {
	return domain.Stage{ID: id, WorkflowID: "wf", GroupID: "g-" + id, Order: order, Optional: optional}
}

func stageIDs(stages []domain.Stage) []string {
	out := make([]string, len(stages))
	for i, s := range stages {
		out[i] = s.ID
	}
	return out
}

func sameIDs(a []string, b []domain.Stage) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i].ID {
			return false
		}
	}
	return true
}

func TestMandatoryStages(t *testing.T) {
	stages := []domain.Stage{st("c", 30, false), st("a", 10, true), st("b", 20, false)}
	m := MandatoryStages(stages)
	if !sameIDs([]string{"b", "c"}, m) {
		t.Fatalf("got %v", stageIDs(m))
	}
	if FirstMandatoryStage(stages).ID != "b" {
		t.Fatalf("first mandatory should be b")
	}
	if FirstMandatoryStage([]domain.Stage{st("a", 10, true)}) != nil {
		t.Fatalf("all-optional workflow has no mandatory stage")
	}
}

func TestNextMandatoryStage(t *testing.T) {
	stages := []domain.Stage{st("a", 10, false), st("b", 20, true), st("c", 30, false)}
	if got := NextMandatoryStage(stages, st("a", 10, false)); got == nil || got.ID != "c" {
		t.Fatalf("after a: %v", got)
	}
	if got := NextMandatoryStage(stages, st("c", 30, false)); got != nil {
		t.Fatalf("nothing after the last gate, got %v", got)
	}
	// a mandatory stage sharing the order does not count as next
	if got := NextMandatoryStage(stages, st("x", 30, true)); got != nil {
		t.Fatalf("equal order is not after, got %v", got)
	}
}

func TestPossibleNextStages(t *testing.T) {
	opt10 := st("opt10", 10, true)
	man20 := st("man20", 20, false)
	opt30 := st("opt30", 30, true)
	man40 := st("man40", 40, false)
	stages := []domain.Stage{man40, opt10, man20, opt30}

	cases := []struct {
		name    string
		current *domain.Stage
		want    []string
	}{
		{"fresh request runs to the first gate", nil, []string{"opt10", "man20"}},
		{"after the first gate", &man20, []string{"opt30", "man40"}},
		{"after an optional stage inside a window", &opt30, []string{"man40"}},
		{"past the last gate", &man40, nil},
	}
	for _, tc := range cases {
		got := PossibleNextStages(stages, tc.current)
		if !sameIDs(tc.want, got) {
			t.Fatalf("%s: got %v want %v", tc.name, stageIDs(got), tc.want)
		}
	}

	// no mandatory stage bounds the window, so everything is offered
	all := []domain.Stage{opt10, opt30}
	got := PossibleNextStages(all, nil)
	if !sameIDs([]string{"opt10", "opt30"}, got) {
		t.Fatalf("unbounded: got %v", stageIDs(got))
	}
}

func TestNextEligibleStagePicksHighestOrder(t *testing.T) {
	opt10 := st("opt10", 10, true)
	man20 := st("man20", 20, false)
	stages := []domain.Stage{opt10, man20}
	last := domain.Action{Kind: domain.KindRequest}

	memberOf := func(groups ...string) func(string) (bool, error) {
		return func(g string) (bool, error) {
			for _, m := range groups {
				if m == g {
					return true, nil
				}
			}
			return false, nil
		}
	}

	// a member of both groups acts at the gate, collapsing the optional stage
	got, err := NextEligibleStage(stages, last, memberOf("g-opt10", "g-man20"))
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.ID != "man20" {
		t.Fatalf("expected the gate to win, got %v", got)
	}

	got, err = NextEligibleStage(stages, last, memberOf("g-opt10"))
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.ID != "opt10" {
		t.Fatalf("expected the optional stage, got %v", got)
	}

	got, err = NextEligibleStage(stages, last, memberOf())
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Fatalf("non-member got a stage: %v", got)
	}

	closed := domain.Action{Kind: domain.KindReject}
	got, err = NextEligibleStage(stages, closed, memberOf("g-man20"))
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Fatalf("closed chain offers no stage, got %v", got)
	}
}

func TestLastActionOrdering(t *testing.T) {
	chain := []domain.Action{
		{ID: "root", Depth: 1, Kind: domain.KindRequest, CreatedAt: "2026-01-01T00:00:01Z"},
		{ID: "a1", Depth: 2, Kind: domain.KindApprove, CreatedAt: "2026-01-01T00:00:02Z"},
		{ID: "a2", Depth: 2, Kind: domain.KindApprove, CreatedAt: "2026-01-01T00:00:03Z"},
	}
	last := LastAction(chain)
	if last == nil || last.ID != "a2" {
		t.Fatalf("ties on depth break by recency, got %v", last)
	}
	if LastAction(nil) != nil {
		t.Fatalf("empty chain has no last action")
	}
}

func TestIsPublishable(t *testing.T) {
	stages := []domain.Stage{st("a", 10, false), st("b", 20, false)}
	aID, bID := "a", "b"

	if IsPublishable(domain.Action{Kind: domain.KindApprove, StageID: &aID}, stages) {
		t.Fatalf("a gate remains after stage a")
	}
	if !IsPublishable(domain.Action{Kind: domain.KindApprove, StageID: &bID}, stages) {
		t.Fatalf("all gates cleared after stage b")
	}
	if IsPublishable(domain.Action{Kind: domain.KindRequest}, stages) {
		t.Fatalf("a bare request is never publishable")
	}
	// approval whose stage snapshot was deleted counts as cleared
	gone := "deleted"
	if !IsPublishable(domain.Action{Kind: domain.KindApprove, StageID: &gone}, stages) {
		t.Fatalf("deleted stage snapshot leaves no remaining gate")
	}
}

func TestDerivedStatus(t *testing.T) {
	stages := []domain.Stage{st("a", 10, false), st("b", 20, false)}
	aID, bID := "a", "b"
	cases := []struct {
		last domain.Action
		want string
	}{
		{domain.Action{Kind: domain.KindRequest}, domain.StatusRequested},
		{domain.Action{Kind: domain.KindApprove, StageID: &aID}, domain.StatusRequested},
		{domain.Action{Kind: domain.KindApprove, StageID: &bID}, domain.StatusApproved},
		{domain.Action{Kind: domain.KindReject}, domain.StatusRejected},
		{domain.Action{Kind: domain.KindCancel}, domain.StatusCancelled},
		{domain.Action{Kind: domain.KindPublish}, domain.StatusPublished},
	}
	for _, tc := range cases {
		if got := Status(tc.last, stages); got != tc.want {
			t.Fatalf("kind %s: got %s want %s", tc.last.Kind, got, tc.want)
		}
	}
}
