package engine_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"signoff/internal/config"
	"signoff/internal/db"
	"signoff/internal/domain"
	"signoff/internal/engine"
	"signoff/internal/migrate"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

// newTestEnv boots a throwaway workspace with two groups and a two-stage
// default workflow: editors (order 10) then chiefs (order 20). alice is an
// editor, bob a chief, carol belongs to no group.
func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default("site-1")
	eng := engine.New(conn, cfg)
	// each call advances one second so ordering by created_at is stable
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	eng.Now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}
	ctx := context.Background()
	if err := eng.Repo.EnsureSite(ctx, domain.Site{ID: "site-1", Name: "Test Site", CreatedAt: stamp(base)}); err != nil {
		t.Fatalf("ensure site: %v", err)
	}
	if err := eng.Repo.ReplaceGroupsFromConfig(ctx, []config.GroupConfig{
		{ID: "editors", Name: "Editors", Members: []string{"alice"}},
		{ID: "chiefs", Name: "Chief Editors", Members: []string{"bob"}},
	}); err != nil {
		t.Fatalf("seed groups: %v", err)
	}
	if err := eng.Repo.CreateWorkflow(ctx, domain.Workflow{
		ID:        "wf-std",
		Name:      "standard",
		Default:   true,
		CreatedAt: stamp(base),
		Stages: []domain.Stage{
			{ID: "st-editors", WorkflowID: "wf-std", GroupID: "editors", Order: 10},
			{ID: "st-chiefs", WorkflowID: "wf-std", GroupID: "chiefs", Order: 20},
		},
	}); err != nil {
		t.Fatalf("seed workflow: %v", err)
	}
	return testEnv{Engine: eng, Ctx: ctx}
}

func stamp(ts time.Time) string {
	return ts.UTC().Format(time.RFC3339)
}

var pageSeq int

func (env testEnv) addPage(t *testing.T, parentID *string) domain.Page {
	t.Helper()
	pageSeq++
	p := domain.Page{
		ID:        fmt.Sprintf("page-%d", pageSeq),
		SiteID:    "site-1",
		ParentID:  parentID,
		Slug:      fmt.Sprintf("slug-%d", pageSeq),
		CreatedAt: stamp(env.Engine.Now()),
	}
	if err := env.Engine.Repo.InsertPage(env.Ctx, p); err != nil {
		t.Fatalf("insert page: %v", err)
	}
	created, err := env.Engine.Repo.GetPage(env.Ctx, p.ID)
	if err != nil {
		t.Fatalf("get page: %v", err)
	}
	return created
}

func (env testEnv) addTitle(t *testing.T, pageID, language string) domain.Title {
	t.Helper()
	title := domain.Title{
		ID:        fmt.Sprintf("%s-%s", pageID, language),
		PageID:    pageID,
		Language:  language,
		Text:      "hello",
		Draft:     true,
		CreatedAt: stamp(env.Engine.Now()),
	}
	if err := env.Engine.Repo.InsertTitle(env.Ctx, title); err != nil {
		t.Fatalf("insert title: %v", err)
	}
	return title
}

func (env testEnv) newModeratedTitle(t *testing.T) domain.Title {
	t.Helper()
	p := env.addPage(t, nil)
	return env.addTitle(t, p.ID, "en")
}

func TestRequestApprovePublishFlow(t *testing.T) {
	env := newTestEnv(t)
	title := env.newModeratedTitle(t)

	req, err := env.Engine.SubmitRequest(env.Ctx, engine.ActionOptions{TitleID: title.ID, UserID: "carol", Message: "please review"})
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if req.Depth != 1 || req.RootID != req.ID {
		t.Fatalf("request must root its own chain, got depth=%d root=%s", req.Depth, req.RootID)
	}

	st, err := env.Engine.Status(env.Ctx, title.ID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if st.Status != domain.StatusRequested || !st.Open || st.Publishable || st.Editable {
		t.Fatalf("after request: %+v", st)
	}

	a1, err := env.Engine.Approve(env.Ctx, engine.ActionOptions{TitleID: title.ID, UserID: "alice"})
	if err != nil {
		t.Fatalf("editor approve: %v", err)
	}
	if a1.StageID == nil || *a1.StageID != "st-editors" {
		t.Fatalf("expected editors stage snapshot, got %v", a1.StageID)
	}
	if a1.Depth != 2 {
		t.Fatalf("expected depth 2, got %d", a1.Depth)
	}

	st, _ = env.Engine.Status(env.Ctx, title.ID)
	if st.Publishable {
		t.Fatalf("not publishable before chief approval")
	}

	a2, err := env.Engine.Approve(env.Ctx, engine.ActionOptions{TitleID: title.ID, UserID: "bob"})
	if err != nil {
		t.Fatalf("chief approve: %v", err)
	}
	if a2.StageID == nil || *a2.StageID != "st-chiefs" {
		t.Fatalf("expected chiefs stage snapshot, got %v", a2.StageID)
	}

	st, _ = env.Engine.Status(env.Ctx, title.ID)
	if st.Status != domain.StatusApproved || !st.Publishable {
		t.Fatalf("after full approval: %+v", st)
	}

	pub, err := env.Engine.RecordPublish(env.Ctx, title.ID, "carol")
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if pub.Kind != domain.KindPublish || pub.Depth != 4 {
		t.Fatalf("publish node: %+v", pub)
	}

	st, _ = env.Engine.Status(env.Ctx, title.ID)
	if st.Status != domain.StatusPublished || st.Open || st.Editable {
		t.Fatalf("after publish: %+v", st)
	}
	got, err := env.Engine.Repo.GetTitle(env.Ctx, title.ID)
	if err != nil {
		t.Fatalf("get title: %v", err)
	}
	if got.Draft {
		t.Fatalf("publish must clear the draft flag")
	}
}

func TestPublishBlockedBeforeMandatoryClearance(t *testing.T) {
	env := newTestEnv(t)
	title := env.newModeratedTitle(t)
	if _, err := env.Engine.SubmitRequest(env.Ctx, engine.ActionOptions{TitleID: title.ID, UserID: "carol"}); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.Approve(env.Ctx, engine.ActionOptions{TitleID: title.ID, UserID: "alice"}); err != nil {
		t.Fatal(err)
	}
	_, err := env.Engine.RecordPublish(env.Ctx, title.ID, "carol")
	var np engine.NotPublishableError
	if !errors.As(err, &np) {
		t.Fatalf("expected NotPublishableError, got %v", err)
	}
}

func TestOptionalStageSkipped(t *testing.T) {
	env := newTestEnv(t)
	if err := env.Engine.Repo.CreateWorkflow(env.Ctx, domain.Workflow{
		ID:        "wf-opt",
		Name:      "optional-first",
		CreatedAt: stamp(env.Engine.Now()),
		Stages: []domain.Stage{
			{ID: "st-opt-editors", WorkflowID: "wf-opt", GroupID: "editors", Order: 10, Optional: true},
			{ID: "st-opt-chiefs", WorkflowID: "wf-opt", GroupID: "chiefs", Order: 20},
		},
	}); err != nil {
		t.Fatal(err)
	}
	title := env.newModeratedTitle(t)
	if err := env.Engine.Repo.UpsertBinding(env.Ctx, domain.Binding{
		TitleID: title.ID, WorkflowID: "wf-opt", CreatedAt: stamp(env.Engine.Now()),
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.SubmitRequest(env.Ctx, engine.ActionOptions{TitleID: title.ID, UserID: "carol"}); err != nil {
		t.Fatal(err)
	}
	// bob may act immediately, collapsing the optional editors stage
	a, err := env.Engine.Approve(env.Ctx, engine.ActionOptions{TitleID: title.ID, UserID: "bob"})
	if err != nil {
		t.Fatalf("chief approve over optional stage: %v", err)
	}
	if a.StageID == nil || *a.StageID != "st-opt-chiefs" {
		t.Fatalf("expected chiefs stage, got %v", a.StageID)
	}
	st, _ := env.Engine.Status(env.Ctx, title.ID)
	if !st.Publishable {
		t.Fatalf("one mandatory approval should suffice: %+v", st)
	}
}

func TestRejectClosesChainAndAllowsNewRequest(t *testing.T) {
	env := newTestEnv(t)
	title := env.newModeratedTitle(t)
	if _, err := env.Engine.SubmitRequest(env.Ctx, engine.ActionOptions{TitleID: title.ID, UserID: "carol"}); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.Reject(env.Ctx, engine.ActionOptions{TitleID: title.ID, UserID: "alice", Message: "typo"}); err != nil {
		t.Fatalf("reject: %v", err)
	}
	st, _ := env.Engine.Status(env.Ctx, title.ID)
	if st.Status != domain.StatusRejected || st.Open {
		t.Fatalf("after reject: %+v", st)
	}
	if !st.Editable {
		t.Fatalf("closed chain with a draft should be editable")
	}
	// a fresh request opens a new chain
	req, err := env.Engine.SubmitRequest(env.Ctx, engine.ActionOptions{TitleID: title.ID, UserID: "carol"})
	if err != nil {
		t.Fatalf("second request: %v", err)
	}
	st, _ = env.Engine.Status(env.Ctx, title.ID)
	if st.Status != domain.StatusRequested || !st.Open {
		t.Fatalf("after second request: %+v", st)
	}
	if len(st.Chain) != 1 || st.Chain[0].ID != req.ID {
		t.Fatalf("status must report the newest chain, got %d nodes", len(st.Chain))
	}
}

func TestDuplicateRequestBlocked(t *testing.T) {
	env := newTestEnv(t)
	title := env.newModeratedTitle(t)
	if _, err := env.Engine.SubmitRequest(env.Ctx, engine.ActionOptions{TitleID: title.ID, UserID: "carol"}); err != nil {
		t.Fatal(err)
	}
	_, err := env.Engine.SubmitRequest(env.Ctx, engine.ActionOptions{TitleID: title.ID, UserID: "carol"})
	var ia engine.InvalidActionError
	if !errors.As(err, &ia) {
		t.Fatalf("expected InvalidActionError, got %v", err)
	}
}

func TestRequestRequiresDraft(t *testing.T) {
	env := newTestEnv(t)
	title := env.newModeratedTitle(t)
	tx, err := env.Engine.DB.BeginTx(env.Ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := env.Engine.Repo.SetTitleDraft(env.Ctx, tx, title.ID, false); err != nil {
		t.Fatal(err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}
	_, err = env.Engine.SubmitRequest(env.Ctx, engine.ActionOptions{TitleID: title.ID, UserID: "carol"})
	var ia engine.InvalidActionError
	if !errors.As(err, &ia) {
		t.Fatalf("expected InvalidActionError for non-draft title, got %v", err)
	}
}

func TestCancelOnlyByRequester(t *testing.T) {
	env := newTestEnv(t)
	title := env.newModeratedTitle(t)
	if _, err := env.Engine.SubmitRequest(env.Ctx, engine.ActionOptions{TitleID: title.ID, UserID: "carol"}); err != nil {
		t.Fatal(err)
	}
	_, err := env.Engine.Cancel(env.Ctx, engine.ActionOptions{TitleID: title.ID, UserID: "bob"})
	var ia engine.InvalidActionError
	if !errors.As(err, &ia) {
		t.Fatalf("expected InvalidActionError for foreign cancel, got %v", err)
	}
	if _, err := env.Engine.Cancel(env.Ctx, engine.ActionOptions{TitleID: title.ID, UserID: "carol"}); err != nil {
		t.Fatalf("requester cancel: %v", err)
	}
	st, _ := env.Engine.Status(env.Ctx, title.ID)
	if st.Status != domain.StatusCancelled || st.Open {
		t.Fatalf("after cancel: %+v", st)
	}
}

func TestNonMemberCannotReview(t *testing.T) {
	env := newTestEnv(t)
	title := env.newModeratedTitle(t)
	if _, err := env.Engine.SubmitRequest(env.Ctx, engine.ActionOptions{TitleID: title.ID, UserID: "carol"}); err != nil {
		t.Fatal(err)
	}
	_, err := env.Engine.Approve(env.Ctx, engine.ActionOptions{TitleID: title.ID, UserID: "carol"})
	var ia engine.InvalidActionError
	if !errors.As(err, &ia) {
		t.Fatalf("expected InvalidActionError, got %v", err)
	}
	// bob's chiefs stage sits behind the editors gate
	_, err = env.Engine.Approve(env.Ctx, engine.ActionOptions{TitleID: title.ID, UserID: "bob"})
	if !errors.As(err, &ia) {
		t.Fatalf("expected gate to block the chief, got %v", err)
	}
}

func TestResolveWorkflowInheritance(t *testing.T) {
	env := newTestEnv(t)
	if err := env.Engine.Repo.CreateWorkflow(env.Ctx, domain.Workflow{
		ID: "wf-local", Name: "local", CreatedAt: stamp(env.Engine.Now()),
		Stages: []domain.Stage{{ID: "st-local", WorkflowID: "wf-local", GroupID: "editors", Order: 10}},
	}); err != nil {
		t.Fatal(err)
	}
	parent := env.addPage(t, nil)
	parentTitle := env.addTitle(t, parent.ID, "en")
	child := env.addPage(t, &parent.ID)
	childTitle := env.addTitle(t, child.ID, "en")
	childTitleDE := env.addTitle(t, child.ID, "de")

	if err := env.Engine.Repo.UpsertBinding(env.Ctx, domain.Binding{
		TitleID: parentTitle.ID, WorkflowID: "wf-local", Descendants: true, CreatedAt: stamp(env.Engine.Now()),
	}); err != nil {
		t.Fatal(err)
	}

	w, err := env.Engine.ResolveWorkflow(env.Ctx, childTitle)
	if err != nil {
		t.Fatal(err)
	}
	if w == nil || w.ID != "wf-local" {
		t.Fatalf("child should inherit the ancestor binding, got %+v", w)
	}
	// a different language falls back to the default workflow
	w, err = env.Engine.ResolveWorkflow(env.Ctx, childTitleDE)
	if err != nil {
		t.Fatal(err)
	}
	if w == nil || w.ID != "wf-std" {
		t.Fatalf("other language should use the default, got %+v", w)
	}
	// an explicit binding on the title itself wins over inheritance
	if err := env.Engine.Repo.UpsertBinding(env.Ctx, domain.Binding{
		TitleID: childTitle.ID, WorkflowID: "wf-std", CreatedAt: stamp(env.Engine.Now()),
	}); err != nil {
		t.Fatal(err)
	}
	w, err = env.Engine.ResolveWorkflow(env.Ctx, childTitle)
	if err != nil {
		t.Fatal(err)
	}
	if w == nil || w.ID != "wf-std" {
		t.Fatalf("explicit binding should win, got %+v", w)
	}
}

func TestResolveWorkflowMultipleDefaults(t *testing.T) {
	env := newTestEnv(t)
	if err := env.Engine.Repo.CreateWorkflow(env.Ctx, domain.Workflow{
		ID: "wf-2", Name: "second", CreatedAt: stamp(env.Engine.Now()),
	}); err != nil {
		t.Fatal(err)
	}
	// corrupt the default flag directly, CreateWorkflow and SetDefault keep it unique
	if _, err := env.Engine.DB.ExecContext(env.Ctx, `UPDATE workflows SET is_default=1`); err != nil {
		t.Fatal(err)
	}
	title := env.newModeratedTitle(t)
	_, err := env.Engine.ResolveWorkflow(env.Ctx, title)
	if !errors.Is(err, engine.ErrMultipleDefaults) {
		t.Fatalf("expected ErrMultipleDefaults, got %v", err)
	}
}

func TestCreateWorkflowKeepsSingleDefault(t *testing.T) {
	env := newTestEnv(t)
	if err := env.Engine.Repo.CreateWorkflow(env.Ctx, domain.Workflow{
		ID: "wf-new", Name: "new-default", Default: true, CreatedAt: stamp(env.Engine.Now()),
	}); err != nil {
		t.Fatal(err)
	}
	defaults, err := env.Engine.Repo.DefaultWorkflows(env.Ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(defaults) != 1 || defaults[0].ID != "wf-new" {
		t.Fatalf("expected wf-new to be the only default, got %+v", defaults)
	}
}

func TestRequiringActionWorklist(t *testing.T) {
	env := newTestEnv(t)
	title := env.newModeratedTitle(t)
	if _, err := env.Engine.SubmitRequest(env.Ctx, engine.ActionOptions{TitleID: title.ID, UserID: "carol"}); err != nil {
		t.Fatal(err)
	}
	aliceList, err := env.Engine.RequiringAction(env.Ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if len(aliceList) != 1 || aliceList[0].TitleID != title.ID {
		t.Fatalf("alice worklist: %+v", aliceList)
	}
	bobList, err := env.Engine.RequiringAction(env.Ctx, "bob")
	if err != nil {
		t.Fatal(err)
	}
	if len(bobList) != 0 {
		t.Fatalf("bob should wait for the editors stage, got %+v", bobList)
	}
	if _, err := env.Engine.Approve(env.Ctx, engine.ActionOptions{TitleID: title.ID, UserID: "alice"}); err != nil {
		t.Fatal(err)
	}
	bobList, err = env.Engine.RequiringAction(env.Ctx, "bob")
	if err != nil {
		t.Fatal(err)
	}
	if len(bobList) != 1 {
		t.Fatalf("bob should now see the title, got %+v", bobList)
	}
}

func TestModerationEventsLogged(t *testing.T) {
	env := newTestEnv(t)
	title := env.newModeratedTitle(t)
	if _, err := env.Engine.SubmitRequest(env.Ctx, engine.ActionOptions{TitleID: title.ID, UserID: "carol"}); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.Approve(env.Ctx, engine.ActionOptions{TitleID: title.ID, UserID: "alice"}); err != nil {
		t.Fatal(err)
	}
	events, err := env.Engine.Repo.LatestEvents(env.Ctx, 10, "site-1", "", "title", title.ID)
	if err != nil {
		t.Fatalf("latest events: %v", err)
	}
	if len(events) < 2 {
		t.Fatalf("expected request and approve events, got %d", len(events))
	}
	types := map[string]bool{}
	for _, evt := range events {
		types[evt.Type] = true
	}
	if !types["moderation.requested"] || !types["moderation.approved"] {
		t.Fatalf("missing event types: %v", types)
	}
}
