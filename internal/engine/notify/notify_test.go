package notify_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"signoff/internal/config"
	"signoff/internal/db"
	"signoff/internal/domain"
	"signoff/internal/engine"
	"signoff/internal/engine/notify"
	"signoff/internal/migrate"
)

type capturingMailer struct {
	intents []domain.DeliveryIntent
}

func (m *capturingMailer) Deliver(ctx context.Context, intents []domain.DeliveryIntent) error {
	m.intents = append(m.intents, intents...)
	return nil
}

type notifyEnv struct {
	Engine   engine.Engine
	Dispatch notify.Dispatch
	Mailer   *capturingMailer
	Ctx      context.Context
	Title    domain.Title
}

func newNotifyEnv(t *testing.T) notifyEnv {
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
	eng := engine.New(conn, config.Default("site-1"))
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	eng.Now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}
	ctx := context.Background()
	now := base.Format(time.RFC3339)
	if err := eng.Repo.EnsureSite(ctx, domain.Site{ID: "site-1", Name: "Test Site", CreatedAt: now}); err != nil {
		t.Fatalf("ensure site: %v", err)
	}
	seed := func(fn func(tx *sql.Tx) error) {
		tx, err := conn.BeginTx(ctx, nil)
		if err != nil {
			t.Fatal(err)
		}
		if err := fn(tx); err != nil {
			tx.Rollback()
			t.Fatal(err)
		}
		if err := tx.Commit(); err != nil {
			t.Fatal(err)
		}
	}
	seed(func(tx *sql.Tx) error {
		for _, g := range []struct{ id, name string }{{"editors", "Editors"}, {"chiefs", "Chief Editors"}} {
			if err := eng.Repo.EnsureGroup(ctx, tx, g.id, g.name, now); err != nil {
				return err
			}
		}
		members := []struct{ user, email, group string }{
			{"alice", "alice@example.com", "editors"},
			{"dave", "dave@example.com", "editors"},
			{"bob", "bob@example.com", "chiefs"},
		}
		for _, m := range members {
			if err := eng.Repo.EnsureUser(ctx, tx, m.user, m.email, now); err != nil {
				return err
			}
			if err := eng.Repo.AddMember(ctx, tx, m.group, m.user); err != nil {
				return err
			}
		}
		return eng.Repo.EnsureUser(ctx, tx, "carol", "carol@example.com", now)
	})
	if err := eng.Repo.CreateWorkflow(ctx, domain.Workflow{
		ID: "wf-std", Name: "standard", Default: true, CreatedAt: now,
		Stages: []domain.Stage{
			{ID: "st-editors", WorkflowID: "wf-std", GroupID: "editors", Order: 10},
			{ID: "st-chiefs", WorkflowID: "wf-std", GroupID: "chiefs", Order: 20},
		},
	}); err != nil {
		t.Fatalf("seed workflow: %v", err)
	}
	if err := eng.Repo.InsertPage(ctx, domain.Page{ID: "p1", SiteID: "site-1", Slug: "home", CreatedAt: now}); err != nil {
		t.Fatalf("insert page: %v", err)
	}
	title := domain.Title{ID: "t1", PageID: "p1", Language: "en", Text: "Home", Draft: true, CreatedAt: now}
	if err := eng.Repo.InsertTitle(ctx, title); err != nil {
		t.Fatalf("insert title: %v", err)
	}
	mailer := &capturingMailer{}
	return notifyEnv{
		Engine:   eng,
		Dispatch: notify.Dispatch{DB: eng.DB, Repo: eng.Repo, Identity: eng.Identity, Mailer: mailer},
		Mailer:   mailer,
		Ctx:      ctx,
		Title:    title,
	}
}

func recipients(intents []domain.DeliveryIntent, audience string) []string {
	for _, in := range intents {
		if in.Audience == audience {
			return in.Recipients
		}
	}
	return nil
}

func TestRequestNotifiesFirstStageGroup(t *testing.T) {
	env := newNotifyEnv(t)
	a, err := env.Engine.SubmitRequest(env.Ctx, engine.ActionOptions{TitleID: env.Title.ID, UserID: "carol"})
	if err != nil {
		t.Fatal(err)
	}
	intents, err := env.Dispatch.IntentsFor(env.Ctx, a, "")
	if err != nil {
		t.Fatal(err)
	}
	got := recipients(intents, "editor")
	if len(got) != 2 {
		t.Fatalf("expected both editors, got %v", got)
	}
	if recipients(intents, "author") != nil {
		t.Fatalf("a request does not notify its own author")
	}
	if intents[0].TemplateKey != "moderation.request" {
		t.Fatalf("template key: %s", intents[0].TemplateKey)
	}
}

func TestNamedEditorReplacesGroup(t *testing.T) {
	env := newNotifyEnv(t)
	a, err := env.Engine.SubmitRequest(env.Ctx, engine.ActionOptions{TitleID: env.Title.ID, UserID: "carol", Editor: "dave"})
	if err != nil {
		t.Fatal(err)
	}
	intents, err := env.Dispatch.IntentsFor(env.Ctx, a, "dave")
	if err != nil {
		t.Fatal(err)
	}
	got := recipients(intents, "editor")
	if len(got) != 1 || got[0] != "dave@example.com" {
		t.Fatalf("expected only the named editor, got %v", got)
	}
	// a name outside the next stage's group falls back to the whole group
	intents, err = env.Dispatch.IntentsFor(env.Ctx, a, "bob")
	if err != nil {
		t.Fatal(err)
	}
	if got := recipients(intents, "editor"); len(got) != 2 {
		t.Fatalf("expected the whole group, got %v", got)
	}
}

func TestApproveNotifiesNextStageAndAuthor(t *testing.T) {
	env := newNotifyEnv(t)
	if _, err := env.Engine.SubmitRequest(env.Ctx, engine.ActionOptions{TitleID: env.Title.ID, UserID: "carol"}); err != nil {
		t.Fatal(err)
	}
	a, err := env.Engine.Approve(env.Ctx, engine.ActionOptions{TitleID: env.Title.ID, UserID: "alice"})
	if err != nil {
		t.Fatal(err)
	}
	intents, err := env.Dispatch.IntentsFor(env.Ctx, a, "")
	if err != nil {
		t.Fatal(err)
	}
	editors := recipients(intents, "editor")
	if len(editors) != 1 || editors[0] != "bob@example.com" {
		t.Fatalf("next stage is chiefs, got %v", editors)
	}
	author := recipients(intents, "author")
	if len(author) != 1 || author[0] != "carol@example.com" {
		t.Fatalf("author: %v", author)
	}
}

func TestRejectNotifiesAuthorOnly(t *testing.T) {
	env := newNotifyEnv(t)
	if _, err := env.Engine.SubmitRequest(env.Ctx, engine.ActionOptions{TitleID: env.Title.ID, UserID: "carol"}); err != nil {
		t.Fatal(err)
	}
	a, err := env.Engine.Reject(env.Ctx, engine.ActionOptions{TitleID: env.Title.ID, UserID: "alice", Message: "typo"})
	if err != nil {
		t.Fatal(err)
	}
	intents, err := env.Dispatch.IntentsFor(env.Ctx, a, "")
	if err != nil {
		t.Fatal(err)
	}
	if recipients(intents, "editor") != nil {
		t.Fatalf("a reject notifies no editors")
	}
	author := recipients(intents, "author")
	if len(author) != 1 || author[0] != "carol@example.com" {
		t.Fatalf("author: %v", author)
	}
	if intents[0].Context["message"] != "typo" {
		t.Fatalf("message missing from context: %v", intents[0].Context)
	}
}

func TestPublishNotifiesNobody(t *testing.T) {
	env := newNotifyEnv(t)
	a := domain.Action{ID: "a1", TitleID: env.Title.ID, WorkflowID: "wf-std", Kind: domain.KindPublish}
	env.Dispatch.Send(env.Ctx, a, "")
	if len(env.Mailer.intents) != 0 {
		t.Fatalf("publish delivered %v", env.Mailer.intents)
	}
}
