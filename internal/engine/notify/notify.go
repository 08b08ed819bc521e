package notify

import (
	"context"
	"database/sql"
	"log"

	"signoff/internal/domain"
	"signoff/internal/engine"
	"signoff/internal/identity"
	"signoff/internal/repo"
)

// Mailer consumes delivery intents. Delivery itself, templating included,
// belongs to the external mail service.
type Mailer interface {
	Deliver(ctx context.Context, intents []domain.DeliveryIntent) error
}

// Dispatch decides who gets told about an action:
//
//	request → editors of the next stage
//	approve → editors of the next stage, plus the author
//	reject  → the author
//	cancel  → the author
//	publish → nobody
//
// Editor recipients are the members of the next mandatory stage's group. A
// single editor named on the action replaces the whole group.
type Dispatch struct {
	DB       *sql.DB
	Repo     repo.Repo
	Identity identity.Directory
	Mailer   Mailer
}

func (d Dispatch) IntentsFor(ctx context.Context, a domain.Action, editor string) ([]domain.DeliveryIntent, error) {
	var wantEditor, wantAuthor bool
	switch a.Kind {
	case domain.KindRequest:
		wantEditor = true
	case domain.KindApprove:
		wantEditor = true
		wantAuthor = true
	case domain.KindReject, domain.KindCancel:
		wantAuthor = true
	default:
		return nil, nil
	}

	tx, err := d.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	base := map[string]any{
		"title_id": a.TitleID,
		"kind":     a.Kind,
	}
	if a.Message != "" {
		base["message"] = a.Message
	}

	var intents []domain.DeliveryIntent
	if wantEditor {
		recipients, err := d.editorRecipients(ctx, tx, a, editor)
		if err != nil {
			return nil, err
		}
		if len(recipients) > 0 {
			intents = append(intents, domain.DeliveryIntent{
				Audience:    "editor",
				TemplateKey: "moderation." + a.Kind,
				Recipients:  recipients,
				Context:     base,
			})
		}
	}
	if wantAuthor {
		recipient, err := d.authorRecipient(ctx, tx, a)
		if err != nil {
			return nil, err
		}
		if recipient != "" {
			intents = append(intents, domain.DeliveryIntent{
				Audience:    "author",
				TemplateKey: "moderation." + a.Kind,
				Recipients:  []string{recipient},
				Context:     base,
			})
		}
	}
	return intents, nil
}

// Send computes and delivers the intents for an action. Delivery failures
// are logged, not propagated: the state change already committed.
func (d Dispatch) Send(ctx context.Context, a domain.Action, editor string) {
	if d.Mailer == nil {
		return
	}
	intents, err := d.IntentsFor(ctx, a, editor)
	if err != nil {
		log.Printf("notify: intents for action %s: %v", a.ID, err)
		return
	}
	if len(intents) == 0 {
		return
	}
	if err := d.Mailer.Deliver(ctx, intents); err != nil {
		log.Printf("notify: deliver for action %s: %v", a.ID, err)
	}
}

func (d Dispatch) editorRecipients(ctx context.Context, tx *sql.Tx, a domain.Action, editor string) ([]string, error) {
	stages, err := d.Repo.ListStagesTx(ctx, tx, a.WorkflowID)
	if err != nil {
		return nil, err
	}
	var current *domain.Stage
	if a.StageID != nil {
		if s, err := d.Repo.GetStageTx(ctx, tx, *a.StageID); err == nil {
			current = &s
		} else if err != repo.ErrNotFound {
			return nil, err
		}
	}
	var next *domain.Stage
	if current == nil {
		next = engine.FirstMandatoryStage(stages)
	} else {
		next = engine.NextMandatoryStage(stages, *current)
	}
	if next == nil {
		return nil, nil
	}
	if editor != "" {
		ok, err := d.Identity.IsMember(ctx, tx, next.GroupID, editor)
		if err != nil {
			return nil, err
		}
		if ok {
			u, err := d.Repo.GetUser(ctx, editor)
			if err != nil {
				return nil, err
			}
			if u.Email != "" {
				return []string{u.Email}, nil
			}
			return nil, nil
		}
	}
	return d.Identity.MemberEmails(ctx, tx, next.GroupID)
}

func (d Dispatch) authorRecipient(ctx context.Context, tx *sql.Tx, a domain.Action) (string, error) {
	root, err := d.Repo.LatestRootTx(ctx, tx, a.TitleID)
	if err == repo.ErrNotFound {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	if root.UserID == nil {
		return "", nil
	}
	u, err := d.Repo.GetUser(ctx, *root.UserID)
	if err == repo.ErrNotFound {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return u.Email, nil
}
