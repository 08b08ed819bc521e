package engine

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"signoff/internal/config"
	"signoff/internal/domain"
	"signoff/internal/events"
	"signoff/internal/identity"
	"signoff/internal/repo"
)

type Engine struct {
	DB       *sql.DB
	Repo     repo.Repo
	Events   events.Writer
	Identity identity.Directory
	Config   *config.Config
	Now      func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:       db,
		Repo:     repo.Repo{DB: db},
		Events:   events.Writer{DB: db},
		Identity: identity.Directory{DB: db},
		Config:   cfg,
		Now:      time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) SiteID() string {
	if e.Config == nil {
		return ""
	}
	return e.Config.Site.ID
}

// InvalidActionError reports a request that the chain state does not allow.
// The message is safe to show the acting user. Nothing is written when one
// is returned.
type InvalidActionError struct {
	Message string
}

func (e InvalidActionError) Error() string {
	return e.Message
}

// NotPublishableError reports a publish hook firing on a title whose chain
// has not cleared every mandatory stage.
type NotPublishableError struct {
	TitleID string
}

func (e NotPublishableError) Error() string {
	return fmt.Sprintf("title %s is not publishable", e.TitleID)
}

// ActionOptions parameterizes request, approve, reject, and cancel. Editor
// optionally names a single member of the next stage's group who should be
// notified instead of the whole group.
type ActionOptions struct {
	TitleID string
	UserID  string
	Message string
	Editor  string
}

// SubmitRequest opens a new approval chain for a title. The governing
// workflow is resolved once and snapshotted into the root node; later
// configuration edits never move an open chain to another workflow.
func (e Engine) SubmitRequest(ctx context.Context, opts ActionOptions) (domain.Action, error) {
	if opts.TitleID == "" {
		return domain.Action{}, InvalidActionError{Message: "title is required"}
	}
	title, err := e.Repo.GetTitle(ctx, opts.TitleID)
	if err != nil {
		return domain.Action{}, err
	}
	if !title.Draft {
		return domain.Action{}, InvalidActionError{Message: "this title has no draft revision to moderate"}
	}
	w, err := e.ResolveWorkflow(ctx, title)
	if err != nil {
		return domain.Action{}, err
	}
	if w == nil {
		return domain.Action{}, InvalidActionError{Message: "there is no workflow for this title, it cannot be moderated"}
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Action{}, err
	}
	defer tx.Rollback()

	root, err := e.Repo.LatestRootTx(ctx, tx, title.ID)
	if err == nil {
		last, err := e.Repo.LastOfChainTx(ctx, tx, root.RootID)
		if err != nil {
			return domain.Action{}, err
		}
		if !IsClosed(last) {
			return domain.Action{}, InvalidActionError{Message: "there already is an active request for this title"}
		}
	} else if err != repo.ErrNotFound {
		return domain.Action{}, err
	}

	if err := e.Identity.EnsureUser(ctx, tx, opts.UserID); err != nil {
		return domain.Action{}, err
	}
	a := domain.Action{
		ID:         uuid.NewString(),
		TitleID:    title.ID,
		WorkflowID: w.ID,
		Depth:      1,
		Kind:       domain.KindRequest,
		UserID:     &opts.UserID,
		Message:    opts.Message,
		CreatedAt:  e.now().UTC().Format(time.RFC3339),
	}
	a.RootID = a.ID
	if err := e.Repo.InsertActionTx(ctx, tx, a); err != nil {
		return domain.Action{}, fmt.Errorf("insert request: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "moderation.requested", e.SiteID(), "title", title.ID, opts.UserID, events.EventPayload{
		"action_id": a.ID,
		"workflow":  w.ID,
	}); err != nil {
		return domain.Action{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Action{}, err
	}
	return a, nil
}

// Approve appends an approval at the acting user's next eligible stage.
func (e Engine) Approve(ctx context.Context, opts ActionOptions) (domain.Action, error) {
	return e.review(ctx, opts, domain.KindApprove, "moderation.approved")
}

// Reject closes the open chain with a rejection at the user's next eligible
// stage.
func (e Engine) Reject(ctx context.Context, opts ActionOptions) (domain.Action, error) {
	return e.review(ctx, opts, domain.KindReject, "moderation.rejected")
}

func (e Engine) review(ctx context.Context, opts ActionOptions, kind, evtType string) (domain.Action, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Action{}, err
	}
	defer tx.Rollback()

	last, root, err := e.openChainTx(ctx, tx, opts.TitleID)
	if err != nil {
		return domain.Action{}, err
	}
	stages, err := e.Repo.ListStagesTx(ctx, tx, root.WorkflowID)
	if err != nil {
		return domain.Action{}, err
	}
	eligible, err := NextEligibleStage(stages, last, func(groupID string) (bool, error) {
		return e.Identity.IsMember(ctx, tx, groupID, opts.UserID)
	})
	if err != nil {
		return domain.Action{}, err
	}
	if eligible == nil {
		return domain.Action{}, InvalidActionError{Message: "you are not allowed to approve or reject this request at this point"}
	}

	a := domain.Action{
		ID:         uuid.NewString(),
		TitleID:    opts.TitleID,
		WorkflowID: root.WorkflowID,
		StageID:    &eligible.ID,
		GroupID:    &eligible.GroupID,
		RootID:     root.RootID,
		ParentID:   &last.ID,
		Depth:      last.Depth + 1,
		Kind:       kind,
		UserID:     &opts.UserID,
		Message:    opts.Message,
		CreatedAt:  e.now().UTC().Format(time.RFC3339),
	}
	if err := e.Repo.InsertActionTx(ctx, tx, a); err != nil {
		return domain.Action{}, fmt.Errorf("insert %s: %w", kind, err)
	}
	if err := e.Events.Append(ctx, tx, evtType, e.SiteID(), "title", opts.TitleID, opts.UserID, events.EventPayload{
		"action_id": a.ID,
		"stage":     eligible.ID,
		"group":     eligible.GroupID,
	}); err != nil {
		return domain.Action{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Action{}, err
	}
	return a, nil
}

// Cancel closes the open chain. Only the user who opened the request may
// cancel it.
func (e Engine) Cancel(ctx context.Context, opts ActionOptions) (domain.Action, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Action{}, err
	}
	defer tx.Rollback()

	last, root, err := e.openChainTx(ctx, tx, opts.TitleID)
	if err != nil {
		return domain.Action{}, err
	}
	if root.UserID == nil || *root.UserID != opts.UserID {
		return domain.Action{}, InvalidActionError{Message: "only the requester may cancel this request"}
	}

	a := domain.Action{
		ID:         uuid.NewString(),
		TitleID:    opts.TitleID,
		WorkflowID: root.WorkflowID,
		RootID:     root.RootID,
		ParentID:   &last.ID,
		Depth:      last.Depth + 1,
		Kind:       domain.KindCancel,
		UserID:     &opts.UserID,
		Message:    opts.Message,
		CreatedAt:  e.now().UTC().Format(time.RFC3339),
	}
	if err := e.Repo.InsertActionTx(ctx, tx, a); err != nil {
		return domain.Action{}, fmt.Errorf("insert cancel: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "moderation.cancelled", e.SiteID(), "title", opts.TitleID, opts.UserID, events.EventPayload{
		"action_id": a.ID,
	}); err != nil {
		return domain.Action{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Action{}, err
	}
	return a, nil
}

// RecordPublish is called by the content repository's publish-success hook.
// It closes the chain with a publish node and clears the title's draft flag.
// The hook fires after the fact, so an unpublishable chain is a hard error.
func (e Engine) RecordPublish(ctx context.Context, titleID, userID string) (domain.Action, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Action{}, err
	}
	defer tx.Rollback()

	last, root, err := e.openChainTx(ctx, tx, titleID)
	if err != nil {
		if _, ok := err.(InvalidActionError); ok {
			return domain.Action{}, NotPublishableError{TitleID: titleID}
		}
		return domain.Action{}, err
	}
	stages, err := e.Repo.ListStagesTx(ctx, tx, root.WorkflowID)
	if err != nil {
		return domain.Action{}, err
	}
	if !IsPublishable(last, stages) {
		return domain.Action{}, NotPublishableError{TitleID: titleID}
	}

	a := domain.Action{
		ID:         uuid.NewString(),
		TitleID:    titleID,
		WorkflowID: root.WorkflowID,
		RootID:     root.RootID,
		ParentID:   &last.ID,
		Depth:      last.Depth + 1,
		Kind:       domain.KindPublish,
		CreatedAt:  e.now().UTC().Format(time.RFC3339),
	}
	if userID != "" {
		a.UserID = &userID
	}
	if err := e.Repo.InsertActionTx(ctx, tx, a); err != nil {
		return domain.Action{}, fmt.Errorf("insert publish: %w", err)
	}
	if err := e.Repo.SetTitleDraft(ctx, tx, titleID, false); err != nil {
		return domain.Action{}, err
	}
	if err := e.Events.Append(ctx, tx, "moderation.published", e.SiteID(), "title", titleID, userID, events.EventPayload{
		"action_id": a.ID,
	}); err != nil {
		return domain.Action{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Action{}, err
	}
	return a, nil
}

// openChainTx re-reads the title's current chain inside the transaction and
// returns its last node and root. A missing or closed chain is an
// InvalidActionError.
func (e Engine) openChainTx(ctx context.Context, tx *sql.Tx, titleID string) (last, root domain.Action, err error) {
	if _, err = e.Repo.GetTitleTx(ctx, tx, titleID); err != nil {
		return last, root, err
	}
	root, err = e.Repo.LatestRootTx(ctx, tx, titleID)
	if err == repo.ErrNotFound {
		return last, root, InvalidActionError{Message: "there is no open request for this title"}
	}
	if err != nil {
		return last, root, err
	}
	last, err = e.Repo.LastOfChainTx(ctx, tx, root.RootID)
	if err != nil {
		return last, root, err
	}
	if IsClosed(last) {
		return last, root, InvalidActionError{Message: "there is no open request for this title"}
	}
	return last, root, nil
}

// TitleStatus is the derived moderation state of a title.
type TitleStatus struct {
	TitleID      string          `json:"title_id"`
	WorkflowID   string          `json:"workflow_id,omitempty"`
	WorkflowName string          `json:"workflow_name,omitempty"`
	Status       string          `json:"status,omitempty"`
	Open         bool            `json:"open"`
	Publishable  bool            `json:"publishable"`
	Editable     bool            `json:"editable"`
	Chain        []domain.Action `json:"chain,omitempty"`
}

// Status derives the moderation state of a title from its current chain.
// A title with no chain at all is editable and carries no status.
func (e Engine) Status(ctx context.Context, titleID string) (TitleStatus, error) {
	title, err := e.Repo.GetTitle(ctx, titleID)
	if err != nil {
		return TitleStatus{}, err
	}
	st := TitleStatus{TitleID: titleID, Editable: title.Draft}
	root, err := e.Repo.LatestRoot(ctx, titleID)
	if err == repo.ErrNotFound {
		return st, nil
	}
	if err != nil {
		return TitleStatus{}, err
	}
	st.WorkflowID = root.WorkflowID
	if w, err := e.Repo.GetWorkflow(ctx, root.WorkflowID); err == nil {
		st.WorkflowName = w.Name
	}
	chain, err := e.Repo.ChainActions(ctx, root.RootID)
	if err != nil {
		return TitleStatus{}, err
	}
	st.Chain = chain
	last := LastAction(chain)
	if last == nil {
		return st, nil
	}
	stages, err := e.Repo.ListStages(ctx, root.WorkflowID)
	if err != nil {
		return TitleStatus{}, err
	}
	st.Status = Status(*last, stages)
	st.Open = !IsClosed(*last)
	st.Publishable = st.Open && IsPublishable(*last, stages)
	st.Editable = title.Draft && !st.Open
	return st, nil
}

// RequiringAction lists the titles whose open chain the user may act on
// next, the "waiting for my approval" worklist.
func (e Engine) RequiringAction(ctx context.Context, userID string) ([]TitleStatus, error) {
	ids, err := e.Repo.TitlesWithActions(ctx)
	if err != nil {
		return nil, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var res []TitleStatus
	for _, titleID := range ids {
		root, err := e.Repo.LatestRootTx(ctx, tx, titleID)
		if err == repo.ErrNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		last, err := e.Repo.LastOfChainTx(ctx, tx, root.RootID)
		if err != nil {
			return nil, err
		}
		if IsClosed(last) {
			continue
		}
		stages, err := e.Repo.ListStagesTx(ctx, tx, root.WorkflowID)
		if err != nil {
			return nil, err
		}
		eligible, err := NextEligibleStage(stages, last, func(groupID string) (bool, error) {
			return e.Identity.IsMember(ctx, tx, groupID, userID)
		})
		if err != nil {
			return nil, err
		}
		if eligible == nil {
			continue
		}
		res = append(res, TitleStatus{
			TitleID:     titleID,
			WorkflowID:  root.WorkflowID,
			Status:      Status(last, stages),
			Open:        true,
			Publishable: IsPublishable(last, stages),
		})
	}
	return res, nil
}
