package engine

import (
	"context"
	"errors"
	"fmt"

	"signoff/internal/domain"
	"signoff/internal/repo"
)

// ErrMultipleDefaults reports a broken configuration: more than one workflow
// carries the default flag. Resolution never picks one silently.
var ErrMultipleDefaults = errors.New("multiple default workflows configured")

// ResolveWorkflow finds the workflow governing a title:
//
//  1. an explicit binding on the title itself;
//  2. else the binding of the nearest ancestor page's same-language title
//     that extends to descendants, walking bottom-up;
//  3. else the single default workflow.
//
// A nil result with nil error means the title is ungoverned.
func (e Engine) ResolveWorkflow(ctx context.Context, title domain.Title) (*domain.Workflow, error) {
	b, err := e.Repo.GetBinding(ctx, title.ID)
	if err == nil {
		w, err := e.Repo.GetWorkflow(ctx, b.WorkflowID)
		if err != nil {
			return nil, fmt.Errorf("bound workflow: %w", err)
		}
		return &w, nil
	}
	if err != repo.ErrNotFound {
		return nil, err
	}

	ancestors, err := e.Repo.AncestorPages(ctx, title.PageID)
	if err != nil {
		return nil, err
	}
	for _, p := range ancestors {
		t, err := e.Repo.TitleForPage(ctx, p.ID, title.Language)
		if err == repo.ErrNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		ab, err := e.Repo.GetBinding(ctx, t.ID)
		if err == repo.ErrNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		if !ab.Descendants {
			continue
		}
		w, err := e.Repo.GetWorkflow(ctx, ab.WorkflowID)
		if err != nil {
			return nil, fmt.Errorf("inherited workflow: %w", err)
		}
		return &w, nil
	}

	defaults, err := e.Repo.DefaultWorkflows(ctx)
	if err != nil {
		return nil, err
	}
	switch len(defaults) {
	case 0:
		return nil, nil
	case 1:
		return &defaults[0], nil
	default:
		return nil, ErrMultipleDefaults
	}
}
