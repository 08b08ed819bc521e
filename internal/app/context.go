package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"signoff/internal/config"
	"signoff/internal/domain"
	"signoff/internal/repo"
)

// ResolveSiteAndConfig picks the active site and ensures a site row exists,
// seeding from the workspace config when one is present. It prefers the
// override, then the single site in the DB, then the config file.
func ResolveSiteAndConfig(ctx context.Context, workspace, siteOverride string, r repo.Repo) (string, *config.Config, error) {
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return "", nil, err
	}
	siteID := siteOverride
	if siteID == "" {
		if s, err := r.SingleSite(ctx); err == nil {
			siteID = s.ID
		} else if cfg != nil {
			siteID = cfg.Site.ID
		} else {
			return "", nil, fmt.Errorf("site not specified; use --site or create %s", config.Path(workspace))
		}
	}
	if cfg == nil {
		cfg = config.Default(siteID)
	}
	cfg.Site.ID = siteID

	if _, err := r.GetSite(ctx, siteID); err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			return "", nil, err
		}
		s := domain.Site{
			ID:        siteID,
			Name:      cfg.Site.Name,
			BaseURL:   cfg.Site.BaseURL,
			CreatedAt: time.Now().UTC().Format(time.RFC3339),
		}
		if err := r.EnsureSite(ctx, s); err != nil {
			return "", nil, fmt.Errorf("ensure site: %w", err)
		}
	}
	return siteID, cfg, nil
}

// ImportConfig seeds groups, memberships, and workflow definitions from the
// config into the DB. Existing action chains keep their snapshots.
func ImportConfig(ctx context.Context, r repo.Repo, cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("config nil")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := r.ReplaceGroupsFromConfig(ctx, cfg.Groups); err != nil {
		return fmt.Errorf("import groups: %w", err)
	}
	if err := r.ReplaceWorkflowsFromConfig(ctx, cfg.Workflows, uuid.NewString); err != nil {
		return fmt.Errorf("import workflows: %w", err)
	}
	return nil
}
