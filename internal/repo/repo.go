package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"signoff/internal/config"
	"signoff/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

func (r Repo) EnsureSite(ctx context.Context, s domain.Site) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO sites(id,name,base_url,created_at) VALUES (?,?,?,?)
ON CONFLICT(id) DO UPDATE SET name=excluded.name, base_url=excluded.base_url`,
		s.ID, s.Name, s.BaseURL, s.CreatedAt)
	return err
}

func (r Repo) GetSite(ctx context.Context, id string) (domain.Site, error) {
	var s domain.Site
	err := r.DB.QueryRowContext(ctx, `SELECT id,name,base_url,created_at FROM sites WHERE id=?`, id).
		Scan(&s.ID, &s.Name, &s.BaseURL, &s.CreatedAt)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	return s, err
}

func (r Repo) SingleSite(ctx context.Context) (domain.Site, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,base_url,created_at FROM sites`)
	if err != nil {
		return domain.Site{}, err
	}
	defer rows.Close()
	var sites []domain.Site
	for rows.Next() {
		var s domain.Site
		if err := rows.Scan(&s.ID, &s.Name, &s.BaseURL, &s.CreatedAt); err != nil {
			return domain.Site{}, err
		}
		sites = append(sites, s)
	}
	if len(sites) == 0 {
		return domain.Site{}, ErrNotFound
	}
	if len(sites) > 1 {
		return domain.Site{}, fmt.Errorf("multiple sites exist; specify --site")
	}
	return sites[0], nil
}

// CreateWorkflow inserts a workflow and its stages in one transaction. If the
// workflow is marked default, every other default flag is cleared first so at
// most one default survives any sequence of saves.
func (r Repo) CreateWorkflow(ctx context.Context, w domain.Workflow) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := r.InsertWorkflowTx(ctx, tx, w); err != nil {
		return err
	}
	return tx.Commit()
}

func (r Repo) InsertWorkflowTx(ctx context.Context, tx *sql.Tx, w domain.Workflow) error {
	if w.Default {
		if _, err := tx.ExecContext(ctx, `UPDATE workflows SET is_default=0 WHERE id != ?`, w.ID); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO workflows(id,name,is_default,created_at) VALUES (?,?,?,?)`,
		w.ID, w.Name, boolToInt(w.Default), w.CreatedAt); err != nil {
		return err
	}
	for _, s := range w.Stages {
		if err := r.InsertStageTx(ctx, tx, s); err != nil {
			return err
		}
	}
	return nil
}

func (r Repo) InsertStageTx(ctx context.Context, tx *sql.Tx, s domain.Stage) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO workflow_stages(id,workflow_id,group_id,ord,optional) VALUES (?,?,?,?,?)`,
		s.ID, s.WorkflowID, s.GroupID, s.Order, boolToInt(s.Optional))
	return err
}

// SetDefault marks one workflow default and clears all others in the same
// transaction.
func (r Repo) SetDefault(ctx context.Context, id string) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `UPDATE workflows SET is_default=0 WHERE id != ?`, id); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `UPDATE workflows SET is_default=1 WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}

func (r Repo) GetWorkflow(ctx context.Context, id string) (domain.Workflow, error) {
	var w domain.Workflow
	var def int
	err := r.DB.QueryRowContext(ctx, `SELECT id,name,is_default,created_at FROM workflows WHERE id=?`, id).
		Scan(&w.ID, &w.Name, &def, &w.CreatedAt)
	if err == sql.ErrNoRows {
		return w, ErrNotFound
	}
	if err != nil {
		return w, err
	}
	w.Default = def != 0
	w.Stages, err = r.ListStages(ctx, w.ID)
	return w, err
}

func (r Repo) GetWorkflowByName(ctx context.Context, name string) (domain.Workflow, error) {
	var id string
	err := r.DB.QueryRowContext(ctx, `SELECT id FROM workflows WHERE name=?`, name).Scan(&id)
	if err == sql.ErrNoRows {
		return domain.Workflow{}, ErrNotFound
	}
	if err != nil {
		return domain.Workflow{}, err
	}
	return r.GetWorkflow(ctx, id)
}

func (r Repo) ListWorkflows(ctx context.Context) ([]domain.Workflow, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,is_default,created_at FROM workflows ORDER BY name ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Workflow
	for rows.Next() {
		var w domain.Workflow
		var def int
		if err := rows.Scan(&w.ID, &w.Name, &def, &w.CreatedAt); err != nil {
			return nil, err
		}
		w.Default = def != 0
		res = append(res, w)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range res {
		res[i].Stages, err = r.ListStages(ctx, res[i].ID)
		if err != nil {
			return nil, err
		}
	}
	return res, nil
}

// DefaultWorkflows returns every workflow with the default flag set. The
// resolver treats more than one as a configuration fault, so this never
// picks silently.
func (r Repo) DefaultWorkflows(ctx context.Context) ([]domain.Workflow, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id FROM workflows WHERE is_default=1 ORDER BY name ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	var res []domain.Workflow
	for _, id := range ids {
		w, err := r.GetWorkflow(ctx, id)
		if err != nil {
			return nil, err
		}
		res = append(res, w)
	}
	return res, nil
}

func (r Repo) DeleteWorkflow(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM workflows WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) ListStages(ctx context.Context, workflowID string) ([]domain.Stage, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,workflow_id,group_id,ord,optional FROM workflow_stages WHERE workflow_id=? ORDER BY ord ASC, id ASC`, workflowID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanStages(rows)
}

func (r Repo) ListStagesTx(ctx context.Context, tx *sql.Tx, workflowID string) ([]domain.Stage, error) {
	rows, err := tx.QueryContext(ctx, `SELECT id,workflow_id,group_id,ord,optional FROM workflow_stages WHERE workflow_id=? ORDER BY ord ASC, id ASC`, workflowID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanStages(rows)
}

func scanStages(rows *sql.Rows) ([]domain.Stage, error) {
	var res []domain.Stage
	for rows.Next() {
		var s domain.Stage
		var opt int
		if err := rows.Scan(&s.ID, &s.WorkflowID, &s.GroupID, &s.Order, &opt); err != nil {
			return nil, err
		}
		s.Optional = opt != 0
		res = append(res, s)
	}
	return res, rows.Err()
}

func (r Repo) GetStageTx(ctx context.Context, tx *sql.Tx, id string) (domain.Stage, error) {
	var s domain.Stage
	var opt int
	err := tx.QueryRowContext(ctx, `SELECT id,workflow_id,group_id,ord,optional FROM workflow_stages WHERE id=?`, id).
		Scan(&s.ID, &s.WorkflowID, &s.GroupID, &s.Order, &opt)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	s.Optional = opt != 0
	return s, err
}

func (r Repo) DeleteStage(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM workflow_stages WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ReplaceWorkflowsFromConfig imports the declarative workflow definitions,
// replacing stages of workflows that already exist by name. Action snapshots
// keep history intact across re-imports.
func (r Repo) ReplaceWorkflowsFromConfig(ctx context.Context, workflows []config.WorkflowConfig, newID func() string) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	now := time.Now().UTC().Format(time.RFC3339)
	for _, wc := range workflows {
		var id string
		err := tx.QueryRowContext(ctx, `SELECT id FROM workflows WHERE name=?`, wc.Name).Scan(&id)
		if err == sql.ErrNoRows {
			id = newID()
			if _, err := tx.ExecContext(ctx, `INSERT INTO workflows(id,name,is_default,created_at) VALUES (?,?,?,?)`,
				id, wc.Name, boolToInt(wc.Default), now); err != nil {
				return err
			}
		} else if err != nil {
			return err
		} else {
			if _, err := tx.ExecContext(ctx, `UPDATE workflows SET is_default=? WHERE id=?`, boolToInt(wc.Default), id); err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `DELETE FROM workflow_stages WHERE workflow_id=?`, id); err != nil {
				return err
			}
		}
		if wc.Default {
			if _, err := tx.ExecContext(ctx, `UPDATE workflows SET is_default=0 WHERE id != ?`, id); err != nil {
				return err
			}
		}
		for _, sc := range wc.Stages {
			if _, err := tx.ExecContext(ctx, `INSERT INTO workflow_stages(id,workflow_id,group_id,ord,optional) VALUES (?,?,?,?,?)`,
				newID(), id, sc.Group, sc.Order, boolToInt(sc.Optional)); err != nil {
				return err
			}
		}
	}
	return tx.Commit()
}

func (r Repo) LatestEvents(ctx context.Context, limit int, siteID, evtType, entityKind, entityID string) ([]domain.Event, error) {
	return r.LatestEventsFrom(ctx, limit, 0, siteID, evtType, entityKind, entityID)
}

func (r Repo) LatestEventsFrom(ctx context.Context, limit int, cursor int64, siteID, evtType, entityKind, entityID string) ([]domain.Event, error) {
	clauses := []string{"1=1"}
	var args []any
	if siteID != "" {
		clauses = append(clauses, "site_id=?")
		args = append(args, siteID)
	}
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	if entityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, entityKind)
	}
	if entityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, entityID)
	}
	if cursor > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, cursor)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,ts,type,site_id,entity_kind,entity_id,actor_id,payload_json FROM events %s ORDER BY id DESC LIMIT ?`, where)
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.SiteID, &e.EntityKind, &e.EntityID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// EventsAfter returns events with IDs greater than the cursor in ascending order.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64, siteID string) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	clauses := []string{"1=1"}
	var args []any
	if siteID != "" {
		clauses = append(clauses, "site_id=?")
		args = append(args, siteID)
	}
	if cursor > 0 {
		clauses = append(clauses, "id>?")
		args = append(args, cursor)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,ts,type,site_id,entity_kind,entity_id,actor_id,payload_json FROM events %s ORDER BY id ASC LIMIT ?`, where)
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.SiteID, &e.EntityKind, &e.EntityID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// LatestEventID returns the most recent event ID for a site.
func (r Repo) LatestEventID(ctx context.Context, siteID string) (int64, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM events WHERE site_id=?`, siteID)
	var id int64
	if err := row.Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
