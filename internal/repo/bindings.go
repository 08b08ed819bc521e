package repo

import (
	"context"
	"database/sql"

	"signoff/internal/domain"
)

func (r Repo) UpsertBinding(ctx context.Context, b domain.Binding) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO workflow_bindings(title_id,workflow_id,descendants,created_at) VALUES (?,?,?,?)
ON CONFLICT(title_id) DO UPDATE SET workflow_id=excluded.workflow_id, descendants=excluded.descendants`,
		b.TitleID, b.WorkflowID, boolToInt(b.Descendants), b.CreatedAt)
	return err
}

func scanBinding(row *sql.Row) (domain.Binding, error) {
	var b domain.Binding
	var desc int
	err := row.Scan(&b.TitleID, &b.WorkflowID, &desc, &b.CreatedAt)
	if err == sql.ErrNoRows {
		return b, ErrNotFound
	}
	b.Descendants = desc != 0
	return b, err
}

func (r Repo) GetBinding(ctx context.Context, titleID string) (domain.Binding, error) {
	return scanBinding(r.DB.QueryRowContext(ctx, `SELECT title_id,workflow_id,descendants,created_at FROM workflow_bindings WHERE title_id=?`, titleID))
}

func (r Repo) DeleteBinding(ctx context.Context, titleID string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM workflow_bindings WHERE title_id=?`, titleID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) ListBindings(ctx context.Context) ([]domain.Binding, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT title_id,workflow_id,descendants,created_at FROM workflow_bindings ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Binding
	for rows.Next() {
		var b domain.Binding
		var desc int
		if err := rows.Scan(&b.TitleID, &b.WorkflowID, &desc, &b.CreatedAt); err != nil {
			return nil, err
		}
		b.Descendants = desc != 0
		res = append(res, b)
	}
	return res, rows.Err()
}
