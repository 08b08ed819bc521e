package repo

import (
	"context"
	"database/sql"

	"signoff/internal/domain"
)

const actionColumns = `id,title_id,workflow_id,stage_id,group_id,root_id,parent_id,depth,kind,user_id,message,created_at`

func (r Repo) InsertActionTx(ctx context.Context, tx *sql.Tx, a domain.Action) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO actions(`+actionColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		a.ID, a.TitleID, a.WorkflowID, nullableStringPtr(a.StageID), nullableStringPtr(a.GroupID),
		a.RootID, nullableStringPtr(a.ParentID), a.Depth, a.Kind, nullableStringPtr(a.UserID), a.Message, a.CreatedAt)
	return err
}

func scanActionRow(row *sql.Row) (domain.Action, error) {
	var a domain.Action
	var stageID, groupID, parentID, userID sql.NullString
	err := row.Scan(&a.ID, &a.TitleID, &a.WorkflowID, &stageID, &groupID, &a.RootID, &parentID, &a.Depth, &a.Kind, &userID, &a.Message, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	if stageID.Valid {
		a.StageID = &stageID.String
	}
	if groupID.Valid {
		a.GroupID = &groupID.String
	}
	if parentID.Valid {
		a.ParentID = &parentID.String
	}
	if userID.Valid {
		a.UserID = &userID.String
	}
	return a, err
}

func scanActions(rows *sql.Rows) ([]domain.Action, error) {
	var res []domain.Action
	for rows.Next() {
		var a domain.Action
		var stageID, groupID, parentID, userID sql.NullString
		if err := rows.Scan(&a.ID, &a.TitleID, &a.WorkflowID, &stageID, &groupID, &a.RootID, &parentID, &a.Depth, &a.Kind, &userID, &a.Message, &a.CreatedAt); err != nil {
			return nil, err
		}
		if stageID.Valid {
			a.StageID = &stageID.String
		}
		if groupID.Valid {
			a.GroupID = &groupID.String
		}
		if parentID.Valid {
			a.ParentID = &parentID.String
		}
		if userID.Valid {
			a.UserID = &userID.String
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

func (r Repo) GetAction(ctx context.Context, id string) (domain.Action, error) {
	return scanActionRow(r.DB.QueryRowContext(ctx, `SELECT `+actionColumns+` FROM actions WHERE id=?`, id))
}

// LatestRoot returns the most recent request action of a title. The chain it
// roots is the title's current chain, open or closed.
func (r Repo) LatestRoot(ctx context.Context, titleID string) (domain.Action, error) {
	return scanActionRow(r.DB.QueryRowContext(ctx,
		`SELECT `+actionColumns+` FROM actions WHERE title_id=? AND kind=? ORDER BY created_at DESC, id DESC LIMIT 1`,
		titleID, domain.KindRequest))
}

func (r Repo) LatestRootTx(ctx context.Context, tx *sql.Tx, titleID string) (domain.Action, error) {
	return scanActionRow(tx.QueryRowContext(ctx,
		`SELECT `+actionColumns+` FROM actions WHERE title_id=? AND kind=? ORDER BY created_at DESC, id DESC LIMIT 1`,
		titleID, domain.KindRequest))
}

// LastOfChainTx returns the deepest, most recent node of a chain. Chain order
// is (depth, created), so this is the node every derived check keys off.
func (r Repo) LastOfChainTx(ctx context.Context, tx *sql.Tx, rootID string) (domain.Action, error) {
	return scanActionRow(tx.QueryRowContext(ctx,
		`SELECT `+actionColumns+` FROM actions WHERE root_id=? ORDER BY depth DESC, created_at DESC, id DESC LIMIT 1`,
		rootID))
}

func (r Repo) LastOfChain(ctx context.Context, rootID string) (domain.Action, error) {
	return scanActionRow(r.DB.QueryRowContext(ctx,
		`SELECT `+actionColumns+` FROM actions WHERE root_id=? ORDER BY depth DESC, created_at DESC, id DESC LIMIT 1`,
		rootID))
}

func (r Repo) ChainActions(ctx context.Context, rootID string) ([]domain.Action, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+actionColumns+` FROM actions WHERE root_id=? ORDER BY depth ASC, created_at ASC, id ASC`, rootID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanActions(rows)
}

func (r Repo) ListActionsForTitle(ctx context.Context, titleID string) ([]domain.Action, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+actionColumns+` FROM actions WHERE title_id=? ORDER BY created_at ASC, depth ASC, id ASC`, titleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanActions(rows)
}

// TitlesWithActions lists the ids of titles that have at least one action.
func (r Repo) TitlesWithActions(ctx context.Context) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT DISTINCT title_id FROM actions ORDER BY title_id ASC`)
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
	return ids, rows.Err()
}
