package repo

import (
	"context"
	"database/sql"
	"time"

	"signoff/internal/config"
	"signoff/internal/domain"
)

func (r Repo) EnsureUser(ctx context.Context, tx *sql.Tx, userID, email, now string) error {
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO users(id, email, created_at) VALUES (?,?,?)`, userID, email, now)
	return err
}

func (r Repo) GetUser(ctx context.Context, id string) (domain.User, error) {
	var u domain.User
	err := r.DB.QueryRowContext(ctx, `SELECT id,email,name,created_at FROM users WHERE id=?`, id).
		Scan(&u.ID, &u.Email, &u.Name, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return u, ErrNotFound
	}
	return u, err
}

func (r Repo) EnsureGroup(ctx context.Context, tx *sql.Tx, groupID, name, now string) error {
	if name == "" {
		name = groupID
	}
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO groups(id, name, created_at) VALUES (?,?,?)`, groupID, name, now)
	return err
}

func (r Repo) GetGroup(ctx context.Context, id string) (domain.Group, error) {
	var g domain.Group
	err := r.DB.QueryRowContext(ctx, `SELECT id,name,created_at FROM groups WHERE id=?`, id).
		Scan(&g.ID, &g.Name, &g.CreatedAt)
	if err == sql.ErrNoRows {
		return g, ErrNotFound
	}
	return g, err
}

func (r Repo) ListGroups(ctx context.Context) ([]domain.Group, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,created_at FROM groups ORDER BY name ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Group
	for rows.Next() {
		var g domain.Group
		if err := rows.Scan(&g.ID, &g.Name, &g.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, g)
	}
	return res, rows.Err()
}

func (r Repo) AddMember(ctx context.Context, tx *sql.Tx, groupID, userID string) error {
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO group_members(group_id, user_id) VALUES (?,?)`, groupID, userID)
	return err
}

// AddGroupMember ensures the user exists, updates their email when one is
// provided, and adds them to the group.
func (r Repo) AddGroupMember(ctx context.Context, groupID, userID, email string) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	now := time.Now().UTC().Format(time.RFC3339)
	if err := r.EnsureUser(ctx, tx, userID, email, now); err != nil {
		return err
	}
	if email != "" {
		if _, err := tx.ExecContext(ctx, `UPDATE users SET email=? WHERE id=?`, email, userID); err != nil {
			return err
		}
	}
	if err := r.AddMember(ctx, tx, groupID, userID); err != nil {
		return err
	}
	return tx.Commit()
}

func (r Repo) RemoveMember(ctx context.Context, tx *sql.Tx, groupID, userID string) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM group_members WHERE group_id=? AND user_id=?`, groupID, userID)
	return err
}

func (r Repo) ListMembers(ctx context.Context, groupID string) ([]domain.User, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT u.id,u.email,u.name,u.created_at FROM users u
JOIN group_members m ON m.user_id=u.id WHERE m.group_id=? ORDER BY u.id ASC`, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.User
	for rows.Next() {
		var u domain.User
		if err := rows.Scan(&u.ID, &u.Email, &u.Name, &u.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, u)
	}
	return res, rows.Err()
}

// ReplaceGroupsFromConfig imports declarative group definitions, replacing
// each listed group's membership wholesale. Groups not listed are untouched.
func (r Repo) ReplaceGroupsFromConfig(ctx context.Context, groups []config.GroupConfig) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := r.ReplaceGroupsFromConfigTx(ctx, tx, groups); err != nil {
		return err
	}
	return tx.Commit()
}

func (r Repo) ReplaceGroupsFromConfigTx(ctx context.Context, tx *sql.Tx, groups []config.GroupConfig) error {
	now := time.Now().UTC().Format(time.RFC3339)
	for _, g := range groups {
		if err := r.EnsureGroup(ctx, tx, g.ID, g.Name, now); err != nil {
			return err
		}
		if g.Name != "" {
			if _, err := tx.ExecContext(ctx, `UPDATE groups SET name=? WHERE id=?`, g.Name, g.ID); err != nil {
				return err
			}
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM group_members WHERE group_id=?`, g.ID); err != nil {
			return err
		}
		for _, m := range g.Members {
			if err := r.EnsureUser(ctx, tx, m, "", now); err != nil {
				return err
			}
			if err := r.AddMember(ctx, tx, g.ID, m); err != nil {
				return err
			}
		}
	}
	return nil
}
