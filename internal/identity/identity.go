package identity

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// Directory answers group-membership questions backed by SQL. It stands in
// for the identity provider that owns users and groups.
type Directory struct {
	DB *sql.DB
}

func (d Directory) EnsureUser(ctx context.Context, tx *sql.Tx, userID string) error {
	if userID == "" {
		return errors.New("user_id required")
	}
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO users(id, email, created_at) VALUES (?,'',?)`, userID, now)
	return err
}

func (d Directory) IsMember(ctx context.Context, tx *sql.Tx, groupID, userID string) (bool, error) {
	row := tx.QueryRowContext(ctx, `SELECT 1 FROM group_members WHERE group_id=? AND user_id=? LIMIT 1`, groupID, userID)
	var n int
	err := row.Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

func (d Directory) GroupsOf(ctx context.Context, tx *sql.Tx, userID string) ([]string, error) {
	rows, err := tx.QueryContext(ctx, `SELECT group_id FROM group_members WHERE user_id=?`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var groups []string
	for rows.Next() {
		var g string
		if err := rows.Scan(&g); err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

// MembersOf returns user ids of a group's members.
func (d Directory) MembersOf(ctx context.Context, tx *sql.Tx, groupID string) ([]string, error) {
	rows, err := tx.QueryContext(ctx, `SELECT user_id FROM group_members WHERE group_id=? ORDER BY user_id ASC`, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var users []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// MemberEmails returns the addresses of a group's members, skipping members
// without one.
func (d Directory) MemberEmails(ctx context.Context, tx *sql.Tx, groupID string) ([]string, error) {
	rows, err := tx.QueryContext(ctx, `SELECT u.email FROM users u
JOIN group_members m ON m.user_id=u.id WHERE m.group_id=? AND u.email != '' ORDER BY u.email ASC`, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var emails []string
	for rows.Next() {
		var e string
		if err := rows.Scan(&e); err != nil {
			return nil, err
		}
		emails = append(emails, e)
	}
	return emails, rows.Err()
}
