package repo

import (
	"context"
	"database/sql"
	"fmt"

	"signoff/internal/domain"
)

// The content registry is a small stand-in for the CMS that owns pages and
// titles. It exists so workflow resolution, bindings, and the publish hook
// can run against a real page tree.

func (r Repo) InsertPage(ctx context.Context, p domain.Page) error {
	if p.ParentID != nil {
		parent, err := r.GetPage(ctx, *p.ParentID)
		if err != nil {
			return fmt.Errorf("parent page: %w", err)
		}
		p.Depth = parent.Depth + 1
	}
	_, err := r.DB.ExecContext(ctx, `INSERT INTO pages(id,site_id,parent_id,depth,slug,created_at) VALUES (?,?,?,?,?,?)`,
		p.ID, p.SiteID, nullableStringPtr(p.ParentID), p.Depth, p.Slug, p.CreatedAt)
	return err
}

func (r Repo) GetPage(ctx context.Context, id string) (domain.Page, error) {
	var p domain.Page
	var parent sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT id,site_id,parent_id,depth,slug,created_at FROM pages WHERE id=?`, id).
		Scan(&p.ID, &p.SiteID, &parent, &p.Depth, &p.Slug, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if parent.Valid {
		p.ParentID = &parent.String
	}
	return p, err
}

func (r Repo) ListPages(ctx context.Context, siteID string) ([]domain.Page, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,site_id,parent_id,depth,slug,created_at FROM pages WHERE site_id=? ORDER BY depth ASC, slug ASC`, siteID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Page
	for rows.Next() {
		var p domain.Page
		var parent sql.NullString
		if err := rows.Scan(&p.ID, &p.SiteID, &parent, &p.Depth, &p.Slug, &p.CreatedAt); err != nil {
			return nil, err
		}
		if parent.Valid {
			p.ParentID = &parent.String
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// AncestorPages walks parent pointers bottom-up, nearest first. The walk is
// bounded by depth so a corrupted parent cycle cannot loop forever.
func (r Repo) AncestorPages(ctx context.Context, pageID string) ([]domain.Page, error) {
	page, err := r.GetPage(ctx, pageID)
	if err != nil {
		return nil, err
	}
	var res []domain.Page
	for i := 0; page.ParentID != nil; i++ {
		if i > page.Depth+len(res)+64 {
			return nil, fmt.Errorf("page ancestry cycle at %s", page.ID)
		}
		parent, err := r.GetPage(ctx, *page.ParentID)
		if err != nil {
			return nil, err
		}
		res = append(res, parent)
		page = parent
	}
	return res, nil
}

func (r Repo) InsertTitle(ctx context.Context, t domain.Title) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO titles(id,page_id,language,text,draft,created_at) VALUES (?,?,?,?,?,?)`,
		t.ID, t.PageID, t.Language, t.Text, boolToInt(t.Draft), t.CreatedAt)
	return err
}

func scanTitle(row *sql.Row) (domain.Title, error) {
	var t domain.Title
	var draft int
	err := row.Scan(&t.ID, &t.PageID, &t.Language, &t.Text, &draft, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	t.Draft = draft != 0
	return t, err
}

func (r Repo) GetTitle(ctx context.Context, id string) (domain.Title, error) {
	return scanTitle(r.DB.QueryRowContext(ctx, `SELECT id,page_id,language,text,draft,created_at FROM titles WHERE id=?`, id))
}

func (r Repo) GetTitleTx(ctx context.Context, tx *sql.Tx, id string) (domain.Title, error) {
	return scanTitle(tx.QueryRowContext(ctx, `SELECT id,page_id,language,text,draft,created_at FROM titles WHERE id=?`, id))
}

func (r Repo) TitleForPage(ctx context.Context, pageID, language string) (domain.Title, error) {
	return scanTitle(r.DB.QueryRowContext(ctx, `SELECT id,page_id,language,text,draft,created_at FROM titles WHERE page_id=? AND language=?`, pageID, language))
}

func (r Repo) ListTitles(ctx context.Context, pageID string) ([]domain.Title, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,page_id,language,text,draft,created_at FROM titles WHERE page_id=? ORDER BY language ASC`, pageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Title
	for rows.Next() {
		var t domain.Title
		var draft int
		if err := rows.Scan(&t.ID, &t.PageID, &t.Language, &t.Text, &draft, &t.CreatedAt); err != nil {
			return nil, err
		}
		t.Draft = draft != 0
		res = append(res, t)
	}
	return res, rows.Err()
}

func (r Repo) SetTitleDraft(ctx context.Context, tx *sql.Tx, id string, draft bool) error {
	res, err := tx.ExecContext(ctx, `UPDATE titles SET draft=? WHERE id=?`, boolToInt(draft), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) UpdateTitleText(ctx context.Context, id, text string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE titles SET text=? WHERE id=?`, text, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
