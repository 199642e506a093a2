package records

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/invoicekeeper/internal/client/models"
	"github.com/dmitrijs2005/invoicekeeper/internal/common"
	"github.com/dmitrijs2005/invoicekeeper/internal/dbx"
)

// SQLiteRepository implements Repository using a DBTX (either *sql.DB or *sql.Tx).
type SQLiteRepository struct {
	db dbx.DBTX
	c  models.Collection
}

// NewSQLiteRepository returns a repository for collection c bound to db.
// The table name comes from the fixed collection list, never from input.
func NewSQLiteRepository(db dbx.DBTX, c models.Collection) *SQLiteRepository {
	return &SQLiteRepository{db: db, c: c}
}

func (r *SQLiteRepository) Collection() models.Collection { return r.c }

func (r *SQLiteRepository) GetAll(ctx context.Context) ([]models.Record, error) {
	query := fmt.Sprintf(`SELECT id, updated_at, data FROM %s ORDER BY id`, r.c.Table)
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to select %s: %w", r.c.Name, err)
	}
	defer rows.Close()

	result := []models.Record{}
	for rows.Next() {
		var item models.Record
		var data []byte
		if err := rows.Scan(&item.ID, &item.UpdatedAt, &data); err != nil {
			return nil, fmt.Errorf("failed to scan %s row: %w", r.c.Name, err)
		}
		item.Raw = data
		result = append(result, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate %s rows: %w", r.c.Name, err)
	}
	return result, nil
}

func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (models.Record, error) {
	query := fmt.Sprintf(`SELECT id, updated_at, data FROM %s WHERE id = ?`, r.c.Table)

	var item models.Record
	var data []byte
	err := r.db.QueryRowContext(ctx, query, id).Scan(&item.ID, &item.UpdatedAt, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Record{}, fmt.Errorf("%s[%s]: %w", r.c.Name, id, common.ErrNotFound)
	}
	if err != nil {
		return models.Record{}, fmt.Errorf("failed to get %s[%s]: %w", r.c.Name, id, err)
	}
	item.Raw = data
	return item, nil
}

func (r *SQLiteRepository) Upsert(ctx context.Context, rec models.Record) error {
	if rec.ID == "" {
		return fmt.Errorf("upsert %s: empty %s", r.c.Name, r.c.KeyField)
	}
	query := fmt.Sprintf(`
		INSERT INTO %s (id, updated_at, data) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET updated_at = excluded.updated_at, data = excluded.data
	`, r.c.Table)
	if _, err := r.db.ExecContext(ctx, query, rec.ID, rec.UpdatedAt, []byte(rec.Raw)); err != nil {
		return fmt.Errorf("failed to upsert %s[%s]: %w", r.c.Name, rec.ID, err)
	}
	return nil
}

func (r *SQLiteRepository) DeleteByID(ctx context.Context, id string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE id = ?`, r.c.Table)
	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete %s[%s]: %w", r.c.Name, id, err)
	}
	ra, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if ra == 0 {
		return fmt.Errorf("%s[%s]: %w", r.c.Name, id, common.ErrNotFound)
	}
	return nil
}

func (r *SQLiteRepository) Clear(ctx context.Context) error {
	query := fmt.Sprintf(`DELETE FROM %s`, r.c.Table)
	if _, err := r.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to clear %s: %w", r.c.Name, err)
	}
	return nil
}
