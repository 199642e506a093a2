package records

import (
	"context"

	"github.com/dmitrijs2005/invoicekeeper/internal/client/models"
)

// Repository describes whole-record operations on one collection.
type Repository interface {
	// Collection reports which collection the repository is bound to.
	Collection() models.Collection

	// GetAll returns every record ordered by id.
	GetAll(ctx context.Context) ([]models.Record, error)

	// GetByID returns a record or common.ErrNotFound.
	GetByID(ctx context.Context, id string) (models.Record, error)

	// Upsert inserts the record or replaces the stored one with the same id.
	Upsert(ctx context.Context, r models.Record) error

	// DeleteByID removes a record. Missing ids yield common.ErrNotFound.
	DeleteByID(ctx context.Context, id string) error

	// Clear removes every record of the collection.
	Clear(ctx context.Context) error
}
