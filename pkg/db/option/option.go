package option

import (
	"github.com/smallbiznis/fxpay/pkg/db/pagination"
	"gorm.io/gorm"
)

// QueryOption mutates a gorm statement before it runs.
type QueryOption interface {
	Apply(*gorm.DB) *gorm.DB
}

type QueryOptionFunc func(*gorm.DB) *gorm.DB

func (f QueryOptionFunc) Apply(db *gorm.DB) *gorm.DB { return f(db) }

// ApplyPagination seeks past the page token on (created_at desc, id desc) and
// fetches one extra row so callers can tell whether another page exists.
func ApplyPagination(page pagination.Pagination) QueryOption {
	return QueryOptionFunc(func(db *gorm.DB) *gorm.DB {
		if page.PageToken != "" {
			if cursor, err := pagination.DecodeCursor(page.PageToken); err == nil {
				db = db.Where("(created_at < ?) OR (created_at = ? AND id < ?)",
					cursor.CreatedAt, cursor.CreatedAt, cursor.ID)
			} else {
				_ = db.AddError(err)
			}
		}
		return db.Limit(page.Limit() + 1)
	})
}

// WithOrder overrides the default ordering.
func WithOrder(order string) QueryOption {
	return QueryOptionFunc(func(db *gorm.DB) *gorm.DB {
		return db.Order(order)
	})
}
