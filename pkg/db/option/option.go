package option

import (
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// QueryOption customizes a repository query.
type QueryOption interface {
	Apply(db *gorm.DB) *gorm.DB
}

type queryFunc func(db *gorm.DB) *gorm.DB

func (f queryFunc) Apply(db *gorm.DB) *gorm.DB { return f(db) }

func OrderBy(column string, desc bool) QueryOption {
	return queryFunc(func(db *gorm.DB) *gorm.DB {
		return db.Order(clause.OrderByColumn{Column: clause.Column{Name: column}, Desc: desc})
	})
}

func Limit(n int) QueryOption {
	return queryFunc(func(db *gorm.DB) *gorm.DB {
		if n <= 0 {
			return db
		}
		return db.Limit(n)
	})
}

func Where(query any, args ...any) QueryOption {
	return queryFunc(func(db *gorm.DB) *gorm.DB {
		return db.Where(query, args...)
	})
}

// ForUpdate takes a row lock on dialects that support it; SQLite already
// serializes writers.
func ForUpdate() QueryOption {
	return queryFunc(func(db *gorm.DB) *gorm.DB {
		if db.Dialector.Name() == "sqlite" {
			return db
		}
		return db.Clauses(clause.Locking{Strength: "UPDATE"})
	})
}
