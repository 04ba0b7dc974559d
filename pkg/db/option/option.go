package option

import (
	"regexp"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// QueryOption mutates a gorm query before execution.
type QueryOption interface {
	Apply(*gorm.DB) *gorm.DB
}

var columnPattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

type sortOption struct {
	column string
	desc   bool
}

func (o sortOption) Apply(db *gorm.DB) *gorm.DB {
	if !columnPattern.MatchString(o.column) {
		return db
	}
	return db.Order(clause.OrderByColumn{
		Column: clause.Column{Name: o.column},
		Desc:   o.desc,
	})
}

// WithSortBy orders results by a snake_case column. Unknown column shapes are
// ignored rather than interpolated.
func WithSortBy(column string, desc bool) QueryOption {
	return sortOption{column: column, desc: desc}
}

type limitOption struct {
	limit int
}

func (o limitOption) Apply(db *gorm.DB) *gorm.DB {
	if o.limit <= 0 {
		return db
	}
	return db.Limit(o.limit)
}

// WithLimit caps the result set size.
func WithLimit(limit int) QueryOption {
	return limitOption{limit: limit}
}

type offsetOption struct {
	offset int
}

func (o offsetOption) Apply(db *gorm.DB) *gorm.DB {
	if o.offset <= 0 {
		return db
	}
	return db.Offset(o.offset)
}

// WithOffset skips the first rows of the result set.
func WithOffset(offset int) QueryOption {
	return offsetOption{offset: offset}
}

type unscopedOption struct{}

func (o unscopedOption) Apply(db *gorm.DB) *gorm.DB {
	return db.Unscoped()
}

// WithUnscoped includes soft-deleted rows in the result set.
func WithUnscoped() QueryOption {
	return unscopedOption{}
}
