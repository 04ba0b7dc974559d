// Package domain contains the maintenance-site reference data.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/lib/pq"
)

// Factory is a maintenance site tools are sent to for regrinding or
// resegmentation. Reference data, seeded at migration time.
type Factory struct {
	ID           snowflake.ID   `gorm:"primaryKey"`
	Name         string         `gorm:"type:text;not null"`
	Slug         string         `gorm:"type:text;not null;uniqueIndex"`
	Capabilities pq.StringArray `gorm:"type:text[]"`
	CreatedAt    time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt    time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Factory) TableName() string { return "factories" }

// Capable reports whether the site offers the given maintenance operation.
func (f *Factory) Capable(operation string) bool {
	for _, capability := range f.Capabilities {
		if capability == operation {
			return true
		}
	}
	return false
}

type EnsureRequest struct {
	Name         string
	Capabilities []string
}

type Service interface {
	Get(ctx context.Context, factoryID string) (*Factory, error)
	GetBySlug(ctx context.Context, slug string) (*Factory, error)
	List(ctx context.Context) ([]Factory, error)
	// Ensure creates the site if no factory with the name's slug exists yet and
	// returns it either way.
	Ensure(ctx context.Context, req EnsureRequest) (*Factory, error)
	// DisplayNames maps factory IDs to names for presentation.
	DisplayNames(ctx context.Context) (map[snowflake.ID]string, error)
}

var (
	ErrFactoryNotFound  = errors.New("factory_not_found")
	ErrInvalidFactoryID = errors.New("invalid_factory_id")
	ErrInvalidName      = errors.New("invalid_factory_name")
)
