package service

import (
	"context"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/diewerk/toolledger/internal/factory/domain"
	pkgdb "github.com/diewerk/toolledger/pkg/db"
	"github.com/diewerk/toolledger/pkg/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestService(t *testing.T) domain.Service {
	t.Helper()

	conn, err := pkgdb.NewTest()
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := conn.AutoMigrate(&domain.Factory{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	node, err := snowflake.NewNode(3)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}

	return NewService(Params{
		Log:   zap.NewNop(),
		GenID: node,
		Store: repository.ProvideStore[domain.Factory](conn),
	})
}

func TestEnsureIsIdempotent(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	first, err := svc.Ensure(ctx, domain.EnsureRequest{
		Name:         "Madern",
		Capabilities: []string{"regrinding", "resegmentation"},
	})
	require.NoError(t, err)
	assert.Equal(t, "madern", first.Slug)
	assert.True(t, first.Capable("resegmentation"))
	assert.False(t, first.Capable("lasering"))

	second, err := svc.Ensure(ctx, domain.EnsureRequest{Name: "Madern"})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	_, err = svc.Ensure(ctx, domain.EnsureRequest{Name: "  "})
	assert.ErrorIs(t, err, domain.ErrInvalidName)
}

func TestDisplayNames(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	madern, err := svc.Ensure(ctx, domain.EnsureRequest{Name: "Madern"})
	require.NoError(t, err)
	toolshop, err := svc.Ensure(ctx, domain.EnsureRequest{Name: "In-House Toolshop"})
	require.NoError(t, err)

	names, err := svc.DisplayNames(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Madern", names[madern.ID])
	assert.Equal(t, "In-House Toolshop", names[toolshop.ID])

	found, err := svc.GetBySlug(ctx, "In-House Toolshop")
	require.NoError(t, err)
	assert.Equal(t, toolshop.ID, found.ID)

	_, err = svc.Get(ctx, "oops")
	assert.ErrorIs(t, err, domain.ErrInvalidFactoryID)
}
