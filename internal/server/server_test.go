package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/diewerk/toolledger/internal/observability"
	tooldomain "github.com/diewerk/toolledger/internal/tool/domain"
	pkgdb "github.com/diewerk/toolledger/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpsEndpoints(t *testing.T) {
	conn, err := pkgdb.NewTest()
	require.NoError(t, err)

	engine := NewEngine(observability.Config{Environment: "test"}, nil, conn)

	for _, tc := range []struct {
		path   string
		status int
	}{
		{path: "/health", status: http.StatusOK},
		{path: "/ready", status: http.StatusOK},
		{path: "/metrics", status: http.StatusOK},
	} {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, tc.path, nil)
		engine.ServeHTTP(rec, req)
		assert.Equal(t, tc.status, rec.Code, tc.path)
	}
}

func TestClassifyErrorForLog(t *testing.T) {
	errType, code := classifyErrorForLog(tooldomain.ErrToolNotFound)
	assert.Equal(t, "not_found", errType)
	assert.Equal(t, "tool_not_found", code)

	errType, _ = classifyErrorForLog(tooldomain.ErrToolExists)
	assert.Equal(t, "conflict", errType)

	errType, _ = classifyErrorForLog(tooldomain.ErrInvalidLife)
	assert.Equal(t, "validation", errType)

	errType, code = classifyErrorForLog(assert.AnError)
	assert.Equal(t, "internal", errType)
	assert.Equal(t, "internal_error", code)
}
