package server

import (
	"errors"

	rollup "github.com/diewerk/toolledger/internal/rollup"
	tooldomain "github.com/diewerk/toolledger/internal/tool/domain"
	"gorm.io/gorm"
)

// classifyErrorForLog buckets an error into a coarse type and a stable code
// for the request log.
func classifyErrorForLog(err error) (string, string) {
	switch {
	case err == nil:
		return "", ""
	case errors.Is(err, tooldomain.ErrToolNotFound),
		errors.Is(err, tooldomain.ErrEventNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return "not_found", err.Error()
	case errors.Is(err, tooldomain.ErrToolExists),
		errors.Is(err, tooldomain.ErrConflict):
		return "conflict", err.Error()
	case errors.Is(err, tooldomain.ErrToolRetired),
		errors.Is(err, tooldomain.ErrInvalidToolID),
		errors.Is(err, tooldomain.ErrInvalidStatus),
		errors.Is(err, tooldomain.ErrInvalidEventType),
		errors.Is(err, tooldomain.ErrInvalidBaseline),
		errors.Is(err, tooldomain.ErrInvalidLife),
		errors.Is(err, rollup.ErrInvalidToolID),
		errors.Is(err, rollup.ErrInvalidDate),
		errors.Is(err, rollup.ErrInvalidRange):
		return "validation", err.Error()
	default:
		return "internal", "internal_error"
	}
}
