// Package gateway is the boundary to the external persistence backend that
// stores projects' models and fields.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/matthewbaird/schemacanvas/internal/types"
)

// Operation names, used in errors, logs and metrics.
const (
	OpListModels  = "list_models"
	OpCreateModel = "create_model"
	OpUpdateModel = "update_model"
	OpDeleteModel = "delete_model"
	OpCreateField = "create_field"
	OpUpdateField = "update_field"
	OpDeleteField = "delete_field"
)

// Gateway persists models and fields. Mutations return the authoritative
// entity, which replaces the caller's optimistic copy.
type Gateway interface {
	ListModels(ctx context.Context, projectID string) ([]types.Model, error)
	CreateModel(ctx context.Context, projectID string, in types.ModelInput) (types.Model, error)
	UpdateModel(ctx context.Context, projectID, modelID string, patch types.ModelPatch) (types.Model, error)
	DeleteModel(ctx context.Context, projectID, modelID string) error
	CreateField(ctx context.Context, projectID, modelID string, in types.FieldInput) (types.Field, error)
	UpdateField(ctx context.Context, projectID, modelID, fieldID string, patch types.FieldPatch) (types.Field, error)
	DeleteField(ctx context.Context, projectID, modelID, fieldID string) error
}

// ErrSyncFailure matches every *SyncError via errors.Is.
var ErrSyncFailure = errors.New("sync failure")

// SyncError is a network or backend failure of a persistence call. It is
// recoverable: the caller reverts its optimistic state and may retry.
type SyncError struct {
	Op         string
	StatusCode int
	Message    string
	Err        error
}

func (e *SyncError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Message != "":
		return fmt.Sprintf("%s: backend returned %d: %s", e.Op, e.StatusCode, e.Message)
	case e.StatusCode != 0:
		return fmt.Sprintf("%s: backend returned %d", e.Op, e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
}

func (e *SyncError) Unwrap() error { return e.Err }

// Is matches ErrSyncFailure.
func (e *SyncError) Is(target error) bool { return target == ErrSyncFailure }

// Retryable reports whether repeating the call may succeed.
func (e *SyncError) Retryable() bool {
	return e.StatusCode == 0 || e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// AsSyncError extracts a *SyncError from err.
func AsSyncError(err error) (*SyncError, bool) {
	var se *SyncError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}
