package storage

import (
	"context"
	"errors"
	"time"
)

// Collection names used across the pipeline.
const (
	CollectionProfiles = "profiles"
	CollectionPayments = "payments"
)

// Profile status values stored in the "status" field of profile documents.
const (
	ProfileStatusPending = "pending"
	ProfileStatusActive  = "active"
)

// ErrNotFound is returned when a document does not exist.
var ErrNotFound = errors.New("document not found")

// Document is a stored record plus its server-assigned timestamps.
type Document struct {
	ID        string
	Data      map[string]any
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Filter is a single equality constraint for Query.
type Filter struct {
	Field string
	Value any
}

// Tx exposes the store operations available inside RunTransaction. All
// writes performed through a Tx become visible atomically when the
// transaction function returns nil.
type Tx interface {
	Get(collection, id string) (*Document, error)
	Set(collection, id string, data map[string]any) error
	Update(collection, id string, data map[string]any) error
}

// Store is the document store contract the pipeline depends on. Updates are
// last-write-wins; the pipeline holds no locks across calls.
type Store interface {
	Get(ctx context.Context, collection, id string) (*Document, error)
	Set(ctx context.Context, collection, id string, data map[string]any) error
	Update(ctx context.Context, collection, id string, data map[string]any) error
	Delete(ctx context.Context, collection, id string) error
	Query(ctx context.Context, collection string, filters []Filter) ([]*Document, error)
	RunTransaction(ctx context.Context, fn func(tx Tx) error) error
}
