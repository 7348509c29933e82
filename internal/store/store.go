// Package store persists user records and the template registry. The core
// pipeline depends only on the UserStore and TemplateStore interfaces; the
// file implementations keep the on-disk layout (one JSON document per user,
// one per template version) behind them, and in-memory fakes back the tests.
package store

import (
	"context"
	"errors"

	"latentloop/internal/schema"
)

// ErrNotFound is wrapped by Get calls for records that do not exist.
var ErrNotFound = errors.New("store: not found")

// UserStore provides whole-record access to per-user records. Partial or
// streaming access is deliberately absent; every stage reads, mutates, and
// writes the full record.
type UserStore interface {
	// List returns all known user ids.
	List(ctx context.Context) ([]string, error)
	Get(ctx context.Context, id string) (*schema.User, error)
	Put(ctx context.Context, id string, user *schema.User) error
}

// TemplateStore is the process-wide template registry. Versions are written
// exactly once, by the synthesis stage; Latest is an explicit monotonic
// counter, not a directory scan.
type TemplateStore interface {
	// Latest returns the highest version number, or ErrNotFound when the
	// registry holds no templates at all.
	Latest(ctx context.Context) (int, error)
	Exists(ctx context.Context, version int) (bool, error)
	Get(ctx context.Context, version int) (*schema.Template, error)
	Put(ctx context.Context, version int, t *schema.Template) error
}
