package auditlog

import "context"

type Repository interface {
	Insert(ctx context.Context, e *Entry) error
	// List returns entries newest first, optionally restricted to one event
	// name.
	List(ctx context.Context, event string, limit, offset int) ([]*Entry, int, error)
}
