package store

import "context"

// HashStore is the key-value hash API the session layer is written against.
// Implementations serialize operations per key; callers never lock.
type HashStore interface {
	SetField(ctx context.Context, key, field, value string) error
	// SetFields writes several fields of one hash in a single round trip.
	SetFields(ctx context.Context, key string, fields map[string]string) error
	// SetFieldIfAbsent reports whether the field was written.
	SetFieldIfAbsent(ctx context.Context, key, field, value string) (bool, error)
	// GetField reports false when the field does not exist.
	GetField(ctx context.Context, key, field string) (string, bool, error)
	GetAllFields(ctx context.Context, key string) (map[string]string, error)
	DeleteField(ctx context.Context, key, field string) error
	DeleteHash(ctx context.Context, keys ...string) error
	Ping(ctx context.Context) error
	Close() error
}
