// Package storage provides the key-value backends the pet record store
// persists through: a durable SQLite backend and an in-memory backend for
// tests.
package storage

import "errors"

// ErrNotFound is returned by Get when the key does not exist.
var ErrNotFound = errors.New("storage: key not found")

// Backend is a flat string key-value store. Implementations must be safe
// for concurrent use.
type Backend interface {
	// Get returns the value for key, or ErrNotFound.
	Get(key string) (string, error)
	// Set writes the value for key, overwriting any previous value.
	Set(key, value string) error
	// Delete removes the key. Deleting an absent key is not an error.
	Delete(key string) error
	// Keys returns all keys that start with prefix.
	Keys(prefix string) ([]string, error)
	// Close releases the backend's resources.
	Close() error
}
