package pets

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested pet record does not exist.
var ErrNotFound = errors.New("pet not found")

// ErrQuotaExceeded is returned when a save cannot fit within the configured
// storage quota even after eviction.
var ErrQuotaExceeded = errors.New("storage quota exceeded")

// Effect references one processed artifact for a pet, keyed by effect name
// in Record.Effects.
type Effect struct {
	RemoteURL string `json:"remoteUrl"`
}

// Record is one customer pet session.
//
// ID is immutable after creation. Effects entries are append/overwrite-only
// keyed by effect name. CreatedAt is set once at creation and serves as the
// eviction key.
type Record struct {
	ID         string            `json:"id"`
	Name       string            `json:"name,omitempty"`
	ArtistNote string            `json:"artistNote,omitempty"`
	Effects    map[string]Effect `json:"effects,omitempty"`
	Thumbnail  string            `json:"thumbnail,omitempty"`
	CreatedAt  time.Time         `json:"createdAt"`
}

// Usage reports the store's current serialized footprint.
type Usage struct {
	UsedBytes      int
	PercentOfQuota float64
}

// CartItem is one entry of the cart-facing projection derived from the store
// after every mutation.
type CartItem struct {
	SessionKey string            `json:"sessionKey"`
	Effects    map[string]Effect `json:"effects"`
	ArtistNote string            `json:"artistNote"`
	Name       string            `json:"name"`
	Timestamp  time.Time         `json:"timestamp"`
}

// Change describes a store mutation delivered to subscribers.
type Change struct {
	Op string // "save", "delete", "clear", "external"
	ID string // empty for clear/external
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }
