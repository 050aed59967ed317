// Package pets implements the persistent pet record store: quota-bounded
// key-value persistence of per-pet session data with oldest-first eviction
// and a cart-facing projection rebuilt on every mutation.
package pets

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/inkandpaw/pawkit/internal/storage"
)

const (
	// DefaultQuotaBytes is the serialized byte budget for all records
	// (library-enforced, independent of the backend's own limits).
	DefaultQuotaBytes = 5 << 20

	// DefaultPrefix namespaces pet keys in the shared backend.
	DefaultPrefix = "pawkit:pet:"

	// evictAboveFraction triggers proactive eviction before a write.
	evictAboveFraction = 0.80
	// evictTargetFraction is the usage eviction drains down to.
	evictTargetFraction = 0.50
)

// Options configures a Store. Zero values select the defaults above.
type Options struct {
	Prefix     string
	QuotaBytes int
	Clock      Clock
	Logger     *slog.Logger
}

// Store persists pet records through a storage.Backend, enforces the
// serialized-size quota, and maintains the cart projection.
//
// The backend is shared, unsynchronized state (two tabs, in the original
// system); the store itself serializes its own callers and relies on
// last-write-wins plus external change notifications for cross-process
// consistency.
type Store struct {
	backend storage.Backend
	prefix  string
	quota   int
	clock   Clock
	logger  *slog.Logger

	mu          sync.Mutex
	lastStamp   time.Time  // high-water mark keeping CreatedAt non-decreasing
	cart        []CartItem // derived projection, rebuilt on every mutation
	subscribers []func(Change)
}

// NewStore creates a Store over backend with the given options.
func NewStore(backend storage.Backend, opts Options) *Store {
	if opts.Prefix == "" {
		opts.Prefix = DefaultPrefix
	}
	if opts.QuotaBytes <= 0 {
		opts.QuotaBytes = DefaultQuotaBytes
	}
	if opts.Clock == nil {
		opts.Clock = realClock{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Store{
		backend: backend,
		prefix:  opts.Prefix,
		quota:   opts.QuotaBytes,
		clock:   opts.Clock,
		logger:  opts.Logger,
	}
}

// Subscribe registers fn to be called after every store mutation, once the
// projection has been rebuilt. Callbacks run outside the store's lock, so a
// subscriber may call back into the store. The transport feeding external
// changes into NotifyExternalChange is an adapter concern outside this
// package.
func (s *Store) Subscribe(fn func(Change)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribers = append(s.subscribers, fn)
}

// Save persists rec under id, creating the record if absent and fully
// replacing it otherwise. For an existing record the stored ID and CreatedAt
// are preserved; every other field comes from rec.
//
// If usage already exceeds 80% of quota, eviction runs before the write.
// If the write still cannot fit, eviction runs once more and the write is
// retried exactly once; a second failure surfaces ErrQuotaExceeded.
func (s *Store) Save(id string, rec Record) (Record, error) {
	if id == "" {
		return Record{}, fmt.Errorf("saving pet: empty id")
	}

	saved, err := s.save(id, rec)
	if err != nil {
		return Record{}, err
	}
	s.notify(Change{Op: "save", ID: id})
	return saved, nil
}

func (s *Store) save(id string, rec Record) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec.ID = id
	existing, err := s.getLocked(id)
	switch err {
	case nil:
		rec.CreatedAt = existing.CreatedAt
	case ErrNotFound:
		rec.CreatedAt = s.nextStamp()
	default:
		return Record{}, fmt.Errorf("loading existing pet %s: %w", id, err)
	}

	value, err := json.Marshal(rec)
	if err != nil {
		return Record{}, fmt.Errorf("serializing pet %s: %w", id, err)
	}

	usage, err := s.usageLocked()
	if err != nil {
		return Record{}, fmt.Errorf("computing usage: %w", err)
	}
	if float64(usage) > evictAboveFraction*float64(s.quota) {
		if err := s.evictLocked(id); err != nil {
			return Record{}, fmt.Errorf("proactive eviction: %w", err)
		}
	}

	if err := s.writeWithinQuota(id, string(value)); err != nil {
		if err != ErrQuotaExceeded {
			return Record{}, err
		}
		// One emergency eviction pass, then exactly one retry.
		if evictErr := s.evictLocked(id); evictErr != nil {
			return Record{}, fmt.Errorf("emergency eviction: %w", evictErr)
		}
		if err := s.writeWithinQuota(id, string(value)); err != nil {
			return Record{}, err
		}
	}

	if err := s.rebuildProjectionLocked(); err != nil {
		return Record{}, err
	}
	return rec, nil
}

// writeWithinQuota writes value under id unless the post-write footprint
// would exceed the quota, in which case it returns ErrQuotaExceeded without
// touching the backend.
func (s *Store) writeWithinQuota(id, value string) error {
	usage, err := s.usageLocked()
	if err != nil {
		return fmt.Errorf("computing usage: %w", err)
	}

	key := s.prefix + id
	newSize := len(key) + len(value)
	if old, err := s.backend.Get(key); err == nil {
		usage -= len(key) + len(old)
	}
	if usage+newSize > s.quota {
		return ErrQuotaExceeded
	}

	if err := s.backend.Set(key, value); err != nil {
		return fmt.Errorf("writing pet %s: %w", id, err)
	}
	return nil
}

// Get returns the record for id, or ErrNotFound.
func (s *Store) Get(id string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getLocked(id)
}

func (s *Store) getLocked(id string) (Record, error) {
	value, err := s.backend.Get(s.prefix + id)
	if err == storage.ErrNotFound {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("reading pet %s: %w", id, err)
	}

	var rec Record
	if err := json.Unmarshal([]byte(value), &rec); err != nil {
		return Record{}, fmt.Errorf("decoding pet %s: %w", id, err)
	}
	return rec, nil
}

// GetAll returns all records keyed by id.
func (s *Store) GetAll() (map[string]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getAllLocked()
}

func (s *Store) getAllLocked() (map[string]Record, error) {
	keys, err := s.backend.Keys(s.prefix)
	if err != nil {
		return nil, fmt.Errorf("scanning pets: %w", err)
	}

	records := make(map[string]Record, len(keys))
	for _, key := range keys {
		value, err := s.backend.Get(key)
		if err == storage.ErrNotFound {
			continue // deleted between scan and read
		}
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", key, err)
		}
		var rec Record
		if err := json.Unmarshal([]byte(value), &rec); err != nil {
			// A corrupt entry must not take the whole scan down.
			s.logger.Warn("skipping malformed pet record", "key", key, "error", err)
			continue
		}
		records[rec.ID] = rec
	}
	return records, nil
}

// Delete removes the record for id. Deleting an absent id succeeds.
func (s *Store) Delete(id string) error {
	if err := s.delete(id); err != nil {
		return err
	}
	s.notify(Change{Op: "delete", ID: id})
	return nil
}

func (s *Store) delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.backend.Delete(s.prefix + id); err != nil {
		return fmt.Errorf("deleting pet %s: %w", id, err)
	}
	return s.rebuildProjectionLocked()
}

// Clear removes every record under the managed prefix.
func (s *Store) Clear() error {
	if err := s.clear(); err != nil {
		return err
	}
	s.notify(Change{Op: "clear"})
	return nil
}

func (s *Store) clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys, err := s.backend.Keys(s.prefix)
	if err != nil {
		return fmt.Errorf("scanning pets: %w", err)
	}
	for _, key := range keys {
		if err := s.backend.Delete(key); err != nil {
			return fmt.Errorf("deleting %s: %w", key, err)
		}
	}
	return s.rebuildProjectionLocked()
}

// Usage reports the current serialized footprint against the quota.
// Recomputed on demand: record counts are tens, not thousands.
func (s *Store) Usage() (Usage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	used, err := s.usageLocked()
	if err != nil {
		return Usage{}, err
	}
	return Usage{
		UsedBytes:      used,
		PercentOfQuota: 100 * float64(used) / float64(s.quota),
	}, nil
}

func (s *Store) usageLocked() (int, error) {
	keys, err := s.backend.Keys(s.prefix)
	if err != nil {
		return 0, fmt.Errorf("scanning pets: %w", err)
	}
	total := 0
	for _, key := range keys {
		value, err := s.backend.Get(key)
		if err == storage.ErrNotFound {
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("reading %s: %w", key, err)
		}
		total += len(key) + len(value)
	}
	return total, nil
}

// evictLocked deletes records oldest-first (by CreatedAt) until usage drops
// to the eviction target or no candidates remain. keep is never evicted.
func (s *Store) evictLocked(keep string) error {
	records, err := s.getAllLocked()
	if err != nil {
		return err
	}

	candidates := make([]Record, 0, len(records))
	for id, rec := range records {
		if id == keep {
			continue
		}
		candidates = append(candidates, rec)
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].CreatedAt.Before(candidates[j].CreatedAt)
	})

	target := int(evictTargetFraction * float64(s.quota))
	for _, rec := range candidates {
		usage, err := s.usageLocked()
		if err != nil {
			return err
		}
		if usage <= target {
			return nil
		}
		if err := s.backend.Delete(s.prefix + rec.ID); err != nil {
			return fmt.Errorf("evicting pet %s: %w", rec.ID, err)
		}
		s.logger.Info("evicted pet record under quota pressure",
			"pet_id", rec.ID, "created_at", rec.CreatedAt)
	}
	return nil
}

// Cart returns the current cart projection, newest record last. The returned
// slice is a copy; callers may retain it.
func (s *Store) Cart() []CartItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]CartItem, len(s.cart))
	copy(out, s.cart)
	return out
}

// NotifyExternalChange re-derives the projection after the backend was
// mutated by another process (another tab, in the original system) and
// informs subscribers. Failures are logged, never escalated: the projection
// simply stays stale until the next mutation.
func (s *Store) NotifyExternalChange() {
	s.mu.Lock()
	err := s.rebuildProjectionLocked()
	s.mu.Unlock()
	if err != nil {
		s.logger.Warn("projection rebuild after external change failed", "error", err)
		return
	}
	s.notify(Change{Op: "external"})
}

func (s *Store) rebuildProjectionLocked() error {
	records, err := s.getAllLocked()
	if err != nil {
		return fmt.Errorf("rebuilding cart projection: %w", err)
	}

	items := make([]CartItem, 0, len(records))
	for _, rec := range records {
		effects := make(map[string]Effect, len(rec.Effects))
		for name, e := range rec.Effects {
			effects[name] = e
		}
		items = append(items, CartItem{
			SessionKey: rec.ID,
			Effects:    effects,
			ArtistNote: rec.ArtistNote,
			Name:       rec.Name,
			Timestamp:  rec.CreatedAt,
		})
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].Timestamp.Equal(items[j].Timestamp) {
			return items[i].SessionKey < items[j].SessionKey
		}
		return items[i].Timestamp.Before(items[j].Timestamp)
	})

	s.cart = items
	return nil
}

// notify snapshots the subscriber list and invokes it without holding the
// lock, so callbacks may use the store.
func (s *Store) notify(c Change) {
	s.mu.Lock()
	subs := make([]func(Change), len(s.subscribers))
	copy(subs, s.subscribers)
	s.mu.Unlock()
	for _, fn := range subs {
		fn(c)
	}
}

// nextStamp returns a creation timestamp that never goes backwards, even if
// the wall clock does.
func (s *Store) nextStamp() time.Time {
	now := s.clock.Now().UTC()
	if now.Before(s.lastStamp) {
		now = s.lastStamp
	}
	s.lastStamp = now
	return now
}
