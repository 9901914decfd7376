package bolt

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	bbolt "go.etcd.io/bbolt"

	"github.com/haukened/focusflow/internal/focus/domain"
)

var (
	bucketSettings = []byte("settings")
	bucketBlocking = []byte("blocking")
	bucketUsage    = []byte("usage")
)

// Persisted keys. Values are JSON encoded.
var (
	keyExtensionEnabled = []byte("extensionEnabled")
	keyTimezone         = []byte("timezone")
	keyBlockedSites     = []byte("blockedSites")
	keyBlockSchedules   = []byte("blockSchedules")
	keyUsageTime        = []byte("usageTime")
	keyUsageHistory     = []byte("usageHistory")
)

// bucketCreator is the subset of *bbolt.Tx used to create buckets.
type bucketCreator interface {
	CreateBucketIfNotExists(name []byte) (*bbolt.Bucket, error)
}

// ensureBuckets creates every bucket the store uses.
func ensureBuckets(tx bucketCreator) error {
	for _, b := range [][]byte{bucketSettings, bucketBlocking, bucketUsage} {
		if _, err := tx.CreateBucketIfNotExists(b); err != nil {
			return fmt.Errorf("create bucket %s: %w", b, err)
		}
	}
	return nil
}

// ensureBucketsFn is a seam for tests.
var ensureBucketsFn = func(tx bucketCreator) error { return ensureBuckets(tx) }

// Options configures the bbolt-backed state store.
type Options struct {
	Path string
	// DefaultTimezone is returned by Timezone while none is stored.
	// Empty means the host's local zone.
	DefaultTimezone string
	// Timeout bounds the wait for the file lock held by another process.
	Timeout time.Duration
}

// Store persists blocking state and the usage ledger in a bbolt file. Every
// write is a single transaction, so a failed write leaves nothing behind.
type Store struct {
	db              *bbolt.DB
	defaultTimezone string
}

// New opens (or creates) the database at opts.Path and ensures buckets exist.
func New(opts Options) (*Store, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = 1 * time.Second
	}
	db, err := bbolt.Open(opts.Path, 0o600, &bbolt.Options{Timeout: opts.Timeout})
	if err != nil {
		return nil, err
	}
	if err := db.Update(func(tx *bbolt.Tx) error { return ensureBucketsFn(tx) }); err != nil {
		_ = db.Close()
		return nil, err
	}
	tz := opts.DefaultTimezone
	if tz == "" {
		tz = time.Local.String()
	}
	return &Store{db: db, defaultTimezone: tz}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// ExtensionEnabled returns the global gate. It is true until first set.
func (s *Store) ExtensionEnabled(ctx context.Context) (bool, error) {
	enabled := true
	err := s.view(ctx, bucketSettings, keyExtensionEnabled, &enabled)
	return enabled, err
}

func (s *Store) SetExtensionEnabled(ctx context.Context, enabled bool) error {
	return s.put(ctx, bucketSettings, keyExtensionEnabled, enabled)
}

// Timezone returns the stored IANA zone or the default.
func (s *Store) Timezone(ctx context.Context) (string, error) {
	var tz string
	if err := s.view(ctx, bucketSettings, keyTimezone, &tz); err != nil {
		return "", err
	}
	if tz == "" {
		tz = s.defaultTimezone
	}
	return tz, nil
}

func (s *Store) SetTimezone(ctx context.Context, tz string) error {
	return s.put(ctx, bucketSettings, keyTimezone, tz)
}

// SeedTimezone stores tz only when no timezone has been stored yet and
// reports whether it did.
func (s *Store) SeedTimezone(ctx context.Context, tz string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	seeded := false
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketSettings)
		if b.Get(keyTimezone) != nil {
			return nil
		}
		seeded = true
		return putJSON(b, keyTimezone, tz)
	})
	return seeded, err
}

// BlockedSites returns the blocked domains in insertion order.
func (s *Store) BlockedSites(ctx context.Context) ([]string, error) {
	var sites []string
	err := s.view(ctx, bucketBlocking, keyBlockedSites, &sites)
	return sites, err
}

// SetBlockedSites stores sites with duplicates removed.
func (s *Store) SetBlockedSites(ctx context.Context, sites []string) error {
	return s.put(ctx, bucketBlocking, keyBlockedSites, dedupe(sites))
}

// Schedules returns the per-domain schedules. The map is never nil.
func (s *Store) Schedules(ctx context.Context) (map[string]domain.BlockSchedule, error) {
	schedules := map[string]domain.BlockSchedule{}
	if err := s.view(ctx, bucketBlocking, keyBlockSchedules, &schedules); err != nil {
		return nil, err
	}
	if schedules == nil {
		schedules = map[string]domain.BlockSchedule{}
	}
	return schedules, nil
}

func (s *Store) SetSchedules(ctx context.Context, schedules map[string]domain.BlockSchedule) error {
	return s.put(ctx, bucketBlocking, keyBlockSchedules, schedules)
}

// SetBlockList writes sites and schedules in one transaction.
func (s *Store) SetBlockList(ctx context.Context, sites []string, schedules map[string]domain.BlockSchedule) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketBlocking)
		if err := putJSON(b, keyBlockedSites, dedupe(sites)); err != nil {
			return err
		}
		return putJSON(b, keyBlockSchedules, schedules)
	})
}

// Usage returns today's per-domain active seconds. The map is never nil.
func (s *Store) Usage(ctx context.Context) (map[string]int64, error) {
	usage := map[string]int64{}
	if err := s.view(ctx, bucketUsage, keyUsageTime, &usage); err != nil {
		return nil, err
	}
	if usage == nil {
		usage = map[string]int64{}
	}
	return usage, nil
}

// AddUsage increments the counter for name by seconds and returns the new total.
func (s *Store) AddUsage(ctx context.Context, name string, seconds int64) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	var total int64
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketUsage)
		usage := map[string]int64{}
		if err := getJSON(b, keyUsageTime, &usage); err != nil {
			return err
		}
		if usage == nil {
			usage = map[string]int64{}
		}
		usage[name] += seconds
		total = usage[name]
		return putJSON(b, keyUsageTime, usage)
	})
	return total, err
}

// UsageHistory returns the stored daily snapshots, oldest first.
func (s *Store) UsageHistory(ctx context.Context) ([]domain.UsageSnapshot, error) {
	var history []domain.UsageSnapshot
	err := s.view(ctx, bucketUsage, keyUsageHistory, &history)
	return history, err
}

// RollOverUsage moves the current counters into history under date, keeps
// the newest limit snapshots and clears the counters, all in one
// transaction. It returns the snapshot that was stored.
func (s *Store) RollOverUsage(ctx context.Context, date string, limit int) (domain.UsageSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return domain.UsageSnapshot{}, err
	}
	var snap domain.UsageSnapshot
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketUsage)
		usage := map[string]int64{}
		if err := getJSON(b, keyUsageTime, &usage); err != nil {
			return err
		}
		if usage == nil {
			usage = map[string]int64{}
		}
		var history []domain.UsageSnapshot
		if err := getJSON(b, keyUsageHistory, &history); err != nil {
			return err
		}
		snap = domain.UsageSnapshot{Date: date, Data: usage}
		history = domain.AppendUsageHistory(history, snap, limit)
		if err := putJSON(b, keyUsageHistory, history); err != nil {
			return err
		}
		return putJSON(b, keyUsageTime, map[string]int64{})
	})
	return snap, err
}

func (s *Store) view(ctx context.Context, bucket, key []byte, out any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.View(func(tx *bbolt.Tx) error {
		return getJSON(tx.Bucket(bucket), key, out)
	})
}

func (s *Store) put(ctx context.Context, bucket, key []byte, v any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return putJSON(tx.Bucket(bucket), key, v)
	})
}

// getJSON decodes key into out, leaving out untouched when the key is absent.
func getJSON(b *bbolt.Bucket, key []byte, out any) error {
	if b == nil {
		return nil
	}
	raw := b.Get(key)
	if raw == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

func putJSON(b *bbolt.Bucket, key []byte, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return b.Put(key, raw)
}

func dedupe(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
