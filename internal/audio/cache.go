package audio

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/titovtima/songsServer/internal/keyedmutex"
)

const tempPrefix = ".tmp-"

// Config tunes a Cache.
type Config struct {
	Dir      string
	MaxAge   time.Duration
	Interval time.Duration
	Locks    *keyedmutex.Map
	Logger   zerolog.Logger
	Now      func() time.Time
}

// Janitor is periodic housekeeping run alongside the cache sweep.
type Janitor struct {
	Name string
	Run  func(ctx context.Context) error
}

// SweepStats summarizes one sweep.
type SweepStats struct {
	Scanned int
	Removed int
	Failed  int
}

// Cache keeps recently used audio on local disk in front of an ObjectStore.
// Every file is named by its audio id, and all access to a file happens
// under the keyed lock for that id.
type Cache struct {
	dir      string
	store    ObjectStore
	locks    *keyedmutex.Map
	maxAge   time.Duration
	interval time.Duration
	logger   zerolog.Logger
	now      func() time.Time
	remove   func(name string) error
	janitors []Janitor
}

// NewCache creates the cache directory if needed.
func NewCache(store ObjectStore, cfg Config) (*Cache, error) {
	if cfg.Dir == "" {
		return nil, errors.New("cache dir is required")
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}

	c := &Cache{
		dir:      cfg.Dir,
		store:    store,
		locks:    cfg.Locks,
		maxAge:   cfg.MaxAge,
		interval: cfg.Interval,
		logger:   cfg.Logger,
		now:      cfg.Now,
		remove:   os.Remove,
	}
	if c.locks == nil {
		c.locks = keyedmutex.New()
	}
	if c.maxAge <= 0 {
		c.maxAge = time.Hour
	}
	if c.interval <= 0 {
		c.interval = time.Hour
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c, nil
}

// AddJanitor registers housekeeping to run on every sweep tick.
func (c *Cache) AddJanitor(j Janitor) {
	c.janitors = append(c.janitors, j)
}

func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil && !strings.ContainsAny(id, `/\`)
}

func (c *Cache) path(id string) string {
	return filepath.Join(c.dir, id)
}

func lockKey(id string) string {
	return "audio:" + id
}

// Get returns the audio with the given id, reading through to the object
// store on a miss. Object store failures are reported as ErrNotFound.
func (c *Cache) Get(ctx context.Context, id string) ([]byte, error) {
	if !validID(id) {
		return nil, ErrNotFound
	}

	unlock := c.locks.Lock(lockKey(id))
	defer unlock()

	p := c.path(id)
	data, err := os.ReadFile(p)
	if err == nil {
		now := c.now()
		if err := os.Chtimes(p, now, now); err != nil {
			c.logger.Warn().Err(err).Str("audio_id", id).Msg("refresh cache access time")
		}
		return data, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		c.logger.Warn().Err(err).Str("audio_id", id).Msg("read cached audio")
	}

	data, err = c.store.Get(ctx, id)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			c.logger.Error().Err(err).Str("audio_id", id).Msg("fetch audio from object store")
		}
		return nil, ErrNotFound
	}

	if err := c.writeFile(id, data); err != nil {
		c.logger.Warn().Err(err).Str("audio_id", id).Msg("populate audio cache")
	}
	return data, nil
}

// Put uploads the audio and stores a local copy. Upload failures are
// returned; a failed local copy is only logged.
func (c *Cache) Put(ctx context.Context, id string, data []byte, meta map[string]string) error {
	if !validID(id) {
		return fmt.Errorf("invalid audio id %q", id)
	}
	if err := c.store.Put(ctx, id, data, meta); err != nil {
		return err
	}

	unlock := c.locks.Lock(lockKey(id))
	defer unlock()
	if err := c.writeFile(id, data); err != nil {
		c.logger.Warn().Err(err).Str("audio_id", id).Msg("populate audio cache")
	}
	return nil
}

// writeFile replaces the cached copy atomically. Callers hold the key lock.
func (c *Cache) writeFile(id string, data []byte) error {
	tmp, err := os.CreateTemp(c.dir, tempPrefix+id+"-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, c.path(id)); err != nil {
		return fmt.Errorf("rename cache file: %w", err)
	}
	success = true
	return nil
}

// Sweep removes files not read within MaxAge. Every candidate is re-checked
// under its key lock, so a file read while the sweep waits is kept. Failures
// are logged and counted; the walk always finishes unless ctx is cancelled.
func (c *Cache) Sweep(ctx context.Context) (SweepStats, error) {
	var stats SweepStats

	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return stats, fmt.Errorf("read cache dir: %w", err)
	}

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		if !entry.Type().IsRegular() {
			continue
		}
		stats.Scanned++

		name := entry.Name()
		removed, err := c.sweepFile(name)
		switch {
		case err != nil:
			stats.Failed++
			c.logger.Warn().Err(err).Str("file", name).Msg("evict cached audio")
		case removed:
			stats.Removed++
		}
	}

	c.logger.Info().
		Int("scanned", stats.Scanned).
		Int("removed", stats.Removed).
		Int("failed", stats.Failed).
		Msg("audio cache swept")
	return stats, nil
}

func (c *Cache) sweepFile(name string) (bool, error) {
	p := filepath.Join(c.dir, name)

	// Leftovers of interrupted writes have no key of their own.
	if strings.HasPrefix(name, tempPrefix) {
		return c.removeIfStale(p)
	}

	if stale, err := c.stale(p); err != nil || !stale {
		return false, ignoreMissing(err)
	}

	unlock := c.locks.Lock(lockKey(name))
	defer unlock()
	return c.removeIfStale(p)
}

func (c *Cache) removeIfStale(p string) (bool, error) {
	stale, err := c.stale(p)
	if err != nil || !stale {
		return false, ignoreMissing(err)
	}
	if err := c.remove(p); err != nil {
		return false, ignoreMissing(err)
	}
	return true, nil
}

func (c *Cache) stale(p string) (bool, error) {
	atime, err := accessTime(p)
	if err != nil {
		return false, err
	}
	return c.now().Sub(atime) > c.maxAge, nil
}

func ignoreMissing(err error) error {
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// Run sweeps immediately and then every Interval until ctx is done. Each tick
// also runs the registered janitors.
func (c *Cache) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		c.tick(ctx)

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (c *Cache) tick(ctx context.Context) {
	if _, err := c.Sweep(ctx); err != nil && ctx.Err() == nil {
		c.logger.Error().Err(err).Msg("audio cache sweep failed")
	}
	for _, j := range c.janitors {
		if err := j.Run(ctx); err != nil && ctx.Err() == nil {
			c.logger.Error().Err(err).Str("janitor", j.Name).Msg("janitor failed")
		}
	}
}
