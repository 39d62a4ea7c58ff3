// Package sizemaintainer implements the size maintainer: a
// background sweeper that keeps the cache store's total ready-entry
// bytes under a configured budget by evicting least-recently-used,
// unpinned entries. It runs on two triggers: a periodic
// ticker, and an immediate post-promotion hook so a single large build
// doesn't have to wait out a full sweep interval before the budget is
// re-enforced.
package sizemaintainer

import (
	"context"
	"io"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/audiofs/audiofs/internal/cachestore"
	audioerrors "github.com/audiofs/audiofs/pkg/errors"
	"github.com/audiofs/audiofs/pkg/logging"
)

// Maintainer periodically evicts ready cache entries to keep total
// bytes under budget.
type Maintainer struct {
	store *cachestore.Store
	log *zap.SugaredLogger
	evictLog *zap.SugaredLogger
	evictLogCloser io.Closer
	budgetBytes uint64
	minEvictableSize uint64
	exclusionList map[string]bool
	sweepInterval time.Duration

	wakeCh chan struct{}
}

// Config holds the parameters needed to run a Maintainer.
type Config struct {
	Store *cachestore.Store
	Logger *zap.SugaredLogger
	BudgetBytes uint64
	MinEvictableSize uint64
	ExclusionList []string
	SweepInterval time.Duration
	// EvictionLogPath, if non-empty, additionally routes every eviction
	// record to a dedicated JSON-lines file at this path.
	EvictionLogPath string
}

// New returns a ready Maintainer. Call Run to start its background
// loop; call Kick after every promotion so a large build is reconciled
// against budget immediately rather than at the next tick. Call Close
// once Run has returned to flush and close the eviction log sink.
func New(config *Config) (*Maintainer, error) {
	if config == nil || config.Store == nil || config.Logger == nil {
		return nil, audioerrors.NewConfigurationValidationError("config", "size maintainer requires a store and a logger")
	}

	exclusions := make(map[string]bool, len(config.ExclusionList))
	for _, fp := range config.ExclusionList {
		exclusions[fp] = true
	}

	evictLog, closer, err := logging.NewEvictionSink(config.Logger, config.EvictionLogPath)
	if err != nil {
		return nil, audioerrors.NewConfigurationValidationError("evictionLogPath", "failed to open eviction log sink").WithDetail("path", config.EvictionLogPath).WithDetail("error", err.Error())
	}

	return &Maintainer{
		store: config.Store,
		log: config.Logger,
		evictLog: evictLog,
		evictLogCloser: closer,
		budgetBytes: config.BudgetBytes,
		minEvictableSize: config.MinEvictableSize,
		exclusionList: exclusions,
		sweepInterval: config.SweepInterval,
		wakeCh: make(chan struct{}, 1),
	}, nil
}

// Close flushes and closes the eviction log sink. Safe to call even
// when no EvictionLogPath was configured.
func (m *Maintainer) Close() error {
	return m.evictLogCloser.Close()
}

// Kick schedules an immediate sweep without waiting for the next tick.
func (m *Maintainer) Kick() {
	select {
	case m.wakeCh <- struct{}{}:
	default:
	}
}

// Run blocks, sweeping on every tick of sweepInterval and every Kick,
// until ctx is cancelled.
func (m *Maintainer) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.sweep(ctx)
		case <-m.wakeCh:
			m.sweep(ctx)
		}
	}
}

// sweep evicts LRU-first, unpinned, non-excluded entries at or above
// minEvictableSize until total ready bytes is at or below budget. An
// entry that stays pinned through an entire sweep is simply skipped,
// and the total may legitimately sit above budget until it is
// released.
func (m *Maintainer) sweep(ctx context.Context) {
	total := m.store.TotalReadyBytes()
	if total <= int64(m.budgetBytes) {
		return
	}

	candidates := m.store.Snapshot()
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].LastAccess.Before(candidates[j].LastAccess)
	})

	// Decide the eviction set up front from the projected running total,
	// so the concurrent unlinks below never need to coordinate with each
	// other to know when enough has been freed.
	var selected []string
	lastAccess := make(map[string]time.Time, len(candidates))
	projected := total
	for _, c := range candidates {
		if projected <= int64(m.budgetBytes) {
			break
		}
		if c.Pinned || m.exclusionList[c.Fingerprint] || uint64(c.Length) < m.minEvictableSize {
			continue
		}
		selected = append(selected, c.Fingerprint)
		lastAccess[c.Fingerprint] = c.LastAccess
		projected -= c.Length
	}

	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(4)

	var freed int64
	var mu sync.Mutex

	for _, fp := range selected {
		fp := fp
		group.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			length, err := m.store.Evict(fp)
			if err != nil {
				m.log.Warnw("eviction failed", "fingerprint", fp, "error", err)
				return nil
			}
			if length > 0 {
				m.evictLog.Infow("evicted cache entry",
					"fingerprint", fp,
					"bytes", length,
					"age", time.Since(lastAccess[fp]).String(),
				)
				mu.Lock()
				freed += length
				mu.Unlock()
			}
			return nil
		})
	}

	_ = group.Wait()

	if total-freed > int64(m.budgetBytes) {
		m.log.Warnw("sweep finished above budget", "totalBytes", total-freed, "budgetBytes", m.budgetBytes)
	}
}
