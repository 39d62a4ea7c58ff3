// Package buildcoord implements the build coordinator: the
// get-or-build algorithm that guarantees at-most-one concurrent build
// per fingerprint, while every other concurrent opener of the same
// derived file joins the in-flight build instead of starting its own.
//
// golang.org/x/sync/singleflight alone can deduplicate concurrent
// calls, but it cannot tell a waiter whose own context was cancelled
// apart from a waiter whose build was cancelled by someone else — the
// filesystem adapter needs that distinction to map the former onto
// EINTR without tearing down the build for remaining waiters. internal/ticket supplies that
// distinction; singleflight supplies the actual call deduplication.
package buildcoord

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/audiofs/audiofs/internal/cachestore"
	"github.com/audiofs/audiofs/internal/driver"
	"github.com/audiofs/audiofs/internal/ticket"
	audioerrors "github.com/audiofs/audiofs/pkg/errors"
)

// Coordinator ties the cache store, the driver registry, and the
// ticket registry together to implement GetOrBuild.
type Coordinator struct {
	store *cachestore.Store
	drivers *driver.Registry
	tickets *ticket.Registry
	flight singleflight.Group
	log *zap.SugaredLogger
}

// Config holds the dependencies a Coordinator needs.
type Config struct {
	Store *cachestore.Store
	Drivers *driver.Registry
	Logger *zap.SugaredLogger
}

// New returns a ready Coordinator.
func New(config *Config) (*Coordinator, error) {
	if config == nil || config.Store == nil || config.Drivers == nil || config.Logger == nil {
		return nil, audioerrors.NewConfigurationValidationError("config", "build coordinator requires a store, a driver registry, and a logger")
	}
	return &Coordinator{
		store: config.Store,
		drivers: config.Drivers,
		tickets: ticket.NewRegistry(),
		log: config.Logger,
	}, nil
}

// GetOrBuild implements the get-or-build algorithm:
// 1. probe(fp); if ready, acquire(fp) and return.
// 2. if building, join the waiter set on the existing ticket.
// 3. otherwise reserve(fp) and become the builder.
// 4. run the driver, streaming into the reserved file; on success
// promote(slot), resolve the ticket, and acquire(fp).
// 5. on failure or cancellation, abandon(slot) and resolve the ticket
// with the failure.
func (c *Coordinator) GetOrBuild(ctx context.Context, fp string, req driver.Request, driverID driver.ID) (*cachestore.Handle, error) {
	if state, _, _ := c.store.Probe(fp); state == cachestore.StateReady {
		return c.store.Acquire(fp)
	}

	t, joined := c.tickets.Issue(fp)
	if joined {
		return c.wait(ctx, t)
	}

	// We are the elected builder. Run the build outside of any lock;
	// singleflight additionally collapses the case where a second
	// Issue raced us between Probe and Issue above and both think
	// they own the ticket (only one goroutine's flight.Do body runs).
	//
	// The ticket is resolved from inside the closure, tied to the
	// build's own lifetime rather than this call's select below: the
	// build runs under context.Background() and must finish and wake
	// every waiter even if this particular caller's ctx is cancelled
	// first and returns early without ever reaching the resultCh case.
	resultCh := c.flight.DoChan(fp, func() (any, error) {
		result, err := c.build(context.Background(), fp, req, driverID)
		if err != nil {
			c.tickets.Resolve(t, ticket.Result{Err: err})
		} else {
			c.tickets.Resolve(t, ticket.Result{Value: struct{}{}})
		}
		return result, err
	})

	select {
	case <-ctx.Done():
		return nil, audioerrors.NewCancelledError(ctx.Err(), fp)
	case res := <-resultCh:
		if res.Err != nil {
			return nil, res.Err
		}
		return c.store.Acquire(fp)
	}
}

// wait joins an in-flight build's waiter set. If
// ctx is cancelled first, the waiter returns without disturbing the
// ticket or the build it names.
func (c *Coordinator) wait(ctx context.Context, t *ticket.Ticket) (*cachestore.Handle, error) {
	select {
	case <-ctx.Done():
		return nil, audioerrors.NewCancelledError(ctx.Err(), t.Fingerprint())
	case <-t.Done():
		result := t.Wait()
		if result.Err != nil {
			return nil, result.Err
		}
		return c.store.Acquire(t.Fingerprint())
	}
}

// build reserves a slot, runs the driver, and promotes or abandons the
// result. It always runs to completion even if
// the original caller's context was cancelled, since other waiters may
// still be depending on it — cancellation of the build itself only
// happens when the driver run fails, not when one caller walks away.
func (c *Coordinator) build(ctx context.Context, fp string, req driver.Request, driverID driver.ID) (any, error) {
	drv, ok := c.drivers.Get(driverID)
	if !ok {
		return nil, audioerrors.NewDriverError(nil, audioerrors.ErrorCodeDriverNotFound, "no driver registered for id").
			WithDriverID(string(driverID))
	}

	slot, err := c.store.Reserve(fp)
	if err != nil {
		return nil, err
	}

	if err := drv.RunToSink(ctx, req, slot.Writer()); err != nil {
		c.log.Warnw("driver failed, abandoning build", "fingerprint", fp, "driver", driverID, "error", err)
		c.store.Abandon(slot)
		return nil, err
	}

	length, err := c.store.Promote(slot)
	if err != nil {
		return nil, err
	}

	c.log.Infow("build completed", "fingerprint", fp, "driver", driverID, "bytes", length)
	return length, nil
}

// Inflight reports how many fingerprints currently have a build in
// progress, for diagnostics.
func (c *Coordinator) Inflight() int {
	return c.tickets.Inflight()
}
