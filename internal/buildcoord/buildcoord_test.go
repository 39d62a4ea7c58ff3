package buildcoord

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/audiofs/audiofs/internal/cachestore"
	"github.com/audiofs/audiofs/internal/driver"
	audioerrors "github.com/audiofs/audiofs/pkg/errors"
)

// fakeDriver is a minimal driver.Driver whose RunToSink behavior is
// controlled by the test, counting how many times it actually ran.
type fakeDriver struct {
	id      driver.ID
	payload []byte
	runErr  error
	delay   time.Duration
	runs    atomic.Int32
}

func (d *fakeDriver) ID() driver.ID           { return d.id }
func (d *fakeDriver) Version() string         { return "fake.v1" }
func (d *fakeDriver) ParamTuple(driver.Request) (string, error) { return "", nil }
func (d *fakeDriver) EstimateSize(context.Context, driver.Request) (int64, error) {
	return int64(len(d.payload)), nil
}

func (d *fakeDriver) RunToSink(ctx context.Context, req driver.Request, w io.Writer) error {
	d.runs.Add(1)
	if d.delay > 0 {
		select {
		case <-time.After(d.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if d.runErr != nil {
		return d.runErr
	}
	_, err := w.Write(d.payload)
	return err
}

func newTestCoordinator(t *testing.T, drv driver.Driver) (*Coordinator, *cachestore.Store) {
	t.Helper()
	store, err := cachestore.New(&cachestore.Config{Directory: t.TempDir(), Logger: zap.NewNop().Sugar()})
	if err != nil {
		t.Fatalf("cachestore.New() error = %v", err)
	}
	registry := driver.NewRegistry(drv)
	coord, err := New(&Config{Store: store, Drivers: registry, Logger: zap.NewNop().Sugar()})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return coord, store
}

func TestGetOrBuildColdMissBuildsAndAcquires(t *testing.T) {
	drv := &fakeDriver{id: driver.Mp3Encode, payload: []byte("hello world")}
	coord, _ := newTestCoordinator(t, drv)

	handle, err := coord.GetOrBuild(context.Background(), "fp1", driver.Request{}, driver.Mp3Encode)
	if err != nil {
		t.Fatalf("GetOrBuild() error = %v", err)
	}
	defer handle.Close()

	size, err := handle.Size()
	if err != nil {
		t.Fatalf("Size() error = %v", err)
	}
	if size != int64(len(drv.payload)) {
		t.Fatalf("Size() = %d, want %d", size, len(drv.payload))
	}
	if drv.runs.Load() != 1 {
		t.Fatalf("driver ran %d times, want 1", drv.runs.Load())
	}
}

func TestGetOrBuildWarmHitSkipsBuild(t *testing.T) {
	drv := &fakeDriver{id: driver.Mp3Encode, payload: []byte("hello world")}
	coord, _ := newTestCoordinator(t, drv)

	h1, err := coord.GetOrBuild(context.Background(), "fp1", driver.Request{}, driver.Mp3Encode)
	if err != nil {
		t.Fatalf("first GetOrBuild() error = %v", err)
	}
	h1.Close()

	h2, err := coord.GetOrBuild(context.Background(), "fp1", driver.Request{}, driver.Mp3Encode)
	if err != nil {
		t.Fatalf("second GetOrBuild() error = %v", err)
	}
	defer h2.Close()

	if drv.runs.Load() != 1 {
		t.Fatalf("driver ran %d times across two opens, want 1 (cache hit on second)", drv.runs.Load())
	}
}

func TestGetOrBuildConcurrentCallersDedup(t *testing.T) {
	drv := &fakeDriver{id: driver.Mp3Encode, payload: []byte("hello world"), delay: 50 * time.Millisecond}
	coord, _ := newTestCoordinator(t, drv)

	const concurrency = 8
	var wg sync.WaitGroup
	errs := make([]error, concurrency)
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			handle, err := coord.GetOrBuild(context.Background(), "fp1", driver.Request{}, driver.Mp3Encode)
			errs[i] = err
			if err == nil {
				handle.Close()
			}
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("caller %d GetOrBuild() error = %v", i, err)
		}
	}
	if drv.runs.Load() != 1 {
		t.Fatalf("driver ran %d times for %d concurrent callers, want exactly 1", drv.runs.Load(), concurrency)
	}
}

func TestGetOrBuildDriverFailurePropagatesAndAllowsRetry(t *testing.T) {
	failErr := errors.New("encoder exploded")
	drv := &fakeDriver{id: driver.Mp3Encode, runErr: failErr}
	coord, store := newTestCoordinator(t, drv)

	_, err := coord.GetOrBuild(context.Background(), "fp1", driver.Request{}, driver.Mp3Encode)
	if err == nil {
		t.Fatalf("GetOrBuild() error = nil, want failure")
	}
	if audioerrors.GetErrorCode(err) == "" {
		t.Fatalf("GetOrBuild() error has no structured error code: %v", err)
	}

	if state, _, _ := store.Probe("fp1"); state != cachestore.StateAbsent {
		t.Fatalf("fingerprint state after failed build = %v, want StateAbsent (retryable)", state)
	}

	// Fix the driver and retry: a failed build must not poison the
	// fingerprint permanently.
	drv.runErr = nil
	drv.payload = []byte("now it works")
	handle, err := coord.GetOrBuild(context.Background(), "fp1", driver.Request{}, driver.Mp3Encode)
	if err != nil {
		t.Fatalf("retry GetOrBuild() error = %v", err)
	}
	defer handle.Close()
}

func TestGetOrBuildUnknownDriverID(t *testing.T) {
	drv := &fakeDriver{id: driver.Mp3Encode, payload: []byte("x")}
	coord, _ := newTestCoordinator(t, drv)

	_, err := coord.GetOrBuild(context.Background(), "fp1", driver.Request{}, driver.OggEncode)
	if err == nil {
		t.Fatalf("GetOrBuild() with an unregistered driver ID error = nil, want failure")
	}
	if audioerrors.GetErrorCode(err) != audioerrors.ErrorCodeDriverNotFound {
		t.Fatalf("error code = %v, want %v", audioerrors.GetErrorCode(err), audioerrors.ErrorCodeDriverNotFound)
	}
}

func TestGetOrBuildCallerCancellationLeavesBuildRunning(t *testing.T) {
	drv := &fakeDriver{id: driver.Mp3Encode, payload: []byte("done"), delay: 100 * time.Millisecond}
	coord, _ := newTestCoordinator(t, drv)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := coord.GetOrBuild(ctx, "fp1", driver.Request{}, driver.Mp3Encode)
	if audioerrors.GetErrorCode(err) != audioerrors.ErrorCodeCancelled {
		t.Fatalf("error code = %v, want %v", audioerrors.GetErrorCode(err), audioerrors.ErrorCodeCancelled)
	}

	// A second, uncancelled caller must still observe the build complete
	// successfully rather than having been torn down by the first
	// caller's cancellation.
	handle, err := coord.GetOrBuild(context.Background(), "fp1", driver.Request{}, driver.Mp3Encode)
	if err != nil {
		t.Fatalf("second caller GetOrBuild() error = %v", err)
	}
	defer handle.Close()
	if drv.runs.Load() != 1 {
		t.Fatalf("driver ran %d times, want 1 (cancellation must not restart the build)", drv.runs.Load())
	}
}

func TestGetOrBuildBuilderCancellationStillResolvesJoinedWaiters(t *testing.T) {
	drv := &fakeDriver{id: driver.Mp3Encode, payload: []byte("done"), delay: 100 * time.Millisecond}
	coord, _ := newTestCoordinator(t, drv)

	builderCtx, cancelBuilder := context.WithCancel(context.Background())

	builderDone := make(chan error, 1)
	go func() {
		_, err := coord.GetOrBuild(builderCtx, "fp1", driver.Request{}, driver.Mp3Encode)
		builderDone <- err
	}()

	// Wait until the build is actually in progress before joining it, so
	// this goroutine becomes a waiter on the elected builder's ticket
	// rather than itself racing to become the builder.
	deadline := time.After(time.Second)
	for coord.Inflight() == 0 {
		select {
		case <-deadline:
			t.Fatalf("build never started")
		case <-time.After(time.Millisecond):
		}
	}

	waiterDone := make(chan error, 1)
	go func() {
		handle, err := coord.GetOrBuild(context.Background(), "fp1", driver.Request{}, driver.Mp3Encode)
		if err == nil {
			handle.Close()
		}
		waiterDone <- err
	}()

	// Cancel the elected builder's own context before its build (running
	// under context.Background() internally) has finished. The waiter
	// above must still be resolved once the build completes rather than
	// blocking forever on a ticket nobody ever resolves.
	time.Sleep(10 * time.Millisecond)
	cancelBuilder()

	if err := <-builderDone; audioerrors.GetErrorCode(err) != audioerrors.ErrorCodeCancelled {
		t.Fatalf("builder error code = %v, want %v", audioerrors.GetErrorCode(err), audioerrors.ErrorCodeCancelled)
	}

	select {
	case err := <-waiterDone:
		if err != nil {
			t.Fatalf("joined waiter GetOrBuild() error = %v, want nil once the build completes", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("joined waiter never woke up after the elected builder's context was cancelled (ticket leak)")
	}
}

func TestInflightReportsInProgressBuilds(t *testing.T) {
	drv := &fakeDriver{id: driver.Mp3Encode, payload: []byte("x"), delay: 50 * time.Millisecond}
	coord, _ := newTestCoordinator(t, drv)

	done := make(chan struct{})
	go func() {
		handle, err := coord.GetOrBuild(context.Background(), "fp-inflight", driver.Request{}, driver.Mp3Encode)
		if err == nil {
			handle.Close()
		}
		close(done)
	}()

	deadline := time.After(time.Second)
	for coord.Inflight() == 0 {
		select {
		case <-deadline:
			t.Fatalf("Inflight never observed a build in progress")
		case <-time.After(time.Millisecond):
		}
	}

	<-done
	if coord.Inflight() != 0 {
		t.Fatalf("Inflight() = %d after build completed, want 0", coord.Inflight())
	}
}
