// Package poller drives the steady-state telemetry fetch: one repeating
// schedule, N concurrent endpoint requests per cycle, one snapshot per
// cycle. Individual endpoint failures are recorded inline; a 401 anywhere in
// the cycle escalates to a single token refresh followed by one full
// re-fetch of every endpoint.
package poller

import (
	"context"
	"errors"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/mirrormods/volvobridge/internal/auth"
	"github.com/mirrormods/volvobridge/internal/notify"
	"github.com/mirrormods/volvobridge/internal/vehicle"
)

// VehicleAPI is the slice of the vehicle client the poller depends on.
type VehicleAPI interface {
	ResolveVehicle(ctx context.Context) (*vehicle.Info, error)
	FetchTelemetry(ctx context.Context, ep vehicle.Endpoint, vin string) vehicle.EndpointResult
}

// TokenManager is the slice of the auth manager the poller depends on.
type TokenManager interface {
	IsNearExpiry(skew time.Duration) bool
	Refresh(ctx context.Context) error
}

// Meta describes the cycle a snapshot was produced by.
type Meta struct {
	// At is the cycle start time.
	At time.Time `json:"at"`
	// VIN identifies the vehicle the snapshot belongs to.
	VIN string `json:"vin"`
}

// Snapshot is one complete, possibly partial, result set from a single poll
// cycle. It is immutable once emitted; ownership transfers to the notifier.
type Snapshot struct {
	Meta Meta                              `json:"meta"`
	Data map[string]vehicle.EndpointResult `json:"data"`
}

// Poller owns the repeating telemetry schedule. At most one schedule is
// active per process; Start cancels any prior one. Cycles never overlap: a
// tick that fires while the previous cycle (including its refresh and retry
// pass) is still running is skipped.
type Poller struct {
	api      VehicleAPI
	tokens   TokenManager
	notifier notify.Notifier

	// endpoints is overridable in tests.
	endpoints []vehicle.Endpoint

	// startMu serializes whole Start/Stop sequences. Without it two
	// concurrent Starts can each observe no prior schedule, then both
	// install one; the loser's handles are overwritten and its ticker can
	// never be cancelled again.
	startMu sync.Mutex

	scheduleMu sync.Mutex
	cancel     context.CancelFunc
	done       chan struct{}

	// cycleMu implements the skip-if-busy overlap policy.
	cycleMu sync.Mutex

	vinMu sync.RWMutex
	info  *vehicle.Info

	lastMu sync.RWMutex
	last   *Snapshot
}

// New constructs a poller.
func New(api VehicleAPI, tokens TokenManager, notifier notify.Notifier) *Poller {
	return &Poller{
		api:       api,
		tokens:    tokens,
		notifier:  notifier,
		endpoints: vehicle.TelemetryEndpoints,
	}
}

// Start launches the repeating schedule, cancelling any previously running
// one first so restarting never produces overlapping schedules.
//
// Parameters:
//   - ctx: Parent context; cancelling it stops the schedule. An in-flight
//     cycle is allowed to complete.
//   - immediate: Run one cycle right away instead of waiting for the first tick
//   - interval: The cycle period
func (p *Poller) Start(ctx context.Context, immediate bool, interval time.Duration) {
	p.startMu.Lock()
	defer p.startMu.Unlock()

	p.stopSchedule()

	scheduleCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	p.scheduleMu.Lock()
	p.cancel = cancel
	p.done = done
	p.scheduleMu.Unlock()

	log.Infof("polling every %s", interval)

	go func() {
		defer close(done)

		if immediate {
			p.runCycle(scheduleCtx)
		}

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-scheduleCtx.Done():
				log.Info("poll schedule stopped")
				return
			case <-ticker.C:
				p.runCycle(scheduleCtx)
			}
		}
	}()
}

// Stop cancels the pending schedule. An in-flight cycle completes on its
// own; Stop waits for the schedule goroutine to exit.
func (p *Poller) Stop() {
	p.startMu.Lock()
	defer p.startMu.Unlock()
	p.stopSchedule()
}

// stopSchedule tears down the current schedule. Callers hold startMu.
func (p *Poller) stopSchedule() {
	p.scheduleMu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.scheduleMu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// LastSnapshot returns the most recently emitted snapshot, or nil when no
// cycle has completed yet.
func (p *Poller) LastSnapshot() *Snapshot {
	p.lastMu.RLock()
	defer p.lastMu.RUnlock()
	return p.last
}

// EnsureVehicle resolves the VIN if it is not known yet, refreshing the
// token set and retrying exactly once when the listing call reports a 401.
func (p *Poller) EnsureVehicle(ctx context.Context) (*vehicle.Info, error) {
	p.vinMu.RLock()
	info := p.info
	p.vinMu.RUnlock()
	if info != nil {
		return info, nil
	}

	info, err := p.api.ResolveVehicle(ctx)
	if err != nil {
		var apiErr *vehicle.APIError
		if errors.As(err, &apiErr) && apiErr.IsUnauthorized() {
			log.Warn("vehicles listing returned 401, refreshing token and retrying once")
			if errRefresh := p.tokens.Refresh(ctx); errRefresh != nil {
				return nil, err
			}
			info, err = p.api.ResolveVehicle(ctx)
		}
		if err != nil {
			return nil, err
		}
	}

	p.vinMu.Lock()
	p.info = info
	p.vinMu.Unlock()
	return info, nil
}

// runCycle executes one poll cycle. The cycle runs on a context detached
// from schedule cancellation so stopping the poller lets an in-flight cycle
// finish; every HTTP call carries its own bounded timeout.
func (p *Poller) runCycle(scheduleCtx context.Context) {
	if !p.cycleMu.TryLock() {
		log.Warn("previous poll cycle still running, skipping this tick")
		return
	}
	defer p.cycleMu.Unlock()

	ctx := context.WithoutCancel(scheduleCtx)
	start := time.Now()

	// A missing VIN is the only condition that suppresses snapshot emission;
	// the schedule itself stays alive for the next tick.
	info, err := p.EnsureVehicle(ctx)
	if err != nil {
		log.Errorf("VIN fetch failed: %v", err)
		p.notifier.Status("VIN fetch failed")
		return
	}

	// Proactive refresh. Failure is deliberately non-fatal: the cycle runs
	// on the stale token and the 401 path below picks up the pieces.
	if p.tokens.IsNearExpiry(auth.ExpirySkew) {
		log.Info("access token nearly expired, refreshing")
		if err = p.tokens.Refresh(ctx); err != nil {
			log.Warnf("proactive token refresh failed: %v", err)
		}
	}

	data := p.fetchAll(ctx, info.VIN)

	if anyUnauthorized(data) {
		log.Warn("one or more endpoints returned 401, refreshing token and retrying the full batch once")
		if err = p.tokens.Refresh(ctx); err != nil {
			log.Errorf("token refresh after 401 failed: %v", err)
			p.notifier.Status("Auth failed")
		}
		// The whole batch is retried rather than only the failed endpoints;
		// after a rotation the vendor may attribute previously succeeded
		// calls differently. No further retry regardless of outcome.
		data = p.fetchAll(ctx, info.VIN)
	}

	snapshot := &Snapshot{
		Meta: Meta{At: start, VIN: info.VIN},
		Data: data,
	}

	p.lastMu.Lock()
	p.last = snapshot
	p.lastMu.Unlock()

	log.Infof("poll cycle complete in %s, emitting snapshot", time.Since(start).Truncate(time.Millisecond))
	p.notifier.Data(snapshot)
}

// fetchAll issues every telemetry request concurrently and joins before
// returning, bounding cycle latency to the slowest single endpoint.
func (p *Poller) fetchAll(ctx context.Context, vin string) map[string]vehicle.EndpointResult {
	results := make([]vehicle.EndpointResult, len(p.endpoints))

	var wg sync.WaitGroup
	for i, ep := range p.endpoints {
		wg.Add(1)
		go func(i int, ep vehicle.Endpoint) {
			defer wg.Done()
			result := p.api.FetchTelemetry(ctx, ep, vin)
			if result.Err != nil {
				log.Errorf("endpoint %s failed: %v", ep.Name, result.Err)
			}
			results[i] = result
		}(i, ep)
	}
	wg.Wait()

	data := make(map[string]vehicle.EndpointResult, len(p.endpoints))
	for i, ep := range p.endpoints {
		data[ep.Name] = results[i]
	}
	return data
}

// anyUnauthorized reports whether any endpoint in the batch failed with 401.
func anyUnauthorized(data map[string]vehicle.EndpointResult) bool {
	for _, result := range data {
		if result.Unauthorized() {
			return true
		}
	}
	return false
}
