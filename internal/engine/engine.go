// Package engine drives the simulation tick: every interval each active
// journey advances, the emitted sample flows through the fleet store and
// the border tracker, and resulting alerts fan out to the hub, the NATS
// bridge and the cache writer.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"freightwatch/internal/alert"
	"freightwatch/internal/config"
	"freightwatch/internal/domain"
	"freightwatch/internal/registry"
	"freightwatch/internal/simulator"
	"freightwatch/internal/store"
	"freightwatch/internal/tracker"
)

var ErrUnknownCorridor = errors.New("unknown corridor")

const recentAlertLimit = 500

type Broadcaster interface {
	BroadcastGPS(sample domain.GPSSample)
	BroadcastAlert(a domain.Alert, rec alert.Recipients)
}

// Mirror republishes traffic to an external broker. Optional.
type Mirror interface {
	PublishGPS(sample domain.GPSSample)
	PublishGeofenceEvent(event domain.GeofenceEvent)
	PublishAlert(a domain.Alert)
}

// CacheSink accepts non-blocking cache writes. Optional.
type CacheSink interface {
	OfferSample(sample domain.GPSSample)
	OfferAlert(a domain.Alert)
}

type journey struct {
	state      domain.JourneyState
	corridor   *domain.Corridor
	shipmentID string
	startedAt  time.Time
	lastTick   time.Time
}

type JourneyInfo struct {
	EntityID   string    `json:"entityId"`
	CorridorID string    `json:"corridorId"`
	ShipmentID string    `json:"shipmentId"`
	SpeedKmh   float64   `json:"speedKmh"`
	StartedAt  time.Time `json:"startedAt"`
}

type Engine struct {
	config      *config.Config
	sim         *simulator.Simulator
	fleet       *store.FleetStore
	tracker     *tracker.Tracker
	registry    *registry.Registry
	pipeline    *alert.Pipeline
	broadcaster Broadcaster
	mirror      Mirror
	cache       CacheSink
	corridors   map[string]*domain.Corridor
	logger      *slog.Logger

	mu       sync.Mutex
	journeys map[string]*journey
	recent   []domain.Alert
	now      func() time.Time

	ready   bool
	readyMu sync.RWMutex
}

func New(
	cfg *config.Config,
	sim *simulator.Simulator,
	fleet *store.FleetStore,
	tr *tracker.Tracker,
	reg *registry.Registry,
	pipeline *alert.Pipeline,
	broadcaster Broadcaster,
	corridors []domain.Corridor,
	logger *slog.Logger,
) *Engine {
	byID := make(map[string]*domain.Corridor, len(corridors))
	for i := range corridors {
		byID[corridors[i].ID] = &corridors[i]
	}

	return &Engine{
		config:      cfg,
		sim:         sim,
		fleet:       fleet,
		tracker:     tr,
		registry:    reg,
		pipeline:    pipeline,
		broadcaster: broadcaster,
		corridors:   byID,
		journeys:    make(map[string]*journey),
		logger:      logger.With("component", "engine"),
		now:         time.Now,
	}
}

// SetMirror wires the optional broker bridge
func (e *Engine) SetMirror(m Mirror) { e.mirror = m }

// SetCacheSink wires the optional cache writer
func (e *Engine) SetCacheSink(c CacheSink) { e.cache = c }

func (e *Engine) Run(ctx context.Context) {
	if e.config.SimAutoStart {
		e.autoStart()
	}

	ticker := time.NewTicker(e.config.TickInterval)
	defer ticker.Stop()

	pruneTicker := time.NewTicker(e.config.TickInterval * 3)
	defer pruneTicker.Stop()

	borderTicker := time.NewTicker(time.Hour)
	defer borderTicker.Stop()

	e.tick()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.tick()
		case <-pruneTicker.C:
			e.prune()
		case <-borderTicker.C:
			if n := e.tracker.PruneStale(e.config.BorderStateMaxAge); n > 0 {
				e.logger.Info("pruned stale border state", "count", n)
			}
		}
	}
}

func (e *Engine) autoStart() {
	ids := make([]string, 0, len(e.corridors))
	for id := range e.corridors {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, corridorID := range ids {
		for n := 1; n <= e.config.SimTrucksPerRoute; n++ {
			entityID := fmt.Sprintf("truck-%s-%d", corridorID, n)
			if err := e.StartJourney(entityID, corridorID, 0, uuid.NewString()); err != nil {
				e.logger.Error("auto start failed", "entity_id", entityID, "error", err)
			}
		}
	}
	e.logger.Info("auto started journeys", "corridors", len(ids), "trucks_per_corridor", e.config.SimTrucksPerRoute)
}

func (e *Engine) tick() {
	now := e.now()
	fences := e.registry.List()

	e.mu.Lock()
	entities := make([]string, 0, len(e.journeys))
	for id := range e.journeys {
		entities = append(entities, id)
	}
	sort.Strings(entities)

	var samples []domain.GPSSample
	var events []domain.GeofenceEvent
	for _, entityID := range entities {
		j := e.journeys[entityID]
		elapsed := now.Sub(j.lastTick)
		sample, next, err := e.sim.Tick(j.state, j.corridor, elapsed, now)
		if err != nil {
			e.logger.Error("tick failed", "entity_id", entityID, "error", err)
			continue
		}
		j.state = next
		j.lastTick = now
		sample.ShipmentID = j.shipmentID

		e.fleet.Update(sample)
		samples = append(samples, sample)
		events = append(events, e.tracker.Update(entityID, sample.Position(), fences, j.shipmentID)...)
	}
	e.mu.Unlock()

	for _, sample := range samples {
		e.broadcaster.BroadcastGPS(sample)
		if e.mirror != nil {
			e.mirror.PublishGPS(sample)
		}
		if e.cache != nil {
			e.cache.OfferSample(sample)
		}
	}

	for _, ev := range events {
		if e.mirror != nil {
			e.mirror.PublishGeofenceEvent(ev)
		}
		e.emit(e.pipeline.FromGeofenceEvent(ev))
	}

	if !e.IsReady() && len(samples) > 0 {
		e.setReady(true)
		e.logger.Info("engine ready", "journeys", len(samples))
	}

	e.logger.Debug("tick completed",
		"journeys", len(samples),
		"geofence_events", len(events),
		"trucks", e.fleet.Count(),
	)
}

// prune drops trucks without recent samples and raises an offline alert
// for each, carrying the last known position
func (e *Engine) prune() {
	removed := e.fleet.PruneStale()
	for _, sample := range removed {
		pos := sample.Position()
		e.emit(e.pipeline.NewAlert(domain.AlertOffline, sample.EntityID, sample.ShipmentID, &pos, e.now()))
	}
	if len(removed) > 0 {
		e.logger.Info("pruned stale trucks", "count", len(removed))
	}
}

func (e *Engine) emit(a domain.Alert) {
	rec := e.pipeline.Recipients(a)
	e.broadcaster.BroadcastAlert(a, rec)
	if e.mirror != nil {
		e.mirror.PublishAlert(a)
	}
	if e.cache != nil {
		e.cache.OfferAlert(a)
	}

	e.mu.Lock()
	e.recent = append(e.recent, a)
	if len(e.recent) > recentAlertLimit {
		e.recent = e.recent[len(e.recent)-recentAlertLimit:]
	}
	e.mu.Unlock()

	e.logger.Info("alert emitted",
		"alert_id", a.ID,
		"kind", a.Kind,
		"severity", a.Severity.String(),
		"entity_id", a.EntityID,
	)
}

// RaiseAlert accepts an externally triggered alert, for example a speed
// violation detected by a downstream consumer
func (e *Engine) RaiseAlert(kind domain.AlertKind, entityID, shipmentID string, loc *domain.Position) domain.Alert {
	a := e.pipeline.NewAlert(kind, entityID, shipmentID, loc, e.now())
	e.emit(a)
	return a
}

func (e *Engine) StartJourney(entityID, corridorID string, speedKmh float64, shipmentID string) error {
	c, ok := e.corridors[corridorID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCorridor, corridorID)
	}

	state, err := e.sim.StartJourney(entityID, c, speedKmh)
	if err != nil {
		return err
	}
	if shipmentID == "" {
		shipmentID = uuid.NewString()
	}

	now := e.now()
	e.mu.Lock()
	e.journeys[entityID] = &journey{
		state:      state,
		corridor:   c,
		shipmentID: shipmentID,
		startedAt:  now,
		lastTick:   now,
	}
	e.mu.Unlock()

	e.logger.Info("journey started",
		"entity_id", entityID,
		"corridor_id", corridorID,
		"shipment_id", shipmentID,
		"speed_kmh", state.SpeedKmh,
	)
	return nil
}

func (e *Engine) StopJourney(entityID string) bool {
	e.mu.Lock()
	_, ok := e.journeys[entityID]
	delete(e.journeys, entityID)
	e.mu.Unlock()

	if ok {
		e.tracker.Reset(entityID)
		e.logger.Info("journey stopped", "entity_id", entityID)
	}
	return ok
}

// LocationAtTime answers where a truck would be at an arbitrary instant,
// without disturbing the live journey state
func (e *Engine) LocationAtTime(entityID string, at time.Time) (domain.GPSSample, error) {
	e.mu.Lock()
	j, ok := e.journeys[entityID]
	if !ok {
		e.mu.Unlock()
		return domain.GPSSample{}, fmt.Errorf("no active journey for %s", entityID)
	}
	corridor, startedAt, speed := j.corridor, j.startedAt, j.state.SpeedKmh
	e.mu.Unlock()

	return e.sim.LocationAtTime(entityID, corridor, startedAt, speed, at)
}

func (e *Engine) ActiveJourneys() []JourneyInfo {
	e.mu.Lock()
	defer e.mu.Unlock()

	infos := make([]JourneyInfo, 0, len(e.journeys))
	for entityID, j := range e.journeys {
		infos = append(infos, JourneyInfo{
			EntityID:   entityID,
			CorridorID: j.corridor.ID,
			ShipmentID: j.shipmentID,
			SpeedKmh:   j.state.SpeedKmh,
			StartedAt:  j.startedAt,
		})
	}
	sort.Slice(infos, func(i, k int) bool { return infos[i].EntityID < infos[k].EntityID })
	return infos
}

// RecentAlerts returns the newest alerts first, capped at limit
func (e *Engine) RecentAlerts(limit int) []domain.Alert {
	e.mu.Lock()
	defer e.mu.Unlock()

	n := len(e.recent)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]domain.Alert, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, e.recent[i])
	}
	return out
}

func (e *Engine) AlertStats() alert.Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return alert.ComputeStats(e.recent)
}

func (e *Engine) IsReady() bool {
	e.readyMu.RLock()
	defer e.readyMu.RUnlock()
	return e.ready
}

func (e *Engine) setReady(ready bool) {
	e.readyMu.Lock()
	defer e.readyMu.Unlock()
	e.ready = ready
}
