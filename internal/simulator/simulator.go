// Package simulator advances simulated vehicles along freight corridors,
// emitting GPS samples with realistic sensor noise. Journey state is
// passed in and returned on every tick; the simulator itself holds no
// per-entity state.
package simulator

import (
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"sync"
	"time"

	"freightwatch/internal/domain"
	"freightwatch/internal/geo"
)

const (
	// speed band resampled on each waypoint advance, emulating traffic
	MinSpeedKmh = 55
	MaxSpeedKmh = 80

	posJitterDeg     = 0.0001 // ~11 m
	headingJitterDeg = 5
	speedJitterKmh   = 5
	idleDriftDeg     = 0.00004 // ~4.5 m, keeps idle drift under 10 m
)

type Simulator struct {
	logger *slog.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

func New(logger *slog.Logger, seed int64) *Simulator {
	return &Simulator{
		logger: logger.With("component", "journey_simulator"),
		rng:    rand.New(rand.NewSource(seed)),
	}
}

// StartJourney validates the corridor and returns the initial state at the
// first waypoint. Corridors with fewer than two waypoints are rejected
// here, before they can enter the tick loop.
func (s *Simulator) StartJourney(entityID string, c *domain.Corridor, speedKmh float64) (domain.JourneyState, error) {
	if err := c.Validate(); err != nil {
		return domain.JourneyState{}, fmt.Errorf("corridor %q: %w", c.ID, err)
	}
	if speedKmh <= 0 {
		speedKmh = s.sampleSpeed()
	}
	return domain.JourneyState{
		EntityID:   entityID,
		CorridorID: c.ID,
		SpeedKmh:   speedKmh,
	}, nil
}

// Tick moves the journey forward by elapsed time and returns the emitted
// sample plus the successor state. Sensor jitter is applied to the sample
// only, never folded back into the state, so noise cannot accumulate.
//
// On completing the final segment the journey loops back to the first
// waypoint, modelling a round-trip corridor.
func (s *Simulator) Tick(state domain.JourneyState, c *domain.Corridor, elapsed time.Duration, now time.Time) (domain.GPSSample, domain.JourneyState, error) {
	if err := c.Validate(); err != nil {
		return domain.GPSSample{}, state, fmt.Errorf("corridor %q: %w", c.ID, err)
	}
	last := len(c.Waypoints) - 1
	if state.WaypointIndex < 0 || state.WaypointIndex >= last {
		state.WaypointIndex = 0
		state.SegmentProgress = 0
	}

	from := waypointLatLng(c.Waypoints[state.WaypointIndex])
	to := waypointLatLng(c.Waypoints[state.WaypointIndex+1])
	segmentKm := geo.DistanceMeters(from, to) / 1000

	moveKm := state.SpeedKmh / 3600 * elapsed.Seconds()
	if segmentKm > 0 {
		state.SegmentProgress += moveKm / segmentKm
	} else {
		state.SegmentProgress = 1
	}

	if state.SegmentProgress >= 1 {
		state.SegmentProgress = 0
		state.WaypointIndex++
		if state.WaypointIndex >= last {
			s.logger.Debug("corridor completed, looping", "entity_id", state.EntityID, "corridor_id", c.ID)
			state.WaypointIndex = 0
		}
		state.SpeedKmh = s.sampleSpeed()
		from = waypointLatLng(c.Waypoints[state.WaypointIndex])
		to = waypointLatLng(c.Waypoints[state.WaypointIndex+1])
	}

	pos := geo.Interpolate(from, to, state.SegmentProgress)
	heading := geo.BearingDegrees(from, to)

	s.mu.Lock()
	sample := domain.GPSSample{
		EntityID:       state.EntityID,
		Latitude:       domain.Round5(pos.Lat + s.jitter(posJitterDeg)),
		Longitude:      domain.Round5(pos.Lng + s.jitter(posJitterDeg)),
		HeadingDegrees: normalizeHeading(heading + s.jitter(headingJitterDeg)),
		SpeedKmh:       math.Max(0, state.SpeedKmh+s.jitter(speedJitterKmh)),
		AccuracyMeters: 5 + s.rng.Float64()*10,
		Timestamp:      now,
	}
	s.mu.Unlock()

	return sample, state, nil
}

// IdleSamples produces a fixed-count series of near-static readings for a
// vehicle that is parked, drifting under 10 m around the base position.
func (s *Simulator) IdleSamples(entityID string, base domain.Position, count int, interval time.Duration) []domain.GPSSample {
	samples := make([]domain.GPSSample, 0, count)
	ts := base.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i := 0; i < count; i++ {
		samples = append(samples, domain.GPSSample{
			EntityID:       entityID,
			Latitude:       domain.Round5(base.Latitude + s.jitter(idleDriftDeg)),
			Longitude:      domain.Round5(base.Longitude + s.jitter(idleDriftDeg)),
			SpeedKmh:       0,
			AccuracyMeters: 5 + s.rng.Float64()*10,
			Timestamp:      ts.Add(time.Duration(i) * interval),
		})
	}
	return samples
}

// LocationAtTime answers "where is this truck right now" without touching
// any stored journey state: it recomputes the cumulative distance covered
// at constant speed since the journey started and locates the point on the
// corridor, wrapping at the corridor length to match the looping tick
// behavior.
func (s *Simulator) LocationAtTime(entityID string, c *domain.Corridor, journeyStart time.Time, speedKmh float64, now time.Time) (domain.GPSSample, error) {
	if err := c.Validate(); err != nil {
		return domain.GPSSample{}, fmt.Errorf("corridor %q: %w", c.ID, err)
	}

	elapsed := now.Sub(journeyStart)
	if elapsed < 0 {
		elapsed = 0
	}
	travelledKm := speedKmh * elapsed.Hours()

	totalKm := corridorLengthKm(c)
	if totalKm > 0 {
		travelledKm = math.Mod(travelledKm, totalKm)
	} else {
		travelledKm = 0
	}

	from := waypointLatLng(c.Waypoints[0])
	to := waypointLatLng(c.Waypoints[1])
	pos := from
	for i := 0; i < len(c.Waypoints)-1; i++ {
		from = waypointLatLng(c.Waypoints[i])
		to = waypointLatLng(c.Waypoints[i+1])
		segKm := geo.DistanceMeters(from, to) / 1000
		if travelledKm <= segKm || segKm == 0 {
			t := 0.0
			if segKm > 0 {
				t = travelledKm / segKm
			}
			pos = geo.Interpolate(from, to, t)
			break
		}
		travelledKm -= segKm
		pos = to
	}

	return domain.GPSSample{
		EntityID:       entityID,
		Latitude:       domain.Round5(pos.Lat),
		Longitude:      domain.Round5(pos.Lng),
		HeadingDegrees: geo.BearingDegrees(from, to),
		SpeedKmh:       speedKmh,
		Timestamp:      now,
	}, nil
}

func (s *Simulator) sampleSpeed() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return MinSpeedKmh + s.rng.Float64()*(MaxSpeedKmh-MinSpeedKmh)
}

// jitter returns a uniform value in [-magnitude, magnitude]. Callers hold s.mu.
func (s *Simulator) jitter(magnitude float64) float64 {
	return (s.rng.Float64()*2 - 1) * magnitude
}

func normalizeHeading(deg float64) float64 {
	return math.Mod(math.Mod(deg, 360)+360, 360)
}

func waypointLatLng(w domain.Waypoint) domain.LatLng {
	return domain.LatLng{Lat: w.Latitude, Lng: w.Longitude}
}

func corridorLengthKm(c *domain.Corridor) float64 {
	total := 0.0
	for i := 0; i < len(c.Waypoints)-1; i++ {
		total += geo.DistanceMeters(waypointLatLng(c.Waypoints[i]), waypointLatLng(c.Waypoints[i+1])) / 1000
	}
	return total
}
