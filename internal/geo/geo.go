// Package geo provides the pure geographic primitives used by geofence
// detection and journey simulation: great-circle distance and bearing,
// point-in-region tests and nearest-point projections. All functions are
// side-effect free and return ErrInvalidGeometry instead of NaN on
// degenerate input.
package geo

import (
	"math"

	"freightwatch/internal/domain"
)

// EarthRadiusMeters is the WGS-84 mean radius
const EarthRadiusMeters = 6371000

func toRad(deg float64) float64 { return deg * math.Pi / 180 }
func toDeg(rad float64) float64 { return rad * 180 / math.Pi }

// DistanceMeters returns the haversine great-circle distance between two points
func DistanceMeters(a, b domain.LatLng) float64 {
	dLat := toRad(b.Lat - a.Lat)
	dLng := toRad(b.Lng - a.Lng)
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(a.Lat))*math.Cos(toRad(b.Lat))*math.Sin(dLng/2)*math.Sin(dLng/2)
	return EarthRadiusMeters * 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// BearingDegrees returns the initial bearing from a to b in [0,360)
func BearingDegrees(a, b domain.LatLng) float64 {
	lat1 := toRad(a.Lat)
	lat2 := toRad(b.Lat)
	dLng := toRad(b.Lng - a.Lng)

	y := math.Sin(dLng) * math.Cos(lat2)
	x := math.Cos(lat1)*math.Sin(lat2) - math.Sin(lat1)*math.Cos(lat2)*math.Cos(dLng)
	deg := toDeg(math.Atan2(y, x))
	return math.Mod(deg+360, 360)
}

// PointInCircle reports whether p lies within radiusMeters of center
func PointInCircle(p, center domain.LatLng, radiusMeters float64) (bool, error) {
	if radiusMeters <= 0 {
		return false, domain.ErrInvalidGeometry
	}
	return DistanceMeters(p, center) <= radiusMeters, nil
}

// PointInPolygon applies the even-odd ray-casting rule over all rings
// (outer ring plus holes). Each ring must have at least three distinct
// vertices.
func PointInPolygon(p domain.LatLng, rings [][]domain.LatLng) (bool, error) {
	if len(rings) == 0 {
		return false, domain.ErrInvalidGeometry
	}
	inside := false
	for _, ring := range rings {
		if err := validateRing(ring); err != nil {
			return false, err
		}
		if rayCast(p, ring) {
			inside = !inside
		}
	}
	return inside, nil
}

// rayCast toggles per edge crossed by a ray travelling in +lng direction
func rayCast(p domain.LatLng, ring []domain.LatLng) bool {
	in := false
	n := len(ring)
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		vi, vj := ring[i], ring[j]
		if (vi.Lat > p.Lat) != (vj.Lat > p.Lat) &&
			p.Lng < (vj.Lng-vi.Lng)*(p.Lat-vi.Lat)/(vj.Lat-vi.Lat)+vi.Lng {
			in = !in
		}
	}
	return in
}

func validateRing(ring []domain.LatLng) error {
	distinct := make(map[domain.LatLng]struct{}, len(ring))
	for _, v := range ring {
		distinct[v] = struct{}{}
	}
	if len(distinct) < 3 {
		return domain.ErrInvalidGeometry
	}
	return nil
}

// NearestPointOnSegment projects p onto the segment ab using a local
// equirectangular plane. Adequate for proximity queries at corridor scale;
// not geodesic-accurate over long segments.
func NearestPointOnSegment(p, a, b domain.LatLng) domain.LatLng {
	scale := math.Cos(toRad((a.Lat + b.Lat) / 2))

	ax, ay := a.Lng*scale, a.Lat
	bx, by := b.Lng*scale, b.Lat
	px, py := p.Lng*scale, p.Lat

	vx, vy := bx-ax, by-ay
	denom := vx*vx + vy*vy
	if denom == 0 {
		return a
	}

	t := ((px-ax)*vx + (py-ay)*vy) / denom
	if t < 0 {
		t = 0
	} else if t > 1 {
		t = 1
	}
	lng := (ax + t*vx) / scale
	return domain.LatLng{Lat: ay + t*vy, Lng: lng}
}

// DistanceToPolygonBoundary returns the distance in meters from p to the
// closest point on any ring edge
func DistanceToPolygonBoundary(p domain.LatLng, rings [][]domain.LatLng) (float64, error) {
	if len(rings) == 0 {
		return 0, domain.ErrInvalidGeometry
	}
	best := math.MaxFloat64
	for _, ring := range rings {
		if err := validateRing(ring); err != nil {
			return 0, err
		}
		n := len(ring)
		for i, j := 0, n-1; i < n; j, i = i, i+1 {
			nearest := NearestPointOnSegment(p, ring[j], ring[i])
			if d := DistanceMeters(p, nearest); d < best {
				best = d
			}
		}
	}
	return best, nil
}

// Interpolate returns the point at fraction t along the straight line from
// a to b in lat/lng space. Bounded error at segment lengths of tens of km.
func Interpolate(a, b domain.LatLng, t float64) domain.LatLng {
	return domain.LatLng{
		Lat: a.Lat + (b.Lat-a.Lat)*t,
		Lng: a.Lng + (b.Lng-a.Lng)*t,
	}
}
