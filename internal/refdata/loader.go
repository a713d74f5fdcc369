// Package refdata loads the externally curated reference data: freight
// corridors, seed geofence definitions and the driver ownership map.
package refdata

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"freightwatch/internal/domain"
	"freightwatch/internal/registry"
)

type fileWaypoint struct {
	City string  `yaml:"city" validate:"required"`
	Lat  float64 `yaml:"lat" validate:"gte=-90,lte=90"`
	Lng  float64 `yaml:"lng" validate:"gte=-180,lte=180"`
}

type fileCorridor struct {
	ID        string         `yaml:"id" validate:"required"`
	Name      string         `yaml:"name" validate:"required"`
	Waypoints []fileWaypoint `yaml:"waypoints" validate:"required,min=2,dive"`
}

type fileCoord struct {
	Lat float64 `yaml:"lat" validate:"gte=-90,lte=90"`
	Lng float64 `yaml:"lng" validate:"gte=-180,lte=180"`
}

type fileGeofence struct {
	ID           string         `yaml:"id" validate:"required"`
	Name         string         `yaml:"name" validate:"required"`
	Kind         string         `yaml:"kind" validate:"required,oneof=circle polygon"`
	Center       *fileCoord     `yaml:"center,omitempty"`
	RadiusMeters float64        `yaml:"radiusMeters,omitempty"`
	Rings        [][]fileCoord  `yaml:"rings,omitempty"`
	Attributes   map[string]any `yaml:"attributes,omitempty"`
}

type file struct {
	Corridors []fileCorridor    `yaml:"corridors"`
	Geofences []fileGeofence    `yaml:"geofences"`
	Drivers   map[string]string `yaml:"drivers"`
}

// Data is the loaded and validated reference set
type Data struct {
	Corridors []domain.Corridor
	Geofences []*domain.Geofence
	// Drivers maps entity id to the owning driver's user id
	Drivers map[string]string
}

// DriverFor satisfies the alert pipeline's ownership resolver
func (d *Data) DriverFor(entityID string) (string, bool) {
	userID, ok := d.Drivers[entityID]
	return userID, ok
}

// Load reads, validates and converts a reference data file. Geometry is
// checked with the same rules the registry applies, so a bad file fails
// at startup instead of mid-tick.
func Load(path string) (*Data, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading reference data: %w", err)
	}

	var f file
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parsing reference data: %w", err)
	}

	v := validator.New()
	data := &Data{Drivers: f.Drivers}
	if data.Drivers == nil {
		data.Drivers = make(map[string]string)
	}

	for _, fc := range f.Corridors {
		if err := v.Struct(fc); err != nil {
			return nil, fmt.Errorf("corridor %q: %w", fc.ID, err)
		}
		c := domain.Corridor{ID: fc.ID, Name: fc.Name}
		for _, w := range fc.Waypoints {
			c.Waypoints = append(c.Waypoints, domain.Waypoint{
				City:      w.City,
				Latitude:  w.Lat,
				Longitude: w.Lng,
			})
		}
		data.Corridors = append(data.Corridors, c)
	}

	for _, fg := range f.Geofences {
		if err := v.Struct(fg); err != nil {
			return nil, fmt.Errorf("geofence %q: %w", fg.ID, err)
		}
		g := &domain.Geofence{
			ID:           fg.ID,
			Name:         fg.Name,
			Kind:         domain.GeofenceKind(fg.Kind),
			RadiusMeters: fg.RadiusMeters,
			Attributes:   fg.Attributes,
		}
		if fg.Center != nil {
			g.Center = &domain.LatLng{Lat: fg.Center.Lat, Lng: fg.Center.Lng}
		}
		for _, ring := range fg.Rings {
			converted := make([]domain.LatLng, 0, len(ring))
			for _, c := range ring {
				converted = append(converted, domain.LatLng{Lat: c.Lat, Lng: c.Lng})
			}
			g.Rings = append(g.Rings, converted)
		}
		if err := registry.Validate(g); err != nil {
			return nil, fmt.Errorf("geofence %q: %w", fg.ID, err)
		}
		data.Geofences = append(data.Geofences, g)
	}

	return data, nil
}
