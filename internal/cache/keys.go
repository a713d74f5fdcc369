package cache

import "fmt"

const (
	KeyGeofences = "refdata:geofences"
	KeyCorridors = "refdata:corridors"
	KeyAlertFeed = "alerts:recent"
	AlertFeedMax = 200
)

func KeyLastPosition(entityID string) string {
	return fmt.Sprintf("position:last:%s", entityID)
}
