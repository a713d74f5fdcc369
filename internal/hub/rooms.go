package hub

import "strings"

// RoomFleet is the fleet-wide room every GPS sample is published to
const RoomFleet = "fleet"

func RoomTruck(entityID string) string {
	return "truck:" + entityID
}

func RoomShipment(shipmentID string) string {
	return "shipment:" + shipmentID
}

func RoomUser(userID string) string {
	return "user:" + userID
}

// SplitRoom separates a room name into its kind and id. The fleet room
// has no id.
func SplitRoom(room string) (kind, id string) {
	if i := strings.IndexByte(room, ':'); i >= 0 {
		return room[:i], room[i+1:]
	}
	return room, ""
}
