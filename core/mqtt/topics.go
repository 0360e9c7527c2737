package mqtt

import "strings"

const (
	statusPrefix  = "status/"
	commandPrefix = "command/"

	// StatusWildcard matches telemetry from every drone.
	StatusWildcard = statusPrefix + "+"
)

// StatusTopic is where drone id publishes telemetry.
func StatusTopic(droneID string) string { return statusPrefix + droneID }

// CommandTopic is where drone id receives commands.
func CommandTopic(droneID string) string { return commandPrefix + droneID }

// DroneIDFromStatusTopic extracts the drone id from status/{id}.
func DroneIDFromStatusTopic(topic string) (string, bool) {
	id, ok := strings.CutPrefix(topic, statusPrefix)
	if !ok || id == "" || strings.Contains(id, "/") {
		return "", false
	}
	return id, true
}
