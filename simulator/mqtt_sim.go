package simulator

import (
	"github.com/kilianp07/dronedispatch/core/mqtt"
	inframqtt "github.com/kilianp07/dronedispatch/infra/mqtt"
)

// OfflinePayload is the last will each simulated drone leaves with the broker.
const OfflinePayload = `{"status":"offline"}`

// Connector opens one broker session per drone.
type Connector func(droneID string) (mqtt.Client, error)

// PahoConnector connects every drone with its own client id and a last will
// marking it offline on status/{id}.
func PahoConnector(base inframqtt.Config) Connector {
	return func(droneID string) (mqtt.Client, error) {
		cfg := base
		cfg.ClientID = "sim-" + droneID
		cfg.LWTTopic = mqtt.StatusTopic(droneID)
		cfg.LWTPayload = OfflinePayload
		cfg.LWTQoS = 1
		return inframqtt.NewPahoClient(cfg)
	}
}
