package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/kilianp07/dronedispatch/core/geo"
)

// Report is a decoded drone status message.
type Report struct {
	Position  *geo.Point
	Battery   *float64
	Status    DroneStatus
	RequestID string
}

// StatusMessage is the JSON payload published on status/{drone_id}.
type StatusMessage struct {
	CurrLatLong string       `json:"curr_latlong,omitempty"`
	CurrBattery BatteryLevel `json:"curr_battery,omitempty"`
	Status      string       `json:"status"`
	RequestID   string       `json:"request_id,omitempty"`
}

// BatteryLevel accepts both "87.5" and 87.5 on the wire.
type BatteryLevel struct {
	Value *float64
}

func (b *BatteryLevel) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		b.Value = nil
		return nil
	}
	raw := string(data)
	if data[0] == '"' {
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
		raw = strings.TrimSpace(raw)
		if raw == "" {
			b.Value = nil
			return nil
		}
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fmt.Errorf("battery level %q: %w", raw, err)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Errorf("battery level %q is not a number", raw)
	}
	b.Value = &v
	return nil
}

func (b BatteryLevel) MarshalJSON() ([]byte, error) {
	if b.Value == nil {
		return []byte("null"), nil
	}
	return json.Marshal(*b.Value)
}

// DecodeReport parses a status payload.
func DecodeReport(payload []byte) (Report, error) {
	var msg StatusMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return Report{}, err
	}
	status, err := ParseDroneStatus(msg.Status)
	if err != nil {
		return Report{}, err
	}
	rep := Report{Status: status, Battery: msg.CurrBattery.Value, RequestID: strings.TrimSpace(msg.RequestID)}
	if msg.CurrLatLong != "" {
		p, err := geo.ParseLatLong(msg.CurrLatLong)
		if err != nil {
			return Report{}, err
		}
		rep.Position = &p
	}
	return rep, nil
}

// EncodeReport is the inverse of DecodeReport, used by the simulator.
func EncodeReport(r Report) ([]byte, error) {
	msg := StatusMessage{Status: string(r.Status), RequestID: r.RequestID, CurrBattery: BatteryLevel{Value: r.Battery}}
	if r.Position != nil {
		msg.CurrLatLong = r.Position.String()
	}
	return json.Marshal(msg)
}

// CommandAction distinguishes delivery from cancellation commands.
type CommandAction string

const (
	ActionDeliver CommandAction = ""
	ActionCancel  CommandAction = "cancel"
)

// Command is the JSON payload published on command/{drone_id}.
type Command struct {
	RequestID   string        `json:"request_id"`
	DestLatLong string        `json:"dest_latlong,omitempty"`
	Weight      float64       `json:"weight,omitempty"`
	Action      CommandAction `json:"action,omitempty"`
}

// DeliveryCommand sends the drone to the pickup point of r.
func DeliveryCommand(r Request) Command {
	return Command{RequestID: r.ID, DestLatLong: r.Origin.String(), Weight: r.Weight}
}

// CancelCommand asks the drone serving requestID to abandon it.
func CancelCommand(requestID string) Command {
	return Command{RequestID: requestID, Action: ActionCancel}
}
