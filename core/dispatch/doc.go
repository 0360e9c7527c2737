// Package dispatch implements the dispatch engine: it reacts to drone
// telemetry, pairs pending delivery requests with idle drones and publishes
// commands back over the message gateway.
//
// Two paths assign work. A drone reporting idle immediately pulls the oldest
// pending request. A periodic sweep assigns whatever is left to the nearest
// idle drone, finalizes cancellations and returns unacknowledged assignments
// to the queue. Both paths touch shared state only through the compare-and-set
// operations of the fleet and request stores, so a drone is never reserved
// twice and a request is never assigned twice.
package dispatch
