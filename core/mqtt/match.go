package mqtt

import "strings"

// Match reports whether topic matches the subscription pattern using MQTT
// wildcard rules: "+" matches one level, a trailing "#" matches the rest.
func Match(pattern, topic string) bool {
	p := strings.Split(pattern, "/")
	t := strings.Split(topic, "/")
	for i, level := range p {
		if level == "#" {
			return i == len(p)-1
		}
		if i >= len(t) {
			return false
		}
		if level != "+" && level != t[i] {
			return false
		}
	}
	return len(p) == len(t)
}
