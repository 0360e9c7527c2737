package metrics

import "fmt"

// Config defines settings for metrics exposure and the optional InfluxDB
// event sink.
type Config struct {
	// PrometheusAddr is where /metrics is served. Empty disables it.
	PrometheusAddr    string       `json:"prometheus_addr"`
	DisablePrometheus bool         `json:"disable_prometheus"`
	Influx            InfluxConfig `json:"influx"`
}

// InfluxConfig holds the InfluxDB v2 connection. The sink is enabled when
// URL is set.
type InfluxConfig struct {
	URL    string `json:"url"`
	Token  string `json:"token"`
	Org    string `json:"org"`
	Bucket string `json:"bucket"`
}

// Enabled reports whether an InfluxDB endpoint is configured.
func (c InfluxConfig) Enabled() bool { return c.URL != "" }

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.PrometheusAddr == "" && !c.DisablePrometheus {
		c.PrometheusAddr = ":2112"
	}
}

// Validate checks that a configured InfluxDB sink is complete.
func (c Config) Validate() error {
	if !c.Influx.Enabled() {
		return nil
	}
	if c.Influx.Org == "" || c.Influx.Bucket == "" {
		return fmt.Errorf("influx org and bucket are required when url is set")
	}
	return nil
}
