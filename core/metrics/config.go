package metrics

import "strings"

// Config defines which sinks are enabled. Every field is optional.
type Config struct {
	PrometheusEnabled bool   `json:"prometheus_enabled"`
	PrometheusPort    string `json:"prometheus_port"`

	InfluxEnabled bool   `json:"influx_enabled"`
	InfluxURL     string `json:"influx_url"`
	InfluxToken   string `json:"influx_token"`
	InfluxOrg     string `json:"influx_org"`
	InfluxBucket  string `json:"influx_bucket"`
}

// PromAddr returns the listen address of the /metrics endpoint.
func (c Config) PromAddr() string {
	if c.PrometheusPort == "" {
		return ":2112"
	}
	if strings.Contains(c.PrometheusPort, ":") {
		return c.PrometheusPort
	}
	return ":" + c.PrometheusPort
}
