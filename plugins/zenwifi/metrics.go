package zenwifi

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var triggersFired = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "zenwifi_trigger_fired_total",
		Help: "Device triggers fired",
	},
	[]string{"device_id", "type"},
)

// MetricsCollector exports the coordinator cache. Scrapes never call the API.
type MetricsCollector struct {
	coordinator *Coordinator

	// mu serializes concurrent scrapes over the shared vectors.
	mu sync.Mutex

	temp          *prometheus.GaugeVec
	heatSetpoint  *prometheus.GaugeVec
	coolSetpoint  *prometheus.GaugeVec
	online        *prometheus.GaugeVec
	cwire         *prometheus.GaugeVec
	mode          *prometheus.GaugeVec
	action        *prometheus.GaugeVec
	pollSuccess   prometheus.Gauge
	lastPoll      prometheus.Gauge
	pollDuration  prometheus.Gauge
	authFailed    prometheus.Gauge
	triggersFired *prometheus.CounterVec
}

func NewMetricsCollector(coordinator *Coordinator) *MetricsCollector {
	labels := []string{"device_id", "device_name"}
	return &MetricsCollector{
		coordinator: coordinator,
		temp: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "zenwifi_current_temperature_celsius",
			Help: "Current temperature per thermostat",
		}, labels),
		heatSetpoint: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "zenwifi_heating_setpoint_celsius",
			Help: "Heating setpoint per thermostat",
		}, labels),
		coolSetpoint: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "zenwifi_cooling_setpoint_celsius",
			Help: "Cooling setpoint per thermostat",
		}, labels),
		online: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "zenwifi_online_bool",
			Help: "Thermostat reachable by the cloud (1=online, 0=offline)",
		}, labels),
		cwire: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "zenwifi_c_wire_bool",
			Help: "C-wire connected (1=yes, 0=no)",
		}, labels),
		mode: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "zenwifi_mode",
			Help: "Native thermostat mode integer",
		}, labels),
		action: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "zenwifi_hvac_action_info",
			Help: "Current HVAC action per thermostat (value is always 1)",
		}, append(labels, "action")),
		pollSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "zenwifi_poll_success",
			Help: "Last poll success (1=ok, 0=error)",
		}),
		lastPoll: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "zenwifi_last_poll_timestamp_seconds",
			Help: "Start of the last poll (epoch seconds)",
		}),
		pollDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "zenwifi_poll_duration_seconds",
			Help: "Duration of the last poll",
		}),
		authFailed: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "zenwifi_auth_failed_bool",
			Help: "Credentials rejected on the last poll (1=rejected)",
		}),
		triggersFired: triggersFired,
	}
}

func (c *MetricsCollector) Describe(ch chan<- *prometheus.Desc) {
	c.temp.Describe(ch)
	c.heatSetpoint.Describe(ch)
	c.coolSetpoint.Describe(ch)
	c.online.Describe(ch)
	c.cwire.Describe(ch)
	c.mode.Describe(ch)
	c.action.Describe(ch)
	c.pollSuccess.Describe(ch)
	c.lastPoll.Describe(ch)
	c.pollDuration.Describe(ch)
	c.authFailed.Describe(ch)
	c.triggersFired.Describe(ch)
}

func (c *MetricsCollector) Collect(ch chan<- prometheus.Metric) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.temp.Reset()
	c.heatSetpoint.Reset()
	c.coolSetpoint.Reset()
	c.online.Reset()
	c.cwire.Reset()
	c.mode.Reset()
	c.action.Reset()

	for _, t := range c.coordinator.Snapshot() {
		labels := prometheus.Labels{
			"device_id":   string(t.ID()),
			"device_name": t.DisplayName(),
		}
		if v := t.Temperature(KeyCurrentTemperature); v != nil {
			c.temp.With(labels).Set(*v)
		}
		if v := t.Temperature(KeyHeatingSetpoint); v != nil {
			c.heatSetpoint.With(labels).Set(*v)
		}
		if v := t.Temperature(KeyCoolingSetpoint); v != nil {
			c.coolSetpoint.With(labels).Set(*v)
		}
		if t.Status == nil {
			continue
		}
		if t.Has(KeyIsOnline) {
			c.online.With(labels).Set(boolToFloat(t.Online()))
		}
		if t.Has(KeyIsOnCWire) {
			c.cwire.With(labels).Set(boolToFloat(t.CWire()))
		}
		c.mode.With(labels).Set(float64(t.Mode()))
		c.action.WithLabelValues(string(t.ID()), t.DisplayName(), string(t.HVACAction())).Set(1)
	}

	started, duration := c.coordinator.LastPoll()
	if !started.IsZero() {
		c.lastPoll.Set(float64(started.Unix()))
		c.pollDuration.Set(duration.Seconds())
	}
	c.pollSuccess.Set(boolToFloat(c.coordinator.LastUpdateSuccess()))
	c.authFailed.Set(boolToFloat(c.coordinator.AuthFailed()))

	c.temp.Collect(ch)
	c.heatSetpoint.Collect(ch)
	c.coolSetpoint.Collect(ch)
	c.online.Collect(ch)
	c.cwire.Collect(ch)
	c.mode.Collect(ch)
	c.action.Collect(ch)
	c.pollSuccess.Collect(ch)
	c.lastPoll.Collect(ch)
	c.pollDuration.Collect(ch)
	c.authFailed.Collect(ch)
	c.triggersFired.Collect(ch)
}

func recordTrigger(event Event) {
	triggersFired.WithLabelValues(string(event.DeviceID), string(event.Type)).Inc()
}

func boolToFloat(value bool) float64 {
	if value {
		return 1
	}
	return 0
}
