package api

import (
	"charge-controller/internal/charging"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "charge_controller"

type Metrics struct {
	gridPower        prometheus.Gauge
	averageGridPower prometheus.Gauge
	batteryPower     prometheus.Gauge
	stateOfCharge    prometheus.Gauge
	voltage          prometheus.Gauge
	targetCurrent    prometheus.Gauge
	appliedCurrent   prometheus.Gauge
	offeredPower     prometheus.Gauge
	chargerEnabled   prometheus.Gauge
	suspended        prometheus.Gauge
	syncing          prometheus.Gauge
	ticks            *prometheus.CounterVec
}

func gauge(name, help string) prometheus.Gauge {
	return prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	})
}

func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		gridPower:        gauge("grid_power_watts", "Latest grid power sample, positive when importing."),
		averageGridPower: gauge("average_grid_power_watts", "Rolling average of the grid power."),
		batteryPower:     gauge("battery_power_watts", "Home battery power, positive when charging."),
		stateOfCharge:    gauge("battery_state_of_charge_percent", "Home battery state of charge."),
		voltage:          gauge("voltage_volts", "Grid voltage."),
		targetCurrent:    gauge("target_current_amperes", "Current requested by the charging policy."),
		appliedCurrent:   gauge("applied_current_amperes", "Current last written to the charger."),
		offeredPower:     gauge("offered_power_watts", "Power offered to the charger."),
		chargerEnabled:   gauge("charger_enabled", "1 when the charger is enabled."),
		suspended:        gauge("charging_suspended", "1 while the charger is suspended after leaving Charging."),
		syncing:          gauge("charger_syncing", "1 while waiting for the charger to follow the setpoint."),
		ticks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_total",
			Help:      "Control loop ticks by charging strategy.",
		}, []string{"strategy"}),
	}

	registry.MustRegister(
		m.gridPower, m.averageGridPower, m.batteryPower, m.stateOfCharge, m.voltage,
		m.targetCurrent, m.appliedCurrent, m.offeredPower,
		m.chargerEnabled, m.suspended, m.syncing, m.ticks,
	)
	return m
}

func boolGauge(g prometheus.Gauge, v bool) {
	if v {
		g.Set(1)
	} else {
		g.Set(0)
	}
}

func (m *Metrics) Update(s charging.Snapshot) {
	m.gridPower.Set(s.GridPower)
	m.averageGridPower.Set(s.AverageGridPower)
	m.batteryPower.Set(s.BatteryPower)
	m.stateOfCharge.Set(s.StateOfCharge)
	m.voltage.Set(s.Voltage)
	m.targetCurrent.Set(s.TargetCurrent)
	m.appliedCurrent.Set(s.AppliedCurrent)
	m.offeredPower.Set(s.OfferedPower)
	boolGauge(m.chargerEnabled, s.ChargerEnabled)
	boolGauge(m.suspended, s.State == charging.StateSuspended.String())
	boolGauge(m.syncing, s.Syncing)

	strategy := s.Strategy
	if strategy == "" {
		strategy = "none"
	}
	m.ticks.WithLabelValues(strategy).Inc()
}
