package charging

import (
	"context"
	"fmt"
	"sync"
	"time"

	"charge-controller/internal/config"
	"charge-controller/internal/models"
	"charge-controller/internal/regulation"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"
)

// Store is the controller's view of the latest inputs.
type Store interface {
	Snapshot() models.Readings
	SetStatus(status models.ChargerStatus) models.ChargerStatus
	SetChargerEnabled(enabled bool)
	SetStaticPower(power float64)
}

// StatusSource is an adapter reporting its own counters on /status.
type StatusSource interface {
	GetStatus() map[string]interface{}
}

// Snapshot is the controller state published after every tick.
type Snapshot struct {
	Timestamp        time.Time `json:"timestamp"`
	GridPower        float64   `json:"grid_power"`
	AverageGridPower float64   `json:"average_grid_power"`
	BatteryPower     float64   `json:"battery_power"`
	StateOfCharge    float64   `json:"state_of_charge"`
	Voltage          float64   `json:"voltage"`
	ChargerStatus    string    `json:"charger_status"`
	ChargerEnabled   bool      `json:"charger_enabled"`
	DynamicCharging  bool      `json:"dynamic_charging"`
	State            string    `json:"state"`
	Strategy         string    `json:"strategy"`
	Reason           string    `json:"reason"`
	Syncing          bool      `json:"syncing"`
	TargetCurrent    float64   `json:"target_current"`
	AppliedCurrent   float64   `json:"applied_current"`
	OfferedPower     float64   `json:"offered_power"`
}

const statusQueueSize = 64

// Manager is the control loop. Every piece of mutable controller state is
// touched from the Start goroutine only; other goroutines talk to it through
// NotifyStatus.
type Manager struct {
	config *config.Config
	logger *logrus.Logger
	clock  clock.Clock

	store     Store
	actuator  Actuator
	estimator *regulation.PowerEstimator
	regulator regulation.RegulationService
	governor  *regulation.Governor
	suspender *Suspender
	watchdog  *Watchdog
	seeded    bool

	statusCh chan models.ChargerStatus
	done     chan struct{}

	mutex    sync.RWMutex
	snapshot Snapshot
	sources  map[string]StatusSource

	onUpdate func(Snapshot)
}

func NewManager(cfg *config.Config, logger *logrus.Logger, store Store, actuator Actuator) (*Manager, error) {
	regulator, err := regulation.CreateRegulator(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create regulator: %w", err)
	}

	m := &Manager{
		config:    cfg,
		logger:    logger,
		store:     store,
		actuator:  actuator,
		estimator: regulation.NewPowerEstimator(regulation.EstimatorConfig{SeedWindow: cfg.Charging.SeedWindow}, logger),
		regulator: regulator,
		governor:  regulation.NewGovernor(logger),
		statusCh:  make(chan models.ChargerStatus, statusQueueSize),
		done:      make(chan struct{}),
		sources:   make(map[string]StatusSource),
	}
	m.SetClock(clock.New())

	return m, nil
}

// SetClock replaces the time source. Must be called before Start.
func (m *Manager) SetClock(clk clock.Clock) {
	m.clock = clk
	m.suspender = NewSuspender(clk, m.config.Charging.SuspendDuration(), m.logger)
	m.watchdog = NewWatchdog(clk, m.config.Charging.WatchdogWait(), m.logger)
}

// AddStatusSource adds an adapter's status under name in GetStatus.
func (m *Manager) AddStatusSource(name string, source StatusSource) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.sources[name] = source
}

func (m *Manager) SetUpdateCallback(callback func(Snapshot)) {
	m.onUpdate = callback
}

// NotifyStatus queues a connector status change for the control loop. Safe to
// call from any goroutine.
func (m *Manager) NotifyStatus(status models.ChargerStatus) {
	select {
	case m.statusCh <- status:
	case <-m.done:
	}
}

func (m *Manager) Start(ctx context.Context) {
	ticker := m.clock.Ticker(m.config.Charging.TickInterval())
	defer ticker.Stop()

	watchdogTicker := m.clock.Ticker(m.config.Charging.WatchdogPeriod())
	defer watchdogTicker.Stop()

	defer close(m.done)
	defer m.suspender.Stop()
	defer m.watchdog.Stop()

	m.initialize()
	m.logger.Info("Starting charging manager")

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("Stopping charging manager")
			return
		case <-ticker.C:
			m.tick()
		case status := <-m.statusCh:
			m.handleStatus(status)
		case <-m.suspender.Expired():
			m.applyTransition(m.suspender.Expire())
		case <-watchdogTicker.C:
			if m.watchdog.Arm(m.store.Snapshot().Status.IsCharging()) {
				m.logger.Debugf("Watchdog armed, checking offered current in %s", m.config.Charging.WatchdogWait())
			}
		case <-m.watchdog.Due():
			m.checkWatchdog()
		}
	}
}

// initialize aligns the suspender with the status known at start-up. Nothing
// else survives a restart.
func (m *Manager) initialize() {
	readings := m.store.Snapshot()
	m.suspender.Init(readings.Status)
	m.seed(readings)
}

// seed takes the charger's reported offered current as the last applied
// setpoint. Retained values may arrive after Start, so it is retried every
// tick until the charger reports or the governor writes a setpoint itself.
func (m *Manager) seed(readings models.Readings) {
	if m.seeded || readings.CurrentOffered == nil {
		return
	}
	m.governor.Seed(models.Value(readings.CurrentOffered))
	m.seeded = true
}

// tick runs one sampling and regulation cycle.
func (m *Manager) tick() {
	readings := m.store.Snapshot()
	m.seed(readings)

	battery := readings.Battery()
	mode := readings.Mode()

	gridPower := m.estimator.UpdateGridPower(readings.Sample())
	batteryPower := m.estimator.UpdateBatteryPower(battery)
	if err := m.actuator.SetActualPower(gridPower); err != nil {
		m.logger.Errorf("Failed to publish actual power: %v", err)
	}

	voltage := models.Value(readings.Voltage)
	charger := readings.Charger()

	var output regulation.RegulationOutput
	if !mode.EnableCharger {
		output = regulation.RegulationOutput{Reason: "Charger disabled"}
	} else {
		output = m.regulator.Calculate(regulation.RegulationInput{
			AverageGridPower: m.estimator.AverageGridPower(),
			BatteryPower:     batteryPower,
			StateOfCharge:    battery.StateOfCharge,
			Voltage:          voltage,
			Status:           charger.Status,
			CurrentImport:    charger.CurrentImport,
			LastCurrent:      m.governor.LastApplied(),
			NetMaxPower:      models.Value(readings.NetMaxPower),
			StaticPower:      models.Value(readings.StaticPower),
			DynamicCharging:  mode.DynamicCharging,
			Timestamp:        m.clock.Now(),
		})
	}

	applied, changed := m.governor.Apply(output.TargetCurrent, voltage)
	if changed {
		m.seeded = true
		if err := m.actuator.SetMaxCurrent(applied); err != nil {
			m.logger.Errorf("Failed to set charger current: %v", err)
		}
		if err := m.actuator.SetOfferedPower(m.governor.OfferedPower()); err != nil {
			m.logger.Errorf("Failed to publish offered power: %v", err)
		}
	}

	m.publish(Snapshot{
		Timestamp:        m.clock.Now(),
		GridPower:        gridPower,
		AverageGridPower: m.estimator.AverageGridPower(),
		BatteryPower:     batteryPower,
		StateOfCharge:    battery.StateOfCharge,
		Voltage:          voltage,
		ChargerStatus:    charger.Status.String(),
		ChargerEnabled:   mode.EnableCharger,
		DynamicCharging:  mode.DynamicCharging,
		State:            m.suspender.State().String(),
		Strategy:         string(output.Strategy),
		Reason:           output.Reason,
		Syncing:          output.Syncing,
		TargetCurrent:    output.TargetCurrent,
		AppliedCurrent:   applied,
		OfferedPower:     m.governor.OfferedPower(),
	})
}

func (m *Manager) handleStatus(status models.ChargerStatus) {
	previous := m.store.SetStatus(status)
	if previous == status {
		return
	}

	m.logger.Infof("Charger status changed: %s -> %s", previous, status)
	m.applyTransition(m.suspender.OnStatusChange(previous, status))
}

func (m *Manager) applyTransition(transition Transition) {
	if transition.Suspend {
		m.setChargerEnabled(false)
	}
	if transition.Resume {
		m.setChargerEnabled(true)
	}
	if transition.ResetStaticPower {
		m.store.SetStaticPower(0)
		if err := m.actuator.ResetStaticPower(); err != nil {
			m.logger.Errorf("Failed to reset static power setpoint: %v", err)
		}
	}
}

func (m *Manager) setChargerEnabled(enabled bool) {
	m.store.SetChargerEnabled(enabled)
	if err := m.actuator.SetChargerEnabled(enabled); err != nil {
		m.logger.Errorf("Failed to set charger enabled=%v: %v", enabled, err)
	}
}

func (m *Manager) checkWatchdog() {
	reported := models.Value(m.store.Snapshot().CurrentOffered)
	if !m.watchdog.Check(m.governor.OfferedPower(), reported) {
		return
	}

	go func() {
		if err := m.actuator.Reconfigure(); err != nil {
			m.logger.Errorf("Charger reconfiguration failed: %v", err)
		}
	}()
}

func (m *Manager) publish(snapshot Snapshot) {
	m.mutex.Lock()
	m.snapshot = snapshot
	m.mutex.Unlock()

	if m.onUpdate != nil {
		m.onUpdate(snapshot)
	}
}

// Snapshot returns the state published by the last tick.
func (m *Manager) Snapshot() Snapshot {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.snapshot
}

// GetStatus returns the published state, the control components' counters
// and the status of every registered adapter.
func (m *Manager) GetStatus() map[string]interface{} {
	status := map[string]interface{}{
		"snapshot":  m.Snapshot(),
		"regulator": m.regulator.GetStatus(),
		"estimator": m.estimator.GetStatus(),
		"governor":  m.governor.GetStatus(),
	}

	m.mutex.RLock()
	defer m.mutex.RUnlock()
	for name, source := range m.sources {
		status[name] = source.GetStatus()
	}
	return status
}
