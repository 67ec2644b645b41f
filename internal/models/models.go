package models

import (
	"math"
	"strings"
	"sync"
	"time"
)

// ChargerStatus is the connector status reported by the charger. Only
// Charging and Available carry meaning for the controller; every other value
// is kept verbatim for logging.
type ChargerStatus string

const (
	StatusCharging  ChargerStatus = "Charging"
	StatusAvailable ChargerStatus = "Available"
	StatusUnknown   ChargerStatus = ""
)

func ParseChargerStatus(raw string) ChargerStatus {
	return ChargerStatus(strings.TrimSpace(raw))
}

func (s ChargerStatus) IsCharging() bool {
	return s == StatusCharging
}

func (s ChargerStatus) IsAvailable() bool {
	return s == StatusAvailable
}

func (s ChargerStatus) String() string {
	if s == StatusUnknown {
		return "unknown"
	}
	return string(s)
}

// PowerSample is one grid meter reading in kW.
type PowerSample struct {
	GrossConsumption float64
	GrossInjection   float64
}

// BatteryPowerState is the home battery reading. Both power values are
// positive; the direction is carried by which one is set.
type BatteryPowerState struct {
	ChargingPower    float64
	DischargingPower float64
	StateOfCharge    float64
}

// Actual returns the signed battery power, positive while charging.
func (b BatteryPowerState) Actual() float64 {
	return b.ChargingPower - b.DischargingPower
}

// ChargerState is the polled part of the charger state. The last applied
// setpoint is not part of it: the governor owns that value.
type ChargerState struct {
	Status         ChargerStatus
	CurrentOffered float64
	CurrentImport  float64
}

type ControllerMode struct {
	EnableCharger   bool
	DynamicCharging bool
}

// Readings is the latest value of every controller input. Numeric inputs are
// optional: nil means the sensor never reported or reported garbage.
type Readings struct {
	Consumption        *float64 // kW
	Injection          *float64 // kW
	Voltage            *float64 // V
	Status             ChargerStatus
	CurrentOffered     *float64 // A
	CurrentImport      *float64 // A
	NetMaxPower        *float64 // W
	StaticPower        *float64 // W
	ChargerEnabled     bool
	DynamicCharging    bool
	BatteryCharging    *float64 // W
	BatteryDischarging *float64 // W
	BatterySoC         *float64 // %
	Timestamp          time.Time
}

// Value dereferences an optional reading, absent or non-finite values read
// as zero.
func Value(v *float64) float64 {
	if v == nil || math.IsNaN(*v) || math.IsInf(*v, 0) {
		return 0
	}
	return *v
}

// Float returns a pointer to a copy of v.
func Float(v float64) *float64 {
	return &v
}

// VoltageKnown reports whether a usable line voltage is available.
func (r Readings) VoltageKnown() bool {
	return Value(r.Voltage) > 0
}

func (r Readings) Charger() ChargerState {
	return ChargerState{
		Status:         r.Status,
		CurrentOffered: Value(r.CurrentOffered),
		CurrentImport:  Value(r.CurrentImport),
	}
}

// Sample returns the grid reading, missing values count as zero.
func (r Readings) Sample() PowerSample {
	return PowerSample{
		GrossConsumption: Value(r.Consumption),
		GrossInjection:   Value(r.Injection),
	}
}

func (r Readings) Battery() BatteryPowerState {
	return BatteryPowerState{
		ChargingPower:    Value(r.BatteryCharging),
		DischargingPower: Value(r.BatteryDischarging),
		StateOfCharge:    Value(r.BatterySoC),
	}
}

func (r Readings) Mode() ControllerMode {
	return ControllerMode{
		EnableCharger:   r.ChargerEnabled,
		DynamicCharging: r.DynamicCharging,
	}
}

// ReadingStore holds the latest Readings. Adapters write into it from their
// own goroutines, the control loop reads snapshots.
type ReadingStore struct {
	readings Readings
	mutex    sync.RWMutex
}

func NewReadingStore(enabled, dynamic bool) *ReadingStore {
	return &ReadingStore{
		readings: Readings{
			ChargerEnabled:  enabled,
			DynamicCharging: dynamic,
			Timestamp:       time.Now(),
		},
	}
}

// Update applies fn to the stored readings under the write lock.
func (s *ReadingStore) Update(fn func(r *Readings)) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	fn(&s.readings)
	s.readings.Timestamp = time.Now()
}

// SetStatus stores a new connector status and returns the previous one.
func (s *ReadingStore) SetStatus(status ChargerStatus) ChargerStatus {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	previous := s.readings.Status
	s.readings.Status = status
	s.readings.Timestamp = time.Now()
	return previous
}

func (s *ReadingStore) SetChargerEnabled(enabled bool) {
	s.Update(func(r *Readings) { r.ChargerEnabled = enabled })
}

func (s *ReadingStore) SetStaticPower(power float64) {
	s.Update(func(r *Readings) { r.StaticPower = Float(power) })
}

func (s *ReadingStore) Snapshot() Readings {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.readings
}
