package charging

import (
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"
)

const (
	misreportOfferedPower   = 1500.0 // W
	misreportOfferedCurrent = 1.0    // A
)

// Watchdog detects a charger that reports almost no offered current while
// the controller offers it real power. Each arm schedules one delayed check;
// the wait runs on a clock timer so the control loop keeps ticking.
type Watchdog struct {
	clock  clock.Clock
	delay  time.Duration
	logger *logrus.Logger

	pending     *clock.Timer
	checks      int64
	corrections int64
}

func NewWatchdog(clk clock.Clock, delay time.Duration, logger *logrus.Logger) *Watchdog {
	return &Watchdog{
		clock:  clk,
		delay:  delay,
		logger: logger,
	}
}

// Arm schedules a check if the charger is charging and none is pending.
func (w *Watchdog) Arm(charging bool) bool {
	if !charging || w.pending != nil {
		return false
	}
	w.pending = w.clock.Timer(w.delay)
	return true
}

func (w *Watchdog) Due() <-chan time.Time {
	if w.pending == nil {
		return nil
	}
	return w.pending.C
}

// Check consumes the pending check and reports whether the charger misreports.
func (w *Watchdog) Check(offeredPower, reportedCurrent float64) bool {
	w.pending = nil
	w.checks++

	if offeredPower > misreportOfferedPower && reportedCurrent < misreportOfferedCurrent {
		w.corrections++
		w.logger.Warnf("Charger reports %.1fA offered while %.0fW is offered, reconfiguring", reportedCurrent, offeredPower)
		return true
	}
	return false
}

func (w *Watchdog) Stop() {
	if w.pending != nil {
		w.pending.Stop()
		w.pending = nil
	}
}

func (w *Watchdog) GetStatus() map[string]interface{} {
	return map[string]interface{}{
		"pending":     w.pending != nil,
		"checks":      w.checks,
		"corrections": w.corrections,
	}
}
