package charging

import (
	"time"

	"charge-controller/internal/models"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"
)

type ChargingState int

const (
	StateIdle ChargingState = iota
	StateCharging
	StateSuspended
)

func (s ChargingState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCharging:
		return "charging"
	case StateSuspended:
		return "suspended"
	default:
		return "unknown"
	}
}

// Transition lists the side effects a status change or timer expiry asks for.
type Transition struct {
	Suspend          bool
	Resume           bool
	ResetStaticPower bool
}

func (t Transition) Empty() bool {
	return !t.Suspend && !t.Resume && !t.ResetStaticPower
}

// Suspender disables the charger as soon as the connector leaves Charging
// and re-enables it once the connector has stayed away from Charging for the
// whole debounce delay. Going back to Charging cancels the pending resume;
// the next departure restarts the delay.
//
// Not safe for concurrent use: the manager loop owns it.
type Suspender struct {
	clock  clock.Clock
	delay  time.Duration
	logger *logrus.Logger

	state       ChargingState
	timer       *clock.Timer
	suspendedAt time.Time
	suspensions int64
	resumes     int64
}

func NewSuspender(clk clock.Clock, delay time.Duration, logger *logrus.Logger) *Suspender {
	return &Suspender{
		clock:  clk,
		delay:  delay,
		logger: logger,
	}
}

// Init aligns the state with the status known at start-up without emitting
// any transition.
func (s *Suspender) Init(status models.ChargerStatus) {
	if status.IsCharging() {
		s.state = StateCharging
	} else {
		s.state = StateIdle
	}
}

func (s *Suspender) State() ChargingState {
	return s.state
}

// OnStatusChange handles a connector status change from previous to current.
// The first status after a restart only initialises the state.
func (s *Suspender) OnStatusChange(previous, current models.ChargerStatus) Transition {
	var transition Transition
	if previous == current {
		return transition
	}
	if previous == models.StatusUnknown {
		s.Init(current)
		return transition
	}

	if current.IsAvailable() {
		transition.ResetStaticPower = true
	}

	switch {
	case current.IsCharging():
		if s.timer != nil {
			s.logger.Infof("Charging again before %s elapsed, resume cancelled", s.delay)
		}
		s.cancel()
		s.state = StateCharging

	case previous.IsCharging():
		s.cancel()
		s.timer = s.clock.Timer(s.delay)
		s.suspendedAt = s.clock.Now()
		s.state = StateSuspended
		s.suspensions++
		transition.Suspend = true
		s.logger.Infof("Charger left Charging (%s), suspending for %s", current, s.delay)
	}

	return transition
}

// Expired fires when the debounce delay has elapsed. It returns a nil channel
// while nothing is pending so it can sit in a select unconditionally.
func (s *Suspender) Expired() <-chan time.Time {
	if s.timer == nil {
		return nil
	}
	return s.timer.C
}

// Expire is called once Expired fired.
func (s *Suspender) Expire() Transition {
	if s.timer == nil || s.state != StateSuspended {
		return Transition{}
	}

	s.timer = nil
	s.state = StateIdle
	s.resumes++
	s.logger.Infof("Charger not charging for %s, re-enabling", s.clock.Since(s.suspendedAt).Round(time.Second))

	return Transition{Resume: true}
}

// Pending reports whether a resume is scheduled.
func (s *Suspender) Pending() bool {
	return s.timer != nil
}

func (s *Suspender) Stop() {
	s.cancel()
}

func (s *Suspender) cancel() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *Suspender) GetStatus() map[string]interface{} {
	return map[string]interface{}{
		"state":        s.state.String(),
		"pending":      s.timer != nil,
		"suspended_at": s.suspendedAt,
		"suspensions":  s.suspensions,
		"resumes":      s.resumes,
		"delay":        s.delay.String(),
	}
}
