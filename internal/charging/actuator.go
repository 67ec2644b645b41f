package charging

import (
	"errors"
)

// Actuator applies controller outputs to a charger backend.
type Actuator interface {
	SetMaxCurrent(current float64) error
	SetOfferedPower(power float64) error
	SetActualPower(power float64) error
	SetChargerEnabled(enabled bool) error
	ResetStaticPower() error
	Reconfigure() error
}

// MultiActuator fans every write out to all backends and joins their errors.
type MultiActuator []Actuator

var _ Actuator = MultiActuator(nil)

func (m MultiActuator) each(fn func(a Actuator) error) error {
	var errs []error
	for _, a := range m {
		if err := fn(a); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m MultiActuator) SetMaxCurrent(current float64) error {
	return m.each(func(a Actuator) error { return a.SetMaxCurrent(current) })
}

func (m MultiActuator) SetOfferedPower(power float64) error {
	return m.each(func(a Actuator) error { return a.SetOfferedPower(power) })
}

func (m MultiActuator) SetActualPower(power float64) error {
	return m.each(func(a Actuator) error { return a.SetActualPower(power) })
}

func (m MultiActuator) SetChargerEnabled(enabled bool) error {
	return m.each(func(a Actuator) error { return a.SetChargerEnabled(enabled) })
}

func (m MultiActuator) ResetStaticPower() error {
	return m.each(func(a Actuator) error { return a.ResetStaticPower() })
}

func (m MultiActuator) Reconfigure() error {
	return m.each(func(a Actuator) error { return a.Reconfigure() })
}
