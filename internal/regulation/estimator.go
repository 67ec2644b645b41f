package regulation

import (
	"math"
	"sync"

	"charge-controller/internal/models"

	"github.com/sirupsen/logrus"
)

// WindowSize nombre d'échantillons de la moyenne glissante
const WindowSize = 3

// RollingWindow moyenne glissante à taille fixe sur la puissance réseau (W).
// Les cases valent 0 tant qu'elles n'ont pas été remplies.
type RollingWindow struct {
	samples [WindowSize]float64
	index   int
	count   int
	average float64
}

// Push ajoute un échantillon à la place du plus ancien et retourne la moyenne
func (w *RollingWindow) Push(value float64) float64 {
	w.samples[w.index] = value
	w.index = (w.index + 1) % WindowSize
	if w.count < WindowSize {
		w.count++
	}

	sum := 0.0
	for _, s := range w.samples {
		sum += s
	}
	w.average = sum / WindowSize
	return w.average
}

// Fill remplit toutes les cases avec la même valeur
func (w *RollingWindow) Fill(value float64) {
	for i := range w.samples {
		w.samples[i] = value
	}
	w.index = 0
	w.count = WindowSize
	w.average = value
}

func (w *RollingWindow) Average() float64 {
	return w.average
}

// Len nombre de cases réellement remplies
func (w *RollingWindow) Len() int {
	return w.count
}

// EstimatorConfig configuration de l'estimateur de puissance
type EstimatorConfig struct {
	SeedWindow bool // Remplir la fenêtre avec le premier échantillon au lieu de zéros
}

// PowerEstimator convertit les mesures brutes en puissance réseau nette et
// en puissance batterie signée
type PowerEstimator struct {
	config EstimatorConfig
	logger *logrus.Logger
	mutex  sync.RWMutex

	window       RollingWindow
	gridPower    float64
	batteryPower float64
}

func NewPowerEstimator(config EstimatorConfig, logger *logrus.Logger) *PowerEstimator {
	return &PowerEstimator{
		config: config,
		logger: logger,
	}
}

// UpdateGridPower calcule (consommation - injection) x 1000 en W et
// l'ajoute à la fenêtre. Un résultat invalide donne 0.
func (e *PowerEstimator) UpdateGridPower(sample models.PowerSample) float64 {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	net := (sample.GrossConsumption - sample.GrossInjection) * 1000
	if math.IsNaN(net) || math.IsInf(net, 0) {
		net = 0
	}
	e.gridPower = net

	if e.config.SeedWindow && e.window.Len() == 0 {
		e.window.Fill(net)
	} else {
		e.window.Push(net)
	}

	e.logger.Debugf("Grid power: %.1fW, average: %.1fW", net, e.window.Average())
	return net
}

// UpdateBatteryPower retourne charge - décharge (W)
func (e *PowerEstimator) UpdateBatteryPower(state models.BatteryPowerState) float64 {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	power := state.Actual()
	if math.IsNaN(power) || math.IsInf(power, 0) {
		power = 0
	}
	e.batteryPower = power
	return power
}

func (e *PowerEstimator) GridPower() float64 {
	e.mutex.RLock()
	defer e.mutex.RUnlock()
	return e.gridPower
}

func (e *PowerEstimator) AverageGridPower() float64 {
	e.mutex.RLock()
	defer e.mutex.RUnlock()
	return e.window.Average()
}

func (e *PowerEstimator) BatteryPower() float64 {
	e.mutex.RLock()
	defer e.mutex.RUnlock()
	return e.batteryPower
}

func (e *PowerEstimator) GetStatus() map[string]interface{} {
	e.mutex.RLock()
	defer e.mutex.RUnlock()

	return map[string]interface{}{
		"grid_power":         e.gridPower,
		"average_grid_power": e.window.Average(),
		"battery_power":      e.batteryPower,
		"window_samples":     e.window.Len(),
	}
}
