package regulation

import (
	"math"
	"sync"

	"github.com/sirupsen/logrus"
)

const (
	MaxCurrent = 31.0 // Plafond matériel de la consigne (A)
	Hysteresis = 0.5  // Ecart minimum pour réécrire la consigne (A)
)

// Governor applique bornage et hystérésis sur le courant cible. Il est le
// seul propriétaire de la dernière consigne appliquée.
type Governor struct {
	logger *logrus.Logger
	mutex  sync.RWMutex

	lastApplied  float64
	offeredPower float64
	writes       int64
}

func NewGovernor(logger *logrus.Logger) *Governor {
	return &Governor{logger: logger}
}

func clampCurrent(current float64) float64 {
	if math.IsNaN(current) || current < 0 {
		return 0
	}
	return math.Min(current, MaxCurrent)
}

// Seed initialise la dernière consigne à partir du courant offert annoncé par
// la borne au démarrage
func (g *Governor) Seed(current float64) {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	g.lastApplied = clampCurrent(current)
	g.logger.Infof("Governor seeded with %.1fA", g.lastApplied)
}

// Apply retourne la consigne effective et indique si elle doit être écrite
// vers la borne. Une consigne qui bouge de 0.5A ou moins est ignorée.
func (g *Governor) Apply(target, voltage float64) (float64, bool) {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	target = clampCurrent(target)
	if math.Abs(g.lastApplied-target) <= Hysteresis {
		return g.lastApplied, false
	}

	g.lastApplied = target
	g.offeredPower = 0
	if voltage > 0 {
		g.offeredPower = target * voltage
	}
	g.writes++

	g.logger.Infof("Charger current set to %.0fA (%.0fW offered)", g.lastApplied, g.offeredPower)
	return g.lastApplied, true
}

func (g *Governor) LastApplied() float64 {
	g.mutex.RLock()
	defer g.mutex.RUnlock()
	return g.lastApplied
}

// OfferedPower puissance offerte lors de la dernière écriture (W)
func (g *Governor) OfferedPower() float64 {
	g.mutex.RLock()
	defer g.mutex.RUnlock()
	return g.offeredPower
}

func (g *Governor) GetStatus() map[string]interface{} {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	return map[string]interface{}{
		"last_applied":  g.lastApplied,
		"offered_power": g.offeredPower,
		"writes":        g.writes,
		"max_current":   MaxCurrent,
	}
}
