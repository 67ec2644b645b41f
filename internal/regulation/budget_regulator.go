package regulation

import (
	"math"
	"sync"

	"github.com/sirupsen/logrus"
)

// Strategy stratégie de calcul de la consigne
type Strategy string

const (
	StrategyStatic          Strategy = "static"
	StrategyAuto            Strategy = "auto"
	StrategyCarPriority     Strategy = "car"
	StrategyBatteryPriority Strategy = "battery"
)

// SyncTolerance écart max (A) entre courant mesuré et consigne avant de
// considérer que la voiture n'a pas encore suivi
const SyncTolerance = 1.0

// BudgetConfig configuration du régulateur à budget de puissance
type BudgetConfig struct {
	PowerFactor float64  // Multiplicateur appliqué aux deltas de budget
	Strategy    Strategy // auto, car ou battery
}

// BudgetRegulator transforme un budget de puissance en consigne de courant.
// Mode statique : consigne fixe. Mode dynamique : priorité voiture si un
// budget d'import est configuré, sinon priorité batterie maison.
type BudgetRegulator struct {
	config BudgetConfig
	logger *logrus.Logger
	mutex  sync.RWMutex

	// Statistiques
	calculations int64
	syncHolds    int64
	lastOutput   RegulationOutput
}

func NewBudgetRegulator(config BudgetConfig, logger *logrus.Logger) *BudgetRegulator {
	if config.PowerFactor <= 0 {
		config.PowerFactor = 1.0
	}
	if config.Strategy == "" {
		config.Strategy = StrategyAuto
	}
	return &BudgetRegulator{
		config: config,
		logger: logger,
	}
}

func (b *BudgetRegulator) GetName() string {
	return "Budget Regulator"
}

func (b *BudgetRegulator) Calculate(input RegulationInput) RegulationOutput {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	var output RegulationOutput
	switch {
	case !input.DynamicCharging:
		output = b.calculateStatic(input)
	case b.strategyFor(input) == StrategyCarPriority:
		output = b.calculateCarPriority(input)
	default:
		output = b.calculateBatteryPriority(input)
	}

	b.calculations++
	if output.Syncing {
		b.syncHolds++
	}
	b.lastOutput = output
	return output
}

// strategyFor choisit la stratégie dynamique pour ce tick
func (b *BudgetRegulator) strategyFor(input RegulationInput) Strategy {
	switch b.config.Strategy {
	case StrategyCarPriority, StrategyBatteryPriority:
		return b.config.Strategy
	}
	if input.NetMaxPower > 0 {
		return StrategyCarPriority
	}
	return StrategyBatteryPriority
}

func (b *BudgetRegulator) calculateStatic(input RegulationInput) RegulationOutput {
	current := 0.0
	if input.VoltageKnown() {
		current = math.RoundToEven(input.StaticPower / input.Voltage)
	}

	b.logger.Debugf("Static, current > %.0f", current)

	return RegulationOutput{
		TargetCurrent: current,
		Strategy:      StrategyStatic,
		Reason:        "Static mode - fixed power setpoint",
		DebugInfo: map[string]interface{}{
			"static_power": input.StaticPower,
			"voltage":      input.Voltage,
		},
	}
}

// checkSync retourne une sortie qui conserve la consigne précédente si la
// borne n'a pas encore rejoint la dernière consigne
func (b *BudgetRegulator) checkSync(input RegulationInput, strategy Strategy) (RegulationOutput, bool) {
	delta := input.CurrentImport - input.LastCurrent
	if delta >= -SyncTolerance && delta <= SyncTolerance {
		return RegulationOutput{}, false
	}

	b.logger.Debugf("Car is syncing, delta: %.2f", delta)

	return RegulationOutput{
		TargetCurrent: input.LastCurrent,
		Strategy:      strategy,
		Syncing:       true,
		Reason:        "Charger still syncing to previous setpoint",
		DebugInfo: map[string]interface{}{
			"current_import": input.CurrentImport,
			"last_current":   input.LastCurrent,
			"delta":          delta,
		},
	}, true
}

// incrementalCurrent ajoute au courant précédent la part de budget convertie
// en ampères. Sans tension connue, le budget ne contribue pas.
func (b *BudgetRegulator) incrementalCurrent(input RegulationInput, budget float64) float64 {
	contribution := 0.0
	if input.VoltageKnown() {
		contribution = budget * b.config.PowerFactor / input.Voltage
	}
	return math.Floor(input.LastCurrent + contribution)
}

// startCurrent courant de démarrage borné à zéro
func startCurrent(input RegulationInput, budget float64) float64 {
	if !input.VoltageKnown() {
		return 0
	}
	return math.Max(0, math.Floor(budget/input.Voltage))
}

func (b *BudgetRegulator) Reset() {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.calculations = 0
	b.syncHolds = 0
	b.lastOutput = RegulationOutput{}
	b.logger.Info("Budget regulator reset")
}

func (b *BudgetRegulator) GetStatus() map[string]interface{} {
	b.mutex.RLock()
	defer b.mutex.RUnlock()

	return map[string]interface{}{
		"name":           b.GetName(),
		"config":         b.config,
		"calculations":   b.calculations,
		"sync_holds":     b.syncHolds,
		"last_strategy":  b.lastOutput.Strategy,
		"last_target":    b.lastOutput.TargetCurrent,
		"last_reason":    b.lastOutput.Reason,
		"last_debug":     b.lastOutput.DebugInfo,
		"sync_tolerance": SyncTolerance,
	}
}
