package regulation

import (
	"fmt"

	"charge-controller/internal/config"

	"github.com/sirupsen/logrus"
)

// CreateRegulator factory pour créer le régulateur à partir de la configuration
func CreateRegulator(cfg *config.Config, logger *logrus.Logger) (RegulationService, error) {
	strategy := Strategy(cfg.Charging.Strategy)

	switch strategy {
	case StrategyAuto, StrategyCarPriority, StrategyBatteryPriority:
		budgetConfig := BudgetConfig{
			PowerFactor: cfg.Charging.PowerFactor,
			Strategy:    strategy,
		}
		return NewBudgetRegulator(budgetConfig, logger), nil

	default:
		return nil, fmt.Errorf("unknown regulation strategy: %s", cfg.Charging.Strategy)
	}
}
