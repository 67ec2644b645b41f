package regulation

import (
	"math"
)

const (
	startBandMin        = 500.0  // Surplus min de la bande de démarrage (W)
	startBandMax        = 1500.0 // Surplus max de la bande, et budget élargi (W)
	batteryChargingHigh = 2000.0 // Batterie considérée en forte charge (W)
	batteryTargetCharge = 2500.0 // Puissance de charge batterie à protéger (W)
	batteryFullSoC      = 95.0   // Batterie considérée pleine (%)
	batteryIdleBand     = 0.1    // Batterie considérée à l'arrêt (W)
	idleCurrentShare    = 0.25   // Part du courant voiture rendue à la batterie
	chatterCurrent      = 7.0    // Sous ce courant, pas de réduction (A)
	shallowDischarge    = 500.0  // Décharge batterie tolérée (W)
)

// calculateBatteryPriority la batterie maison se charge en premier, la
// voiture prend le surplus restant
func (b *BudgetRegulator) calculateBatteryPriority(input RegulationInput) RegulationOutput {
	battery := input.BatteryPower
	favorable := battery > batteryChargingHigh || input.StateOfCharge > batteryFullSoC

	if !input.Status.IsCharging() {
		budget := math.Max(0, -input.AverageGridPower)
		widened := false
		if budget >= startBandMin && budget <= startBandMax && favorable {
			// la batterie absorbe le surplus marginal, laisser la voiture démarrer
			budget = startBandMax
			widened = true
		}

		current := startCurrent(input, budget)
		b.logger.Debugf("Not charging, current > %.0f", current)

		return RegulationOutput{
			TargetCurrent: current,
			Strategy:      StrategyBatteryPriority,
			Reason:        "Not charging - offering solar surplus",
			DebugInfo: map[string]interface{}{
				"average_grid_power": input.AverageGridPower,
				"battery_power":      battery,
				"state_of_charge":    input.StateOfCharge,
				"budget":             budget,
				"widened":            widened,
				"mode":               "battery",
			},
		}
	}

	if output, syncing := b.checkSync(input, StrategyBatteryPriority); syncing {
		return output
	}

	var deltaBudget float64
	var reason string
	switch {
	case battery > 0 && battery < batteryTargetCharge:
		deltaBudget = battery - batteryTargetCharge
		reason = "Battery charging slowly - reducing car current"
	case math.Abs(battery) <= batteryIdleBand:
		deltaBudget = -input.AverageGridPower
		reason = "Battery idle - following grid"
		if input.StateOfCharge < batteryFullSoC {
			deltaBudget += idleCurrentShare * (-input.LastCurrent * input.Voltage)
			reason = "Battery idle below full - yielding current to battery"
		}
	default:
		deltaBudget = battery
		reason = "Battery power drives car current"
	}

	chatter := false
	if deltaBudget < 0 && input.LastCurrent < chatterCurrent && battery > -shallowDischarge && favorable {
		deltaBudget = 0
		chatter = true
		reason = "Holding minimum current"
	}

	current := b.incrementalCurrent(input, deltaBudget)
	b.logger.Debugf("Charging, current > %.0f (delta budget %.0fW)", current, deltaBudget)

	return RegulationOutput{
		TargetCurrent: current,
		Strategy:      StrategyBatteryPriority,
		Reason:        reason,
		DebugInfo: map[string]interface{}{
			"average_grid_power": input.AverageGridPower,
			"battery_power":      battery,
			"state_of_charge":    input.StateOfCharge,
			"delta_budget":       deltaBudget,
			"anti_chatter":       chatter,
			"mode":               "battery",
		},
	}
}
