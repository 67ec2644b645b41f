package regulation

// calculateCarPriority budget = import max - (puissance réseau - puissance batterie)
func (b *BudgetRegulator) calculateCarPriority(input RegulationInput) RegulationOutput {
	budget := input.NetMaxPower - (input.AverageGridPower - input.BatteryPower)

	debug := map[string]interface{}{
		"net_max_power":      input.NetMaxPower,
		"average_grid_power": input.AverageGridPower,
		"battery_power":      input.BatteryPower,
		"budget":             budget,
		"mode":               "car",
	}

	if !input.Status.IsCharging() {
		current := startCurrent(input, budget)
		b.logger.Debugf("Not charging, current > %.0f", current)
		return RegulationOutput{
			TargetCurrent: current,
			Strategy:      StrategyCarPriority,
			Reason:        "Not charging - offering available budget",
			DebugInfo:     debug,
		}
	}

	if output, syncing := b.checkSync(input, StrategyCarPriority); syncing {
		return output
	}

	current := b.incrementalCurrent(input, budget)
	b.logger.Debugf("Charging, current > %.0f", current)

	reason := "Charging - budget available, increasing"
	if budget < 0 {
		reason = "Charging - over budget, reducing"
	}

	return RegulationOutput{
		TargetCurrent: current,
		Strategy:      StrategyCarPriority,
		Reason:        reason,
		DebugInfo:     debug,
	}
}
