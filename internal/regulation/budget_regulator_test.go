package regulation

import (
	"math"
	"testing"

	"charge-controller/internal/config"
	"charge-controller/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegulator(strategy Strategy) *BudgetRegulator {
	return NewBudgetRegulator(BudgetConfig{PowerFactor: 1.0, Strategy: strategy}, newTestLogger())
}

func TestBudgetRegulator_Static(t *testing.T) {
	regulator := newTestRegulator(StrategyAuto)

	for _, power := range []float64{0, 1380, 3680, 4140, 7360, 11000} {
		output := regulator.Calculate(RegulationInput{StaticPower: power, Voltage: 230})
		assert.Equal(t, math.RoundToEven(power/230), output.TargetCurrent, "power %.0f", power)
		assert.Equal(t, StrategyStatic, output.Strategy)
	}

	output := regulator.Calculate(RegulationInput{StaticPower: 3680})
	assert.Equal(t, 0.0, output.TargetCurrent, "unknown voltage")
}

func TestBudgetRegulator_StaticIgnoresChargerStatus(t *testing.T) {
	regulator := newTestRegulator(StrategyAuto)

	output := regulator.Calculate(RegulationInput{
		StaticPower:   2300,
		Voltage:       230,
		Status:        models.StatusCharging,
		CurrentImport: 0,
		LastCurrent:   16,
	})

	assert.Equal(t, 10.0, output.TargetCurrent)
	assert.False(t, output.Syncing)
}

func TestBudgetRegulator_CarPriorityNotCharging(t *testing.T) {
	regulator := newTestRegulator(StrategyAuto)

	output := regulator.Calculate(RegulationInput{
		DynamicCharging:  true,
		NetMaxPower:      6000,
		AverageGridPower: 2000,
		Voltage:          230,
		Status:           models.StatusAvailable,
	})

	assert.Equal(t, 17.0, output.TargetCurrent)
	assert.Equal(t, StrategyCarPriority, output.Strategy)
	assert.Equal(t, 4000.0, output.DebugInfo["budget"])
}

func TestBudgetRegulator_CarPriorityCountsBatteryDischarge(t *testing.T) {
	regulator := newTestRegulator(StrategyAuto)

	output := regulator.Calculate(RegulationInput{
		DynamicCharging:  true,
		NetMaxPower:      6000,
		AverageGridPower: 2000,
		BatteryPower:     -1000,
		Voltage:          230,
	})

	assert.Equal(t, 13.0, output.TargetCurrent)
}

func TestBudgetRegulator_CarPriorityNegativeBudget(t *testing.T) {
	regulator := newTestRegulator(StrategyAuto)

	output := regulator.Calculate(RegulationInput{
		DynamicCharging:  true,
		NetMaxPower:      2000,
		AverageGridPower: 5000,
		Voltage:          230,
	})

	assert.Equal(t, 0.0, output.TargetCurrent)
}

func TestBudgetRegulator_CarPriorityCharging(t *testing.T) {
	regulator := newTestRegulator(StrategyAuto)

	input := RegulationInput{
		DynamicCharging:  true,
		NetMaxPower:      6000,
		AverageGridPower: 5540,
		Voltage:          230,
		Status:           models.StatusCharging,
		CurrentImport:    10.2,
		LastCurrent:      10,
	}

	output := regulator.Calculate(input)
	assert.Equal(t, 12.0, output.TargetCurrent)

	input.AverageGridPower = 6460
	output = regulator.Calculate(input)
	assert.Equal(t, 8.0, output.TargetCurrent)
	assert.Contains(t, output.Reason, "reducing")
}

func TestBudgetRegulator_PowerFactorScalesDelta(t *testing.T) {
	regulator := NewBudgetRegulator(BudgetConfig{PowerFactor: 0.5}, newTestLogger())

	output := regulator.Calculate(RegulationInput{
		DynamicCharging:  true,
		NetMaxPower:      6000,
		AverageGridPower: 5080,
		Voltage:          230,
		Status:           models.StatusCharging,
		CurrentImport:    10,
		LastCurrent:      10,
	})

	assert.Equal(t, 12.0, output.TargetCurrent)
}

func TestBudgetRegulator_ChargingWithoutVoltageKeepsCurrent(t *testing.T) {
	for _, strategy := range []Strategy{StrategyCarPriority, StrategyBatteryPriority} {
		regulator := newTestRegulator(strategy)

		output := regulator.Calculate(RegulationInput{
			DynamicCharging:  true,
			NetMaxPower:      6000,
			AverageGridPower: -3000,
			Status:           models.StatusCharging,
			CurrentImport:    12,
			LastCurrent:      12,
		})

		assert.Equal(t, 12.0, output.TargetCurrent, string(strategy))
	}
}

func TestBudgetRegulator_NotChargingWithoutVoltageIsZero(t *testing.T) {
	for _, strategy := range []Strategy{StrategyCarPriority, StrategyBatteryPriority} {
		regulator := newTestRegulator(strategy)

		output := regulator.Calculate(RegulationInput{
			DynamicCharging:  true,
			NetMaxPower:      6000,
			AverageGridPower: -3000,
		})

		assert.Equal(t, 0.0, output.TargetCurrent, string(strategy))
	}
}

func TestBudgetRegulator_SyncGuard(t *testing.T) {
	tests := []struct {
		name   string
		input  RegulationInput
		expect float64
	}{
		{
			name: "car priority, car lagging",
			input: RegulationInput{
				NetMaxPower: 6000, AverageGridPower: -8000, CurrentImport: 6, LastCurrent: 14,
			},
			expect: 14,
		},
		{
			name: "car priority, car above setpoint",
			input: RegulationInput{
				NetMaxPower: 6000, AverageGridPower: 9000, CurrentImport: 16.5, LastCurrent: 14,
			},
			expect: 14,
		},
		{
			name: "battery priority",
			input: RegulationInput{
				AverageGridPower: -5000, BatteryPower: -2000, CurrentImport: 0, LastCurrent: 10,
			},
			expect: 10,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			regulator := newTestRegulator(StrategyAuto)
			tt.input.DynamicCharging = true
			tt.input.Status = models.StatusCharging
			tt.input.Voltage = 230

			output := regulator.Calculate(tt.input)

			assert.True(t, output.Syncing)
			assert.Equal(t, tt.expect, output.TargetCurrent)
			assert.Equal(t, int64(1), regulator.GetStatus()["sync_holds"])
		})
	}
}

func TestBudgetRegulator_SyncGuardToleratesOneAmp(t *testing.T) {
	regulator := newTestRegulator(StrategyCarPriority)

	output := regulator.Calculate(RegulationInput{
		DynamicCharging: true,
		NetMaxPower:     6000,
		Voltage:         230,
		Status:          models.StatusCharging,
		CurrentImport:   9,
		LastCurrent:     10,
	})

	assert.False(t, output.Syncing)
}

func TestBudgetRegulator_BatteryPriorityScenario(t *testing.T) {
	estimator := NewPowerEstimator(EstimatorConfig{SeedWindow: true}, newTestLogger())
	net := estimator.UpdateGridPower(models.PowerSample{GrossConsumption: 5, GrossInjection: 2})
	require.Equal(t, 3000.0, net)

	regulator := newTestRegulator(StrategyAuto)
	output := regulator.Calculate(RegulationInput{
		DynamicCharging:  true,
		AverageGridPower: estimator.AverageGridPower(),
		BatteryPower:     estimator.UpdateBatteryPower(models.BatteryPowerState{}),
		Voltage:          230,
		Status:           models.StatusAvailable,
	})

	assert.Equal(t, StrategyBatteryPriority, output.Strategy)
	assert.Equal(t, 0.0, output.DebugInfo["budget"])
	assert.Equal(t, 0.0, output.TargetCurrent)
}

func TestBudgetRegulator_BatteryPriorityStartBand(t *testing.T) {
	tests := []struct {
		name    string
		battery float64
		soc     float64
		expect  float64
		widened bool
	}{
		{"battery charging hard", 2500, 50, 6, true},
		{"battery nearly full", 0, 97, 6, true},
		{"battery needs the surplus", 800, 50, 4, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			regulator := newTestRegulator(StrategyAuto)

			output := regulator.Calculate(RegulationInput{
				DynamicCharging:  true,
				AverageGridPower: -1000,
				BatteryPower:     tt.battery,
				StateOfCharge:    tt.soc,
				Voltage:          230,
			})

			assert.Equal(t, tt.expect, output.TargetCurrent)
			assert.Equal(t, tt.widened, output.DebugInfo["widened"])
		})
	}
}

func TestBudgetRegulator_BatteryPriorityCharging(t *testing.T) {
	tests := []struct {
		name    string
		battery float64
		soc     float64
		grid    float64
		last    float64
		expect  float64
		chatter bool
	}{
		{"battery idle and full follows grid", 0, 100, -460, 10, 12, false},
		{"battery idle below full yields a quarter", 0, 50, -460, 8, 8, false},
		{"battery charging slowly", 1270, 50, 0, 10, 4, false},
		{"battery charging hard feeds the car", 2760, 50, 0, 10, 22, false},
		{"battery discharging", -460, 50, 0, 10, 8, false},
		{"anti chatter while battery charges", 2300, 50, 0, 6, 6, true},
		{"anti chatter with full battery", -230, 98, 0, 6, 6, true},
		{"deep discharge still reduces", -1150, 98, 0, 6, 1, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			regulator := newTestRegulator(StrategyAuto)

			output := regulator.Calculate(RegulationInput{
				DynamicCharging:  true,
				AverageGridPower: tt.grid,
				BatteryPower:     tt.battery,
				StateOfCharge:    tt.soc,
				Voltage:          230,
				Status:           models.StatusCharging,
				CurrentImport:    tt.last,
				LastCurrent:      tt.last,
			})

			assert.Equal(t, tt.expect, output.TargetCurrent)
			assert.Equal(t, tt.chatter, output.DebugInfo["anti_chatter"])
		})
	}
}

func TestBudgetRegulator_BatteryPriorityTinyChargeIsNotIdle(t *testing.T) {
	regulator := newTestRegulator(StrategyAuto)
	input := RegulationInput{
		DynamicCharging:  true,
		AverageGridPower: -460,
		StateOfCharge:    100,
		Voltage:          230,
		Status:           models.StatusCharging,
		CurrentImport:    12,
		LastCurrent:      12,
	}

	// une charge de 0.05W reste une charge lente : 12A - 2499.95W / 230V
	input.BatteryPower = 0.05
	output := regulator.Calculate(input)
	assert.Equal(t, 1.0, output.TargetCurrent)
	assert.InDelta(t, -2499.95, output.DebugInfo["delta_budget"], 1e-9)
	assert.Equal(t, "Battery charging slowly - reducing car current", output.Reason)

	// une décharge de 0.05W est dans la bande d'arrêt
	input.BatteryPower = -0.05
	output = regulator.Calculate(input)
	assert.Equal(t, 14.0, output.TargetCurrent)
	assert.Equal(t, "Battery idle - following grid", output.Reason)
}

func TestBudgetRegulator_ForcedStrategy(t *testing.T) {
	input := RegulationInput{
		DynamicCharging:  true,
		NetMaxPower:      0,
		AverageGridPower: -2300,
		Voltage:          230,
	}

	car := newTestRegulator(StrategyCarPriority).Calculate(input)
	assert.Equal(t, StrategyCarPriority, car.Strategy)
	assert.Equal(t, 10.0, car.TargetCurrent)

	input.NetMaxPower = 6000
	battery := newTestRegulator(StrategyBatteryPriority).Calculate(input)
	assert.Equal(t, StrategyBatteryPriority, battery.Strategy)
}

func TestBudgetRegulator_Reset(t *testing.T) {
	regulator := newTestRegulator(StrategyAuto)
	regulator.Calculate(RegulationInput{StaticPower: 2300, Voltage: 230})

	assert.Equal(t, int64(1), regulator.GetStatus()["calculations"])

	regulator.Reset()
	status := regulator.GetStatus()
	assert.Equal(t, int64(0), status["calculations"])
	assert.Equal(t, "Budget Regulator", status["name"])
}

func TestCreateRegulator(t *testing.T) {
	cfg := &config.Config{Charging: config.ChargingConfig{Strategy: "car", PowerFactor: 1.5}}

	regulator, err := CreateRegulator(cfg, newTestLogger())
	require.NoError(t, err)
	assert.Equal(t, "Budget Regulator", regulator.GetName())

	cfg.Charging.Strategy = "pid"
	_, err = CreateRegulator(cfg, newTestLogger())
	assert.Error(t, err)
}
