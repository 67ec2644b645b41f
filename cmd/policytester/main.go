package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"charge-controller/internal/config"
	"charge-controller/internal/models"
	"charge-controller/internal/regulation"

	"github.com/sirupsen/logrus"
)

// Testeur interactif des stratégies de charge, sans broker ni borne.
func main() {
	fmt.Println("🧪 Charging Policy Interactive Tester")
	fmt.Println("=====================================")
	fmt.Println()

	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)

	cfg := &config.Config{Charging: config.ChargingConfig{PowerFactor: 1.0, Strategy: string(regulation.StrategyAuto), SeedWindow: true}}
	regulator, err := regulation.CreateRegulator(cfg, logger)
	if err != nil {
		fmt.Printf("❌ %v\n", err)
		os.Exit(1)
	}
	estimator := regulation.NewPowerEstimator(regulation.EstimatorConfig{SeedWindow: true}, logger)
	governor := regulation.NewGovernor(logger)

	// État de simulation
	input := regulation.RegulationInput{
		Voltage:         230,
		NetMaxPower:     6000,
		DynamicCharging: true,
		Status:          models.StatusAvailable,
	}
	var stepCount int
	baseTime := time.Now()

	showHelp()

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Printf("\n[Step %d | %s | Applied: %.0fA] > ", stepCount, input.Status, governor.LastApplied())
		if !scanner.Scan() {
			break
		}

		parts := strings.Fields(scanner.Text())
		if len(parts) == 0 {
			continue
		}

		value := 0.0
		if len(parts) > 1 {
			if v, err := strconv.ParseFloat(parts[1], 64); err == nil {
				value = v
			} else {
				fmt.Println("❌ Valeur invalide")
				continue
			}
		}

		switch parts[0] {
		case "quit", "q":
			fmt.Println("👋 Au revoir!")
			return

		case "help", "h":
			showHelp()

		case "reset":
			regulator.Reset()
			fmt.Println("🔄 Régulateur réinitialisé")

		case "status":
			showStatus(regulator, governor)

		case "charging":
			input.Status = models.StatusCharging
		case "available":
			input.Status = models.StatusAvailable

		case "netmax":
			input.NetMaxPower = value
		case "battery":
			input.BatteryPower = value
		case "soc":
			input.StateOfCharge = value
		case "import":
			input.CurrentImport = value
		case "static":
			input.DynamicCharging = false
			input.StaticPower = value
		case "dynamic":
			input.DynamicCharging = true

		default:
			// puissance réseau en kW, positive en import
			kw, err := strconv.ParseFloat(parts[0], 64)
			if err != nil {
				fmt.Println("❌ Commande inconnue. Tapez 'help' pour voir les commandes.")
				continue
			}

			stepCount++
			consumption, injection := kw, 0.0
			if kw < 0 {
				consumption, injection = 0, -kw
			}
			estimator.UpdateGridPower(models.PowerSample{GrossConsumption: consumption, GrossInjection: injection})

			input.AverageGridPower = estimator.AverageGridPower()
			input.LastCurrent = governor.LastApplied()
			input.Timestamp = baseTime.Add(time.Duration(stepCount*2) * time.Second)
			if input.Status.IsCharging() && len(parts) == 1 {
				// la borne suit la consigne
				input.CurrentImport = governor.LastApplied()
			}

			output := regulator.Calculate(input)
			applied, changed := governor.Apply(output.TargetCurrent, input.Voltage)
			showOutput(kw*1000, input.AverageGridPower, output, applied, changed)
		}
	}
}

func showOutput(gridPower, average float64, output regulation.RegulationOutput, applied float64, changed bool) {
	fmt.Printf("⚡ Grid: %+.0fW (moyenne %+.0fW)\n", gridPower, average)
	fmt.Printf("🎯 Stratégie: %s | Cible: %.0fA | Appliqué: %.0fA", output.Strategy, output.TargetCurrent, applied)
	if changed {
		fmt.Print(" ✍️")
	}
	if output.Syncing {
		fmt.Print(" ⏳ sync")
	}
	fmt.Println()
	fmt.Printf("💬 %s\n", output.Reason)
	for key, value := range output.DebugInfo {
		fmt.Printf("   %s: %v\n", key, value)
	}
}

func showStatus(regulator regulation.RegulationService, governor *regulation.Governor) {
	fmt.Printf("📊 %s\n", regulator.GetName())
	for key, value := range regulator.GetStatus() {
		fmt.Printf("   %s: %v\n", key, value)
	}
	for key, value := range governor.GetStatus() {
		fmt.Printf("   governor.%s: %v\n", key, value)
	}
}

func showHelp() {
	fmt.Println("🎮 Commandes disponibles:")
	fmt.Println("   <kW>           - Puissance réseau (ex: 2, -1.5)")
	fmt.Println("   charging       - Borne en charge")
	fmt.Println("   available      - Borne disponible")
	fmt.Println("   netmax <W>     - Puissance max réseau (0 = priorité batterie)")
	fmt.Println("   battery <W>    - Puissance batterie (+ charge, - décharge)")
	fmt.Println("   soc <%>        - État de charge batterie")
	fmt.Println("   import <A>     - Courant mesuré par la borne")
	fmt.Println("   static <W>     - Mode statique avec consigne en W")
	fmt.Println("   dynamic        - Retour au mode dynamique")
	fmt.Println("   reset | status | help | quit")
}
