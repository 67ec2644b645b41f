package main

import (
	"bufio"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"charge-controller/internal/config"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	_ "github.com/joho/godotenv/autoload"
)

// Simulateur manuel : publie des mesures sur les topics d'entrée du contrôleur.
func main() {
	fmt.Println("🧪 Simulation MQTT du contrôleur de charge")
	fmt.Println("==========================================")
	fmt.Println()

	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		log.Fatalf("❌ Configuration invalide: %v", err)
	}
	if cfg.MQTT.Broker == "" {
		cfg.MQTT.Broker = "tcp://localhost:1883"
	}
	topics := cfg.MQTT.Topics

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.MQTT.Broker)
	opts.SetClientID("charge-controller-simulator")
	opts.SetUsername(cfg.MQTT.Username)
	opts.SetPassword(cfg.MQTT.Password)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		log.Printf("❌ Impossible de se connecter à MQTT (%s)", cfg.MQTT.Broker)
		log.Printf("💡 Assurez-vous que le broker MQTT fonctionne:")
		log.Printf("   docker run -it -p 1883:1883 eclipse-mosquitto:2.0")
		log.Printf("Erreur: %s", token.Error().Error())
		return
	}
	defer client.Disconnect(250)

	fmt.Printf("✅ Connecté au broker MQTT: %s\n", cfg.MQTT.Broker)
	fmt.Println()

	publish(client, topics.Voltage, "230")
	publish(client, topics.NetMaxPower, "6000")
	publish(client, topics.DynamicCharging, "on")
	publish(client, topics.EnableCharger, "on")

	scenarios := []struct {
		step        string
		status      string
		consumption float64
		injection   float64
		wait        int
		expected    string
	}{
		{"1. Borne libre, import 2kW", "Available", 2, 0, 8, "Démarrage à 17A (6000-2000)/230"},
		{"2. Charge en cours", "Charging", 5.9, 0, 10, "Maintien autour de 17A"},
		{"3. Pic de consommation", "Charging", 8, 0, 10, "Réduction du courant"},
		{"4. Surplus solaire", "Charging", 0, 1.5, 10, "Augmentation du courant"},
		{"5. Fin de charge", "Finishing", 0, 1.5, 35, "Suspension puis réactivation après le délai"},
	}

	for _, scenario := range scenarios {
		fmt.Printf("📊 %s\n", scenario.step)
		fmt.Printf("   Statut: %s | Conso: %.1fkW | Injection: %.1fkW\n", scenario.status, scenario.consumption, scenario.injection)
		fmt.Printf("   Attendu: %s\n", scenario.expected)

		publish(client, topics.ChargerStatus, scenario.status)
		publish(client, topics.Consumption, strconv.FormatFloat(scenario.consumption, 'f', 2, 64))
		publish(client, topics.Injection, strconv.FormatFloat(scenario.injection, 'f', 2, 64))

		fmt.Printf("   ⏳ Attente %ds pour observer la réaction...\n", scenario.wait)
		time.Sleep(time.Duration(scenario.wait) * time.Second)
		fmt.Println()
	}

	fmt.Println("✅ Scénario de test terminé!")
	fmt.Println()
	fmt.Println("📋 Pour analyser les résultats, vérifiez les logs du contrôleur ou GET /status")

	fmt.Println()
	fmt.Print("🎮 Voulez-vous passer en mode interactif ? (y/N): ")
	var response string
	fmt.Scanln(&response)

	if response == "y" || response == "Y" {
		interactiveMode(client, topics)
	}
}

func publish(client mqtt.Client, topic string, value string) {
	if topic == "" {
		return
	}
	token := client.Publish(topic, 1, false, value)
	token.Wait()

	fmt.Printf("📡 Publié: %s = %s\n", topic, value)
}

func interactiveMode(client mqtt.Client, topics config.Topics) {
	fmt.Println()
	fmt.Println("🎮 Mode Interactif Activé")
	fmt.Println("========================")
	fmt.Println("Commandes disponibles:")
	fmt.Println("  grid <kW>      - Puissance réseau (négatif = injection)")
	fmt.Println("  status <s>     - Statut de la borne (Charging, Available, ...)")
	fmt.Println("  battery <W>    - Puissance batterie (négatif = décharge)")
	fmt.Println("  soc <%>        - État de charge batterie")
	fmt.Println("  netmax <W>     - Puissance max réseau (0 = priorité batterie)")
	fmt.Println("  quit           - Quitter")
	fmt.Println()

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("🎮 > ")
		if !scanner.Scan() {
			return
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}

		cmd, arg := fields[0], ""
		if len(fields) > 1 {
			arg = fields[1]
		}

		switch cmd {
		case "grid":
			kw, err := strconv.ParseFloat(arg, 64)
			if err != nil {
				fmt.Println("❌ Valeur invalide")
				continue
			}
			if kw >= 0 {
				publish(client, topics.Consumption, arg)
				publish(client, topics.Injection, "0")
			} else {
				publish(client, topics.Consumption, "0")
				publish(client, topics.Injection, strconv.FormatFloat(-kw, 'f', 2, 64))
			}

		case "status":
			publish(client, topics.ChargerStatus, arg)

		case "battery":
			watts, err := strconv.ParseFloat(arg, 64)
			if err != nil {
				fmt.Println("❌ Valeur invalide")
				continue
			}
			if watts >= 0 {
				publish(client, topics.BatteryCharging, arg)
				publish(client, topics.BatteryDischarging, "0")
			} else {
				publish(client, topics.BatteryCharging, "0")
				publish(client, topics.BatteryDischarging, strconv.FormatFloat(-watts, 'f', 0, 64))
			}

		case "soc":
			publish(client, topics.BatterySoC, arg)

		case "netmax":
			publish(client, topics.NetMaxPower, arg)

		case "quit", "exit", "q":
			fmt.Println("👋 Au revoir!")
			return

		default:
			fmt.Println("❌ Commande inconnue")
		}
	}
}
