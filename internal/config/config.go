package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

var ErrInvalidConfig = errors.New("invalid config")

type Config struct {
	Log      LogConfig      `mapstructure:"log"`
	Server   ServerConfig   `mapstructure:"server"`
	MQTT     MQTTConfig     `mapstructure:"mqtt"`
	OCPP     OCPPConfig     `mapstructure:"ocpp"`
	Teleinfo TeleinfoConfig `mapstructure:"teleinfo"`
	Charging ChargingConfig `mapstructure:"charging"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type ServerConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    int    `mapstructure:"port"`
	Host    string `mapstructure:"host"`
}

type MQTTConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Broker   string `mapstructure:"broker"`
	ClientID string `mapstructure:"client_id"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Topics   Topics `mapstructure:"topics"`
}

// Topics binds every controller input and output to an MQTT topic. Empty
// topics are not subscribed / not published.
type Topics struct {
	Consumption        string `mapstructure:"consumption"`
	Injection          string `mapstructure:"injection"`
	Voltage            string `mapstructure:"voltage"`
	ChargerStatus      string `mapstructure:"charger_status"`
	CurrentOffered     string `mapstructure:"current_offered"`
	CurrentImport      string `mapstructure:"current_import"`
	NetMaxPower        string `mapstructure:"net_max_power"`
	StaticPower        string `mapstructure:"static_power"`
	EnableCharger      string `mapstructure:"enable_charger"`
	DynamicCharging    string `mapstructure:"dynamic_charging"`
	BatteryCharging    string `mapstructure:"battery_charging"`
	BatteryDischarging string `mapstructure:"battery_discharging"`
	BatterySoC         string `mapstructure:"battery_soc"`

	MaxCurrent       string `mapstructure:"max_current"`
	OfferedPower     string `mapstructure:"offered_power"`
	ActualPower      string `mapstructure:"actual_power"`
	EnableChargerSet string `mapstructure:"enable_charger_set"`
	StaticPowerSet   string `mapstructure:"static_power_set"`
	Reconfigure      string `mapstructure:"reconfigure"`
}

type OCPPConfig struct {
	Enabled          bool   `mapstructure:"enabled"`
	Port             int    `mapstructure:"port"`
	Path             string `mapstructure:"path"`
	ChargePointID    string `mapstructure:"charge_point_id"`
	ConnectorID      int    `mapstructure:"connector_id"`
	ReconfigureKey   string `mapstructure:"reconfigure_key"`
	ReconfigureValue string `mapstructure:"reconfigure_value"`
}

type TeleinfoConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    string `mapstructure:"port"`
	Baud    int    `mapstructure:"baud"`
}

type ChargingConfig struct {
	SuspendTime      int     `mapstructure:"suspend_time"`
	PowerFactor      float64 `mapstructure:"power_factor"`
	Strategy         string  `mapstructure:"strategy"`
	UpdateInterval   int     `mapstructure:"update_interval"`
	WatchdogInterval int     `mapstructure:"watchdog_interval"`
	WatchdogDelay    int     `mapstructure:"watchdog_delay"`
	SeedWindow       bool    `mapstructure:"seed_window"`
	EnableOnStart    bool    `mapstructure:"enable_on_start"`
	DynamicOnStart   bool    `mapstructure:"dynamic_on_start"`
}

func (c ChargingConfig) SuspendDuration() time.Duration {
	return time.Duration(c.SuspendTime) * time.Second
}

func (c ChargingConfig) TickInterval() time.Duration {
	return time.Duration(c.UpdateInterval) * time.Second
}

func (c ChargingConfig) WatchdogPeriod() time.Duration {
	return time.Duration(c.WatchdogInterval) * time.Second
}

func (c ChargingConfig) WatchdogWait() time.Duration {
	return time.Duration(c.WatchdogDelay) * time.Second
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")

	v.SetDefault("server.enabled", true)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.host", "0.0.0.0")

	v.SetDefault("mqtt.enabled", true)
	v.SetDefault("mqtt.client_id", "charge-controller")
	v.SetDefault("mqtt.topics.consumption", "energy/grid/consumption")
	v.SetDefault("mqtt.topics.injection", "energy/grid/injection")
	v.SetDefault("mqtt.topics.voltage", "energy/grid/voltage")
	v.SetDefault("mqtt.topics.charger_status", "charger/status")
	v.SetDefault("mqtt.topics.current_offered", "charger/current_offered")
	v.SetDefault("mqtt.topics.current_import", "charger/current_import")
	v.SetDefault("mqtt.topics.net_max_power", "controller/net_max_power")
	v.SetDefault("mqtt.topics.static_power", "controller/static_power")
	v.SetDefault("mqtt.topics.enable_charger", "controller/enable_charger")
	v.SetDefault("mqtt.topics.dynamic_charging", "controller/dynamic_charging")
	v.SetDefault("mqtt.topics.battery_charging", "battery/charging_power")
	v.SetDefault("mqtt.topics.battery_discharging", "battery/discharging_power")
	v.SetDefault("mqtt.topics.battery_soc", "battery/soc")
	v.SetDefault("mqtt.topics.max_current", "charger/max_current/set")
	v.SetDefault("mqtt.topics.offered_power", "controller/offered_power")
	v.SetDefault("mqtt.topics.actual_power", "controller/actual_power")
	v.SetDefault("mqtt.topics.enable_charger_set", "controller/enable_charger/set")
	v.SetDefault("mqtt.topics.static_power_set", "controller/static_power/set")
	v.SetDefault("mqtt.topics.reconfigure", "charger/reconfigure")

	v.SetDefault("ocpp.enabled", false)
	v.SetDefault("ocpp.port", 8887)
	v.SetDefault("ocpp.path", "/{ws}")
	v.SetDefault("ocpp.connector_id", 1)
	v.SetDefault("ocpp.reconfigure_key", "MaxCurrentOffered")
	v.SetDefault("ocpp.reconfigure_value", "32")

	v.SetDefault("teleinfo.enabled", false)
	v.SetDefault("teleinfo.port", "/dev/ttyUSB0")
	v.SetDefault("teleinfo.baud", 9600)

	v.SetDefault("charging.suspend_time", 30)
	v.SetDefault("charging.power_factor", 1.0)
	v.SetDefault("charging.strategy", "auto")
	v.SetDefault("charging.update_interval", 2)
	v.SetDefault("charging.watchdog_interval", 60)
	v.SetDefault("charging.watchdog_delay", 30)
	v.SetDefault("charging.seed_window", false)
	v.SetDefault("charging.enable_on_start", true)
	v.SetDefault("charging.dynamic_on_start", true)
}

// Load reads config.yaml from the working directory or ./config, falling
// back to defaults when no file exists. An explicit path wins over the search.
func Load(path string) (*Config, error) {
	return LoadWith(viper.GetViper(), path)
}

// LoadWith is Load on a caller supplied viper instance, so that flags bound by
// the command line end up in the same namespace.
func LoadWith(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	setDefaults(v)
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			fmt.Println("Config file not found, using defaults")
		} else {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if config.MQTT.Broker == "" {
		config.MQTT.Broker = os.Getenv("MQTT_BROKER")
	}
	if config.MQTT.Username == "" {
		config.MQTT.Username = os.Getenv("MQTT_USERNAME")
	}
	if config.MQTT.Password == "" {
		config.MQTT.Password = os.Getenv("MQTT_PASSWORD")
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.Charging.SuspendTime < 0 {
		return fmt.Errorf("%w: charging.suspend_time must be >= 0, got %d", ErrInvalidConfig, c.Charging.SuspendTime)
	}
	if c.Charging.PowerFactor <= 0 {
		return fmt.Errorf("%w: charging.power_factor must be > 0, got %g", ErrInvalidConfig, c.Charging.PowerFactor)
	}
	if c.Charging.UpdateInterval <= 0 {
		return fmt.Errorf("%w: charging.update_interval must be > 0", ErrInvalidConfig)
	}
	if c.Charging.WatchdogInterval <= 0 || c.Charging.WatchdogDelay < 0 {
		return fmt.Errorf("%w: invalid watchdog timing", ErrInvalidConfig)
	}
	switch c.Charging.Strategy {
	case "auto", "car", "battery":
	default:
		return fmt.Errorf("%w: unknown charging.strategy %q", ErrInvalidConfig, c.Charging.Strategy)
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		return fmt.Errorf("%w: mqtt.broker is required when mqtt is enabled", ErrInvalidConfig)
	}
	if c.OCPP.Enabled && c.OCPP.ConnectorID <= 0 {
		return fmt.Errorf("%w: ocpp.connector_id must be > 0", ErrInvalidConfig)
	}
	return nil
}
