package mqtt

import (
	"fmt"
	"strconv"
	"time"

	"charge-controller/internal/config"
	"charge-controller/internal/models"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"
)

const (
	publishQoS     = 1
	publishTimeout = 5 * time.Second
)

type Client struct {
	client mqtt.Client
	config *config.Config
	logger *logrus.Logger

	store    *models.ReadingStore
	handlers map[string]mqtt.MessageHandler

	onStatus func(status models.ChargerStatus)
}

func NewClient(cfg *config.Config, logger *logrus.Logger, store *models.ReadingStore) (*Client, error) {
	if cfg.MQTT.Broker == "" {
		return nil, fmt.Errorf("mqtt broker not configured: %w", config.ErrInvalidConfig)
	}

	c := &Client{
		config: cfg,
		logger: logger,
		store:  store,
	}
	c.handlers = c.buildHandlers()

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.MQTT.Broker)
	opts.SetClientID(cfg.MQTT.ClientID)
	opts.SetUsername(cfg.MQTT.Username)
	opts.SetPassword(cfg.MQTT.Password)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetKeepAlive(60 * time.Second)

	opts.SetConnectionLostHandler(c.onConnectionLost)
	opts.SetOnConnectHandler(c.onConnect)

	c.client = mqtt.NewClient(opts)

	return c, nil
}

func (c *Client) Connect() error {
	c.logger.Info("Connecting to MQTT broker...")

	if token := c.client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	c.logger.Info("Connected to MQTT broker")
	return nil
}

func (c *Client) Disconnect() {
	c.logger.Info("Disconnecting from MQTT broker...")
	c.client.Disconnect(250)
}

// SetStatusCallback reçoit chaque statut de borne publié sur le topic
// charger_status. Le callback ne doit pas bloquer.
func (c *Client) SetStatusCallback(onStatus func(models.ChargerStatus)) {
	c.onStatus = onStatus
}

func (c *Client) buildHandlers() map[string]mqtt.MessageHandler {
	topics := c.config.MQTT.Topics
	handlers := make(map[string]mqtt.MessageHandler)

	number := func(topic string, set func(r *models.Readings, v *float64)) {
		if topic == "" {
			return
		}
		handlers[topic] = func(_ mqtt.Client, msg mqtt.Message) {
			value, err := ParseNumber(msg.Payload())
			if err != nil {
				c.logger.Warnf("Unparsable value on %s (%q), clearing: %v", msg.Topic(), string(msg.Payload()), err)
			}
			c.store.Update(func(r *models.Readings) { set(r, value) })
			c.logger.Debugf("%s = %s", msg.Topic(), string(msg.Payload()))
		}
	}

	flag := func(topic string, set func(r *models.Readings, v bool)) {
		if topic == "" {
			return
		}
		handlers[topic] = func(_ mqtt.Client, msg mqtt.Message) {
			value, err := ParseBool(msg.Payload())
			if err != nil {
				c.logger.Errorf("Failed to parse %s: %v", msg.Topic(), err)
				return
			}
			c.store.Update(func(r *models.Readings) { set(r, value) })
			c.logger.Infof("%s = %v", msg.Topic(), value)
		}
	}

	number(topics.Consumption, func(r *models.Readings, v *float64) { r.Consumption = v })
	number(topics.Injection, func(r *models.Readings, v *float64) { r.Injection = v })
	number(topics.Voltage, func(r *models.Readings, v *float64) { r.Voltage = v })
	number(topics.CurrentOffered, func(r *models.Readings, v *float64) { r.CurrentOffered = v })
	number(topics.CurrentImport, func(r *models.Readings, v *float64) { r.CurrentImport = v })
	number(topics.NetMaxPower, func(r *models.Readings, v *float64) { r.NetMaxPower = v })
	number(topics.StaticPower, func(r *models.Readings, v *float64) { r.StaticPower = v })
	number(topics.BatteryCharging, func(r *models.Readings, v *float64) { r.BatteryCharging = v })
	number(topics.BatteryDischarging, func(r *models.Readings, v *float64) { r.BatteryDischarging = v })
	number(topics.BatterySoC, func(r *models.Readings, v *float64) { r.BatterySoC = v })

	flag(topics.EnableCharger, func(r *models.Readings, v bool) { r.ChargerEnabled = v })
	flag(topics.DynamicCharging, func(r *models.Readings, v bool) { r.DynamicCharging = v })

	if topics.ChargerStatus != "" {
		handlers[topics.ChargerStatus] = c.handleStatusMessage
	}

	return handlers
}

func (c *Client) onConnect(client mqtt.Client) {
	c.logger.Info("MQTT connected, subscribing to topics...")

	for topic, handler := range c.handlers {
		if token := client.Subscribe(topic, 1, handler); token.Wait() && token.Error() != nil {
			c.logger.Errorf("Failed to subscribe to %s: %v", topic, token.Error())
		} else {
			c.logger.Infof("Subscribed to %s", topic)
		}
	}
}

func (c *Client) onConnectionLost(client mqtt.Client, err error) {
	c.logger.Errorf("MQTT connection lost: %v", err)
}

// Le statut n'est pas écrit dans le store ici : la boucle de contrôle le fait
// pour connaître l'ancien statut.
func (c *Client) handleStatusMessage(_ mqtt.Client, msg mqtt.Message) {
	status, err := ParseStatus(msg.Payload())
	if err != nil {
		c.logger.Errorf("Failed to parse charger status: %v", err)
		return
	}

	c.logger.Debugf("Received charger status: %s", status)
	if c.onStatus != nil {
		c.onStatus(status)
	}
}

func (c *Client) publish(topic string, payload string) error {
	if topic == "" {
		return nil
	}

	token := c.client.Publish(topic, publishQoS, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish to %s timed out", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	return nil
}

// SetMaxCurrent publie la consigne de courant en ampères entiers.
func (c *Client) SetMaxCurrent(current float64) error {
	return c.publish(c.config.MQTT.Topics.MaxCurrent, FormatNumber(current))
}

func (c *Client) SetOfferedPower(power float64) error {
	return c.publish(c.config.MQTT.Topics.OfferedPower, FormatNumber(power))
}

func (c *Client) SetActualPower(power float64) error {
	return c.publish(c.config.MQTT.Topics.ActualPower, FormatNumber(power))
}

func (c *Client) SetChargerEnabled(enabled bool) error {
	return c.publish(c.config.MQTT.Topics.EnableChargerSet, FormatBool(enabled))
}

func (c *Client) ResetStaticPower() error {
	return c.publish(c.config.MQTT.Topics.StaticPowerSet, "0")
}

func (c *Client) Reconfigure() error {
	return c.publish(c.config.MQTT.Topics.Reconfigure, strconv.FormatInt(time.Now().Unix(), 10))
}
