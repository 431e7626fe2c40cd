package mqtt

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/flybeeper/drone-sim/internal/config"
	"github.com/flybeeper/drone-sim/internal/metrics"
	"github.com/flybeeper/drone-sim/internal/models"
	"github.com/flybeeper/drone-sim/pkg/utils"
)

// ErrNotConnected клиент не подключен к брокеру
var ErrNotConnected = errors.New("MQTT client is not connected")

// Client MQTT клиент: публикует телеметрию и принимает команды управления
type Client struct {
	client    mqtt.Client
	config    *config.MQTTConfig
	logger    *utils.Logger
	handler   CommandHandler
	ctx       context.Context
	cancel    context.CancelFunc
	connected bool
	mu        sync.RWMutex
}

// CommandHandler обработчик входящих команд
type CommandHandler func(ctx context.Context, cmd *Command) error

// NewClient создает новый MQTT клиент
func NewClient(cfg *config.MQTTConfig, logger *utils.Logger, handler CommandHandler) (*Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	ctx, cancel := context.WithCancel(context.Background())

	c := &Client{
		config:  cfg,
		logger:  logger.WithField("component", "mqtt"),
		handler: handler,
		ctx:     ctx,
		cancel:  cancel,
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.URL)
	opts.SetClientID(cfg.ClientID)
	opts.SetCleanSession(cfg.CleanSession)
	// Команды применяются в порядке поступления
	opts.SetOrderMatters(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}

	opts.SetOnConnectHandler(func(client mqtt.Client) {
		c.setConnected(true)
		c.logger.WithField("broker", cfg.URL).Info("Connected to MQTT broker")

		// Подписка восстанавливается после каждого переподключения
		if cfg.CommandTopic == "" {
			return
		}
		if token := client.Subscribe(cfg.CommandTopic, byte(cfg.QoS), c.messageHandler()); token.Wait() && token.Error() != nil {
			c.logger.WithFields(map[string]interface{}{
				"topic": cfg.CommandTopic,
				"error": token.Error(),
			}).Error("Failed to subscribe to command topic")
		} else {
			c.logger.WithField("topic", cfg.CommandTopic).Info("Subscribed to MQTT command topic")
		}
	})

	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		c.setConnected(false)
		c.logger.WithField("error", err).Warn("Lost connection to MQTT broker")
	})

	c.client = mqtt.NewClient(opts)
	return c, nil
}

func (c *Client) setConnected(v bool) {
	c.mu.Lock()
	c.connected = v
	c.mu.Unlock()
	if v {
		metrics.MQTTConnectionStatus.Set(1)
	} else {
		metrics.MQTTConnectionStatus.Set(0)
	}
}

// Connect подключается к MQTT брокеру
func (c *Client) Connect() error {
	c.logger.WithField("broker", c.config.URL).Info("Connecting to MQTT broker")

	token := c.client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return fmt.Errorf("connection timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %w", err)
	}
	return nil
}

// Disconnect отключается от MQTT брокера
func (c *Client) Disconnect() {
	c.logger.Info("Disconnecting from MQTT broker")
	c.cancel()

	if c.client.IsConnected() {
		c.client.Disconnect(1000)
	}
	c.setConnected(false)
	c.logger.Info("MQTT client disconnected")
}

// IsConnected проверяет статус подключения
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected && c.client.IsConnected()
}

// PublishTelemetry публикует точку телеметрии в топик телеметрии
func (c *Client) PublishTelemetry(ctx context.Context, point *models.Telemetry) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	payload, err := EncodeTelemetry(point)
	if err != nil {
		return err
	}

	token := c.client.Publish(c.config.TelemetryTopic, byte(c.config.QoS), false, payload)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish telemetry: %w", err)
	}

	metrics.MQTTMessagesPublished.WithLabelValues("success").Inc()
	return nil
}

// messageHandler обрабатывает сообщения командного топика
func (c *Client) messageHandler() mqtt.MessageHandler {
	return func(client mqtt.Client, msg mqtt.Message) {
		c.HandlePayload(msg.Topic(), msg.Payload())
	}
}

// HandlePayload разбирает и выполняет команду
func (c *Client) HandlePayload(topic string, payload []byte) {
	c.logger.WithFields(map[string]interface{}{
		"topic":        topic,
		"payload_size": len(payload),
	}).Debug("Received MQTT message")

	cmd, err := ParseCommand(payload)
	if err != nil {
		c.logger.WithFields(map[string]interface{}{
			"topic": topic,
			"error": err,
		}).Warn("Failed to parse MQTT command")
		metrics.MQTTParseErrors.Inc()
		return
	}

	if c.handler == nil {
		c.logger.WithField("topic", topic).Warn("Command handler is nil")
		return
	}
	if err := c.handler(c.ctx, cmd); err != nil {
		c.logger.WithFields(map[string]interface{}{
			"action": cmd.Action,
			"error":  err,
		}).Error("Command handler failed")
		return
	}

	metrics.MQTTMessagesReceived.WithLabelValues(string(cmd.Action)).Inc()
	c.logger.WithField("action", cmd.Action).Debug("Applied MQTT command")
}

// GetStats возвращает статистику клиента
func (c *Client) GetStats() map[string]interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return map[string]interface{}{
		"connected":       c.connected,
		"client_id":       c.config.ClientID,
		"broker_url":      c.config.URL,
		"telemetry_topic": c.config.TelemetryTopic,
		"command_topic":   c.config.CommandTopic,
	}
}
