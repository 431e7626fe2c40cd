package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/flybeeper/drone-sim/internal/models"
)

// TestConfig параметры тестового прогона через MQTT
type TestConfig struct {
	BrokerURL      string
	ClientID       string
	CommandTopic   string
	TelemetryTopic string
	Route          []models.Coordinate
	Clear          bool
	Start          bool
	Watch          time.Duration
	Delay          time.Duration
}

// TestPublisher отправляет команды симулятору и печатает телеметрию
type TestPublisher struct {
	client mqtt.Client
	config *TestConfig
	done   chan struct{}
}

type commandMessage struct {
	Action string   `json:"action"`
	Lat    *float64 `json:"lat,omitempty"`
	Lng    *float64 `json:"lng,omitempty"`
}

func main() {
	var (
		brokerURL      = flag.String("broker", "tcp://localhost:1883", "MQTT broker URL")
		clientID       = flag.String("client", "drone-sim-test-publisher", "MQTT client ID")
		commandTopic   = flag.String("cmd-topic", "drone/sim/cmd", "Command topic")
		telemetryTopic = flag.String("telemetry-topic", "drone/sim/telemetry", "Telemetry topic")
		routeStr       = flag.String("route", "18.5621,-68.4084;18.5610,-68.4020;18.5595,-68.3950;18.5579,-68.3884", "Route as lat,lng;lat,lng;...")
		clear          = flag.Bool("clear", true, "Send reset before uploading the route")
		start          = flag.Bool("start", true, "Send start after uploading the route")
		watch          = flag.Duration("watch", time.Minute, "How long to print telemetry (0 = until completed)")
		delay          = flag.Duration("delay", 50*time.Millisecond, "Delay between commands")
	)
	flag.Parse()

	route, err := parseRoute(*routeStr)
	if err != nil {
		log.Fatalf("Invalid route: %v", err)
	}

	config := &TestConfig{
		BrokerURL:      *brokerURL,
		ClientID:       *clientID,
		CommandTopic:   *commandTopic,
		TelemetryTopic: *telemetryTopic,
		Route:          route,
		Clear:          *clear,
		Start:          *start,
		Watch:          *watch,
		Delay:          *delay,
	}

	publisher, err := NewTestPublisher(config)
	if err != nil {
		log.Fatalf("Failed to create publisher: %v", err)
	}
	defer publisher.Stop()

	if err := publisher.Run(); err != nil {
		log.Fatalf("Failed to send commands: %v", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	var timeout <-chan time.Time
	if config.Watch > 0 {
		timeout = time.After(config.Watch)
	}

	select {
	case <-publisher.done:
		log.Println("Run completed")
	case <-timeout:
		log.Println("Watch period elapsed")
	case <-sigChan:
		log.Println("Interrupted")
	}
}

// NewTestPublisher подключается к брокеру и подписывается на телеметрию
func NewTestPublisher(config *TestConfig) (*TestPublisher, error) {
	p := &TestPublisher{
		config: config,
		done:   make(chan struct{}),
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(config.BrokerURL)
	opts.SetClientID(config.ClientID)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(10 * time.Second)

	p.client = mqtt.NewClient(opts)
	token := p.client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("connect timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	sub := p.client.Subscribe(config.TelemetryTopic, 0, p.onTelemetry)
	if sub.Wait() && sub.Error() != nil {
		return nil, fmt.Errorf("failed to subscribe: %w", sub.Error())
	}

	log.Printf("Connected to %s, watching %s", config.BrokerURL, config.TelemetryTopic)
	return p, nil
}

// Run отправляет маршрут и команды управления
func (p *TestPublisher) Run() error {
	if p.config.Clear {
		if err := p.publish(commandMessage{Action: "reset"}); err != nil {
			return err
		}
	}

	for i := range p.config.Route {
		point := p.config.Route[i]
		if err := p.publish(commandMessage{Action: "append", Lat: &point.Latitude, Lng: &point.Longitude}); err != nil {
			return err
		}
	}
	log.Printf("Uploaded %d waypoints", len(p.config.Route))

	if p.config.Start {
		return p.publish(commandMessage{Action: "start"})
	}
	return nil
}

// Stop отключается от брокера
func (p *TestPublisher) Stop() {
	if p.client != nil && p.client.IsConnected() {
		p.client.Disconnect(250)
	}
}

func (p *TestPublisher) publish(cmd commandMessage) error {
	payload, err := json.Marshal(cmd)
	if err != nil {
		return err
	}

	token := p.client.Publish(p.config.CommandTopic, 1, false, payload)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("publish %s: timeout", cmd.Action)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", cmd.Action, err)
	}

	time.Sleep(p.config.Delay)
	return nil
}

func (p *TestPublisher) onTelemetry(_ mqtt.Client, msg mqtt.Message) {
	var point models.Telemetry
	if err := json.Unmarshal(msg.Payload(), &point); err != nil {
		log.Printf("Bad telemetry payload: %v", err)
		return
	}

	log.Printf("seq=%d run=%s status=%s index=%d pos=%.6f,%.6f geohash=%s",
		point.Sequence, shortID(point.RunID), point.Status, point.Index,
		point.Latitude, point.Longitude, point.Geohash)

	if point.Status == models.StatusCompleted {
		select {
		case <-p.done:
		default:
			close(p.done)
		}
	}
}

// parseRoute разбирает "lat,lng;lat,lng"
func parseRoute(s string) ([]models.Coordinate, error) {
	var route []models.Coordinate
	for _, pair := range strings.Split(s, ";") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		parts := strings.Split(pair, ",")
		if len(parts) != 2 {
			return nil, fmt.Errorf("expected lat,lng, got %q", pair)
		}
		lat, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
		if err != nil {
			return nil, fmt.Errorf("latitude %q: %w", parts[0], err)
		}
		lng, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
		if err != nil {
			return nil, fmt.Errorf("longitude %q: %w", parts[1], err)
		}
		c := models.Coordinate{Latitude: lat, Longitude: lng}
		if err := c.Validate(); err != nil {
			return nil, err
		}
		route = append(route, c)
	}
	return route, nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
