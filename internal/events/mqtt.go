package events

import (
	"context"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/ecoscout/ecoscout-go/internal/conf"
	"github.com/ecoscout/ecoscout-go/internal/errors"
	"github.com/ecoscout/ecoscout-go/internal/logger"
	"github.com/ecoscout/ecoscout-go/internal/privacy"
)

const (
	mqttQoS               = 0
	mqttDisconnectQuiesce = 250 // milliseconds
	defaultMQTTTimeout    = 5 * time.Second
)

// MQTTSink publishes events as JSON to <topic>/analysis.
type MQTTSink struct {
	client  mqtt.Client
	topic   string
	timeout time.Duration
	broker  string
}

// NewMQTTSink connects to the configured broker. An unreachable broker is not
// an error: the client keeps retrying in the background and publishes fail
// until it connects.
func NewMQTTSink(cfg conf.MQTTSettings) (*MQTTSink, error) {
	if cfg.Broker == "" {
		return nil, errors.Newf("mqtt broker is not configured").
			Component("events").
			Category(errors.CategoryConfiguration).
			Build()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultMQTTTimeout
	}
	s := &MQTTSink{
		topic:   strings.TrimRight(cfg.Topic, "/") + "/analysis",
		timeout: timeout,
		broker:  privacy.RedactURL(cfg.Broker),
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectTimeout(timeout)
	opts.SetOnConnectHandler(s.onConnect)
	opts.SetConnectionLostHandler(s.onConnectionLost)
	s.client = mqtt.NewClient(opts)

	token := s.client.Connect()
	if !token.WaitTimeout(timeout) {
		GetLogger().Warn("mqtt broker not reachable yet, retrying in background",
			logger.String("broker", s.broker))
		return s, nil
	}
	if err := token.Error(); err != nil {
		return nil, errors.New(fmt.Errorf("mqtt connection error: %w", privacy.WrapError(err))).
			Component("events").
			Category(errors.CategoryNetwork).
			Context("broker", s.broker).
			Build()
	}
	return s, nil
}

func newMQTTSinkWithClient(client mqtt.Client, topic string, timeout time.Duration) *MQTTSink {
	return &MQTTSink{
		client:  client,
		topic:   strings.TrimRight(topic, "/") + "/analysis",
		timeout: timeout,
	}
}

// Name implements Sink.
func (s *MQTTSink) Name() string { return "mqtt" }

// Topic is the topic events are published to.
func (s *MQTTSink) Topic() string { return s.topic }

// Publish implements Sink.
func (s *MQTTSink) Publish(ctx context.Context, ev *AnalysisEvent) error {
	if !s.client.IsConnected() {
		return errors.Newf("not connected to mqtt broker").
			Component("events").
			Category(errors.CategoryNetwork).
			Build()
	}
	payload, err := ev.Payload()
	if err != nil {
		return err
	}

	token := s.client.Publish(s.topic, mqttQoS, false, payload)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(s.timeout):
		return errors.Newf("mqtt publish timed out after %s", s.timeout).
			Component("events").
			Category(errors.CategoryTimeout).
			Build()
	}
	return token.Error()
}

// Close disconnects from the broker.
func (s *MQTTSink) Close() error {
	if s.client.IsConnected() {
		s.client.Disconnect(mqttDisconnectQuiesce)
	}
	return nil
}

func (s *MQTTSink) onConnect(mqtt.Client) {
	GetLogger().Info("connected to mqtt broker", logger.String("broker", s.broker))
}

func (s *MQTTSink) onConnectionLost(_ mqtt.Client, err error) {
	GetLogger().Warn("mqtt connection lost", logger.String("broker", s.broker), logger.Error(err))
}
