package location

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"backend-stridetrack/internal/recorder"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"
)

const mqttTimeout = 5 * time.Second

// MQTTClient is the part of mqtt.Client used to follow a device topic.
type MQTTClient interface {
	IsConnected() bool
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
	Unsubscribe(topics ...string) mqtt.Token
}

// MQTTSource follows the location topic of one device.
type MQTTSource struct {
	client MQTTClient
	topic  string
	qos    byte
	log    logrus.FieldLogger

	mu     sync.Mutex
	active *mqttSubscription
}

func NewMQTTSource(client MQTTClient, topic string, log logrus.FieldLogger) *MQTTSource {
	return &MQTTSource{
		client: client,
		topic:  topic,
		qos:    1,
		log:    log.WithField("topic", topic),
	}
}

func (m *MQTTSource) Subscribe(onSample func(recorder.Sample), onError func(error)) (recorder.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active != nil {
		return nil, fmt.Errorf("%w: %s already followed", recorder.ErrLocationUnavailable, m.topic)
	}
	if m.client == nil || !m.client.IsConnected() {
		return nil, fmt.Errorf("%w: mqtt not connected", recorder.ErrLocationUnavailable)
	}

	sub := &mqttSubscription{source: m, onSample: onSample, onError: onError}
	token := m.client.Subscribe(m.topic, m.qos, sub.handle)
	if !token.WaitTimeout(mqttTimeout) {
		return nil, fmt.Errorf("%w: subscribe %s timed out", recorder.ErrLocationUnavailable, m.topic)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: subscribe %s: %w", recorder.ErrLocationUnavailable, m.topic, err)
	}

	m.active = sub
	m.log.Info("following device location")
	return sub, nil
}

type mqttSubscription struct {
	source   *MQTTSource
	onSample func(recorder.Sample)
	onError  func(error)

	mu     sync.Mutex
	closed bool
}

func (s *mqttSubscription) handle(_ mqtt.Client, msg mqtt.Message) {
	s.deliver(msg.Payload())
}

func (s *mqttSubscription) deliver(payload []byte) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return
	}

	f, err := DecodeFix(payload)
	if err == nil {
		err = dispatch(f, s.onSample, s.onError)
	}
	if err != nil {
		s.source.log.WithField("error", err).Warn("dropping location payload")
	}
}

// Unsubscribe does not wait for the broker; paho may still be delivering to
// this subscription while it runs.
func (s *mqttSubscription) Unsubscribe() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	m := s.source
	m.mu.Lock()
	if m.active == s {
		m.active = nil
	}
	m.mu.Unlock()

	if !m.client.IsConnected() {
		return
	}
	token := m.client.Unsubscribe(m.topic)
	go func() {
		if !token.WaitTimeout(mqttTimeout) {
			m.log.Warn("mqtt unsubscribe timed out")
			return
		}
		if err := token.Error(); err != nil {
			m.log.WithField("error", err).Warn("mqtt unsubscribe failed")
		}
	}()
}

// ConnectMQTT connects to the broker. An empty broker disables MQTT and
// returns a nil client.
func ConnectMQTT(broker, clientID string, log logrus.FieldLogger) (mqtt.Client, error) {
	if broker == "" {
		return nil, nil
	}
	if !strings.Contains(broker, "://") {
		broker = "tcp://" + broker
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.OnConnect = func(mqtt.Client) {
		log.WithField("broker", broker).Info("mqtt connected")
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		log.WithFields(logrus.Fields{"broker": broker, "error": err}).Warn("mqtt connection lost, reconnecting")
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(mqttTimeout) {
		return nil, errors.New("mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connection failed: %w", err)
	}
	return client, nil
}
