package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/asnowfix/deco/pkg/retry"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/go-logr/logr"
	"github.com/google/uuid"
)

const DefaultMqttPort = 1883

// MQTTSink publishes each reading to <topic>/<device name>.
type MQTTSink struct {
	client  mqtt.Client
	topic   string
	timeout time.Duration
	log     logr.Logger
}

// BrokerURL accepts host, host:port or a full tcp:// URL.
func BrokerURL(broker string) (*url.URL, error) {
	if strings.Contains(broker, "://") {
		return url.Parse(broker)
	}
	host, port := broker, strconv.Itoa(DefaultMqttPort)
	if h, p, err := net.SplitHostPort(broker); err == nil {
		host, port = h, p
	}
	if host == "" {
		return nil, fmt.Errorf("no MQTT broker host in %q", broker)
	}
	return &url.URL{Scheme: "tcp", Host: net.JoinHostPort(host, port)}, nil
}

func NewMQTTSink(log logr.Logger, broker, topic string, timeout time.Duration) (*MQTTSink, error) {
	u, err := BrokerURL(broker)
	if err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	clientId := "deco-" + uuid.NewString()[:8]

	opts := mqtt.NewClientOptions()
	opts.AddBroker(u.String())
	opts.SetClientID(clientId)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectTimeout(timeout)

	s := &MQTTSink{
		client:  mqtt.NewClient(opts),
		topic:   strings.TrimSuffix(topic, "/"),
		timeout: timeout,
		log:     log.WithName("MQTTSink"),
	}
	s.log.Info("MQTT client initialized", "client_id", clientId, "broker", u.String())
	return s, nil
}

func (s *MQTTSink) Name() string { return "mqtt" }

func (s *MQTTSink) connect() error {
	if s.client.IsConnected() {
		return nil
	}
	token := s.client.Connect()
	if !token.WaitTimeout(s.timeout) {
		return retry.Transient(fmt.Errorf("timeout connecting to MQTT broker"))
	}
	if err := token.Error(); err != nil {
		return retry.Transient(err)
	}
	s.log.Info("MQTT client connected")
	return nil
}

// Topic is where the readings of the named device go.
func (s *MQTTSink) Topic(name string) string {
	return s.topic + "/" + name
}

func (s *MQTTSink) Send(ctx context.Context, r Reading) error {
	msg, err := json.Marshal(r)
	if err != nil {
		return retry.Terminal(fmt.Errorf("encoding reading of %s: %w", r.Name, err))
	}
	if err := s.connect(); err != nil {
		return err
	}

	topic := s.Topic(r.Name)
	token := s.client.Publish(topic, 1 /*qos:at-least-once*/, false /*retain*/, msg)
	select {
	case <-ctx.Done():
		return retry.Transient(ctx.Err())
	case <-token.Done():
	}
	if err := token.Error(); err != nil {
		return retry.Transient(err)
	}
	s.log.V(1).Info("Published", "topic", topic, "size", len(msg))
	return nil
}

func (s *MQTTSink) Close() error {
	s.client.Disconnect(250)
	return nil
}
