package mqtt

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	paho_mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/anicoll/homie-bridge/internal/pkg/config"
	"github.com/anicoll/homie-bridge/internal/pkg/discovery"
)

var ErrTimeout = errors.New("mqtt operation timed out")

type subscription struct {
	qos     byte
	handler paho_mqtt.MessageHandler
}

// Service adapts a paho client to the publish/subscribe transport used by the
// discovery engine. Subscriptions are restored after a reconnect.
type Service struct {
	client  paho_mqtt.Client
	timeout time.Duration
	logger  *zap.Logger

	mu   sync.Mutex
	subs map[string]subscription
}

func New(client paho_mqtt.Client) *Service {
	return &Service{
		client:  client,
		timeout: 5 * time.Second,
		logger:  zap.L(),
		subs:    make(map[string]subscription),
	}
}

// Dial builds a client from cfg and connects it.
func Dial(cfg config.MQTTConfig) (*Service, error) {
	s := New(nil)
	if cfg.ConnectTimeout > 0 {
		s.timeout = cfg.ConnectTimeout
	}
	opts := NewClientOptions(cfg).
		SetOnConnectHandler(func(paho_mqtt.Client) { s.resubscribe() }).
		SetConnectionLostHandler(func(_ paho_mqtt.Client, err error) {
			s.logger.Warn("mqtt connection lost", zap.Error(err))
		})
	s.client = paho_mqtt.NewClient(opts)
	if err := s.Connect(); err != nil {
		return nil, err
	}
	return s, nil
}

func NewClientOptions(cfg config.MQTTConfig) *paho_mqtt.ClientOptions {
	opts := paho_mqtt.NewClientOptions().
		AddBroker(BrokerURL(cfg.Host)).
		SetClientID(cfg.ClientID).
		SetUsername(cfg.Username).
		SetPassword(cfg.Password).
		SetOrderMatters(true).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetKeepAlive(30 * time.Second)
	if cfg.ConnectTimeout > 0 {
		opts.SetConnectTimeout(cfg.ConnectTimeout)
	}
	return opts
}

// BrokerURL adds the default scheme and port to a bare host name.
func BrokerURL(host string) string {
	if !strings.Contains(host, "://") {
		host = "tcp://" + host
	}
	if i := strings.LastIndex(host, ":"); i <= strings.Index(host, "://") {
		host += ":1883"
	}
	return host
}

func (s *Service) Connect() error {
	if err := wait(s.client.Connect(), s.timeout); err != nil {
		return fmt.Errorf("unable to connect: %w", err)
	}
	s.logger.Info("connected to mqtt broker")
	return nil
}

func (s *Service) Disconnect() {
	s.client.Disconnect(250)
}

func (s *Service) Publish(topic string, payload []byte, qos byte, retain bool) error {
	if err := wait(s.client.Publish(topic, qos, retain, payload), s.timeout); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// Subscribe delivers every publication matching filter to handler on the client's
// router goroutine.
func (s *Service) Subscribe(filter string, qos byte, handler discovery.MessageHandler) (func() error, error) {
	sub := subscription{
		qos: qos,
		handler: func(_ paho_mqtt.Client, m paho_mqtt.Message) {
			handler(m.Topic(), m.Payload())
		},
	}
	if err := wait(s.client.Subscribe(filter, qos, sub.handler), s.timeout); err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", filter, err)
	}
	s.mu.Lock()
	s.subs[filter] = sub
	s.mu.Unlock()
	s.logger.Debug("subscribed", zap.String("filter", filter), zap.Uint8("qos", qos))

	return func() error {
		s.mu.Lock()
		delete(s.subs, filter)
		s.mu.Unlock()
		if err := wait(s.client.Unsubscribe(filter), s.timeout); err != nil {
			return fmt.Errorf("unsubscribe %s: %w", filter, err)
		}
		return nil
	}, nil
}

// resubscribe runs on the paho connect callback and must not wait on tokens.
func (s *Service) resubscribe() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for filter, sub := range s.subs {
		s.client.Subscribe(filter, sub.qos, sub.handler)
		s.logger.Info("restored subscription", zap.String("filter", filter))
	}
}

func wait(token paho_mqtt.Token, timeout time.Duration) error {
	if !token.WaitTimeout(timeout) {
		return ErrTimeout
	}
	return token.Error()
}
