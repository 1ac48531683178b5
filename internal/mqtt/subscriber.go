// Package mqtt subscribes to storage event notifications over MQTT (as
// published by MinIO bucket notifications or a bridge) and hands each
// message to a handler, usually the pipeline's event entry point.
package mqtt

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

// Handler processes one notification payload.
type Handler func(ctx context.Context, topic string, payload []byte) error

type message struct {
	topic   string
	payload []byte
}

// Subscriber handles the MQTT connection and dispatches notifications to a
// bounded worker pool.
type Subscriber struct {
	config  *Subscription
	client  pahomqtt.Client
	handler Handler
	logger  zerolog.Logger
	queue   chan message

	mu             sync.RWMutex
	running        bool
	status         SubscriptionStatus
	lastError      string
	connectedSince time.Time
	lastMessageAt  time.Time

	messagesReceived atomic.Int64
	messagesFailed   atomic.Int64
	bytesReceived    atomic.Int64
	reconnects       atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSubscriber creates a subscriber. config gets its defaults applied.
func NewSubscriber(config *Subscription, handler Handler, logger zerolog.Logger) (*Subscriber, error) {
	if handler == nil {
		return nil, errors.New("mqtt: handler is required")
	}
	config.SetDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Subscriber{
		config:  config,
		handler: handler,
		status:  StatusStopped,
		logger:  logger.With().Str("component", "mqtt").Str("client_id", config.ClientID).Logger(),
	}, nil
}

// Start connects to the broker and starts the workers.
func (s *Subscriber) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("subscriber already running")
	}
	s.mu.Unlock()

	opts, err := s.buildClientOptions()
	if err != nil {
		return fmt.Errorf("failed to build client options: %w", err)
	}
	s.startWorkers()

	s.client = pahomqtt.NewClient(opts)
	s.logger.Info().Str("broker", s.config.Broker).Strs("topics", s.config.Topics).Msg("Connecting to MQTT broker")

	token := s.client.Connect()
	if !token.WaitTimeout(time.Duration(s.config.ConnectTimeoutSeconds) * time.Second) {
		s.stopWorkers()
		s.setStatus(StatusError, "connection timeout")
		return fmt.Errorf("connection timeout after %d seconds", s.config.ConnectTimeoutSeconds)
	}
	if err := token.Error(); err != nil {
		s.stopWorkers()
		s.setStatus(StatusError, err.Error())
		return fmt.Errorf("connection failed: %w", err)
	}

	s.mu.Lock()
	s.running = true
	s.connectedSince = time.Now()
	s.mu.Unlock()
	s.setStatus(StatusRunning, "")

	s.logger.Info().Msg("Connected to MQTT broker")
	return nil
}

// Stop disconnects and waits for in-flight notifications. Queued
// notifications that no worker picked up are dropped.
func (s *Subscriber) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	if s.client != nil && s.client.IsConnected() {
		for _, topic := range s.config.Topics {
			s.client.Unsubscribe(topic)
		}
		s.client.Disconnect(1000)
	}
	s.stopWorkers()

	s.setStatus(StatusStopped, "")
	s.logger.Info().Msg("Disconnected from MQTT broker")
	return nil
}

func (s *Subscriber) startWorkers() {
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.queue = make(chan message, s.config.QueueSize)
	for i := 0; i < s.config.Workers; i++ {
		s.wg.Add(1)
		go s.worker()
	}
}

func (s *Subscriber) stopWorkers() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	s.wg.Wait()
	if dropped := len(s.queue); dropped > 0 {
		s.logger.Warn().Int("dropped", dropped).Msg("Dropped queued notifications on shutdown")
	}
}

func (s *Subscriber) worker() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case msg := <-s.queue:
			s.handle(msg)
		}
	}
}

func (s *Subscriber) handle(msg message) {
	if err := s.handler(s.ctx, msg.topic, msg.payload); err != nil {
		s.messagesFailed.Add(1)
		s.logger.Error().
			Err(err).
			Str("topic", msg.topic).
			Int("payload_size", len(msg.payload)).
			Msg("Failed to process notification")
	}
}

// IsRunning returns whether the subscriber is running
func (s *Subscriber) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// GetStats returns current statistics
func (s *Subscriber) GetStats() SubscriptionStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return SubscriptionStats{
		Status:           s.status,
		Error:            s.lastError,
		MessagesReceived: s.messagesReceived.Load(),
		MessagesFailed:   s.messagesFailed.Load(),
		BytesReceived:    s.bytesReceived.Load(),
		Queued:           len(s.queue),
		LastMessageAt:    s.lastMessageAt,
		ConnectedSince:   s.connectedSince,
		Reconnects:       s.reconnects.Load(),
	}
}

func (s *Subscriber) setStatus(status SubscriptionStatus, errMsg string) {
	s.mu.Lock()
	s.status, s.lastError = status, errMsg
	s.mu.Unlock()
}

func (s *Subscriber) buildClientOptions() (*pahomqtt.ClientOptions, error) {
	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(s.config.Broker)
	opts.SetClientID(s.config.ClientID)

	opts.SetKeepAlive(time.Duration(s.config.KeepAliveSeconds) * time.Second)
	opts.SetConnectTimeout(time.Duration(s.config.ConnectTimeoutSeconds) * time.Second)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(time.Duration(s.config.ReconnectMaxSeconds) * time.Second)
	// handlers run on their own goroutines and block on the queue
	opts.SetOrderMatters(false)

	if s.config.Username != "" {
		opts.SetUsername(s.config.Username)
	}
	if s.config.Password != "" {
		opts.SetPassword(s.config.Password)
	}

	if s.config.TLSEnabled {
		tlsConfig, err := s.buildTLSConfig()
		if err != nil {
			return nil, fmt.Errorf("failed to build TLS config: %w", err)
		}
		opts.SetTLSConfig(tlsConfig)
	}

	opts.SetOnConnectHandler(s.onConnect)
	opts.SetConnectionLostHandler(s.onConnectionLost)
	opts.SetReconnectingHandler(s.onReconnecting)
	// persistent session so QoS 1 notifications survive reconnects
	opts.SetCleanSession(false)

	return opts, nil
}

func (s *Subscriber) buildTLSConfig() (*tls.Config, error) {
	tlsConfig := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: s.config.TLSInsecureSkipVerify,
	}

	if s.config.TLSCAPath != "" {
		caCert, err := os.ReadFile(s.config.TLSCAPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA certificate: %w", err)
		}
		caCertPool := x509.NewCertPool()
		if !caCertPool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("failed to parse CA certificate")
		}
		tlsConfig.RootCAs = caCertPool
	}

	if s.config.TLSCertPath != "" && s.config.TLSKeyPath != "" {
		cert, err := tls.LoadX509KeyPair(s.config.TLSCertPath, s.config.TLSKeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}
	return tlsConfig, nil
}

func (s *Subscriber) onConnect(client pahomqtt.Client) {
	for _, topic := range s.config.Topics {
		token := client.Subscribe(topic, byte(s.config.QoS), s.onMessage)
		token.Wait()
		if err := token.Error(); err != nil {
			s.logger.Error().Err(err).Str("topic", topic).Msg("Failed to subscribe to topic")
			continue
		}
		s.logger.Info().Str("topic", topic).Int("qos", s.config.QoS).Msg("Subscribed to topic")
	}

	s.mu.Lock()
	s.connectedSince = time.Now()
	s.mu.Unlock()
	s.setStatus(StatusRunning, "")
}

func (s *Subscriber) onConnectionLost(client pahomqtt.Client, err error) {
	s.logger.Warn().Err(err).Msg("MQTT connection lost")
	s.setStatus(StatusError, err.Error())
}

func (s *Subscriber) onReconnecting(client pahomqtt.Client, opts *pahomqtt.ClientOptions) {
	s.reconnects.Add(1)
	s.logger.Info().Int64("reconnect_count", s.reconnects.Load()).Msg("Attempting to reconnect to MQTT broker")
}

// onMessage queues a notification, blocking while the queue is full.
func (s *Subscriber) onMessage(client pahomqtt.Client, msg pahomqtt.Message) {
	payload := msg.Payload()
	s.messagesReceived.Add(1)
	s.bytesReceived.Add(int64(len(payload)))

	s.mu.Lock()
	s.lastMessageAt = time.Now()
	s.mu.Unlock()

	m := message{topic: msg.Topic(), payload: append([]byte(nil), payload...)}
	select {
	case s.queue <- m:
	case <-s.ctx.Done():
		s.messagesFailed.Add(1)
	}
}
