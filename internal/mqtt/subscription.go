package mqtt

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Validation limits
const (
	MaxTopics       = 100
	MaxTopicLength  = 1024
	MaxClientIDLen  = 255
	MaxBrokerURLLen = 2048
)

// SubscriptionStatus represents the current state of a subscription
type SubscriptionStatus string

const (
	StatusStopped SubscriptionStatus = "stopped"
	StatusRunning SubscriptionStatus = "running"
	StatusError   SubscriptionStatus = "error"
)

// Subscription configures the notification subscriber. Each message on
// Topics is a storage event notification naming objects to process.
type Subscription struct {
	Broker                string   `json:"broker"`
	ClientID              string   `json:"client_id"`
	Topics                []string `json:"topics"`
	QoS                   int      `json:"qos"`
	Username              string   `json:"username,omitempty"`
	Password              string   `json:"-"`
	TLSEnabled            bool     `json:"tls_enabled"`
	TLSCertPath           string   `json:"tls_cert_path,omitempty"`
	TLSKeyPath            string   `json:"tls_key_path,omitempty"`
	TLSCAPath             string   `json:"tls_ca_path,omitempty"`
	TLSInsecureSkipVerify bool     `json:"tls_insecure_skip_verify"`
	KeepAliveSeconds      int      `json:"keep_alive_seconds"`
	ConnectTimeoutSeconds int      `json:"connect_timeout_seconds"`
	ReconnectMaxSeconds   int      `json:"reconnect_max_seconds"`
	// Workers process queued notifications concurrently.
	Workers int `json:"workers"`
	// QueueSize bounds notifications waiting for a worker.
	QueueSize int `json:"queue_size"`
}

// SubscriptionStats contains runtime statistics for a subscription
type SubscriptionStats struct {
	Status           SubscriptionStatus `json:"status"`
	Error            string             `json:"error,omitempty"`
	MessagesReceived int64              `json:"messages_received"`
	MessagesFailed   int64              `json:"messages_failed"`
	BytesReceived    int64              `json:"bytes_received"`
	Queued           int                `json:"queued"`
	LastMessageAt    time.Time          `json:"last_message_at,omitempty"`
	ConnectedSince   time.Time          `json:"connected_since,omitempty"`
	Reconnects       int64              `json:"reconnects"`
}

// Validate validates the subscription configuration
func (s *Subscription) Validate() error {
	if s.Broker == "" {
		return errors.New("broker is required")
	}
	if len(s.Broker) > MaxBrokerURLLen {
		return fmt.Errorf("broker URL exceeds %d characters", MaxBrokerURLLen)
	}
	if err := validateBrokerURL(s.Broker); err != nil {
		return fmt.Errorf("invalid broker URL: %w", err)
	}

	if s.ClientID == "" {
		return errors.New("client_id is required")
	}
	if len(s.ClientID) > MaxClientIDLen {
		return fmt.Errorf("client_id exceeds %d characters", MaxClientIDLen)
	}

	if len(s.Topics) == 0 {
		return errors.New("at least one topic is required")
	}
	if len(s.Topics) > MaxTopics {
		return fmt.Errorf("maximum %d topics allowed", MaxTopics)
	}
	for _, topic := range s.Topics {
		if topic == "" {
			return errors.New("empty topic not allowed")
		}
		if len(topic) > MaxTopicLength {
			return fmt.Errorf("topic pattern exceeds %d characters", MaxTopicLength)
		}
	}

	if s.QoS < 0 || s.QoS > 2 {
		return errors.New("qos must be 0, 1, or 2")
	}

	for _, path := range []string{s.TLSCertPath, s.TLSKeyPath, s.TLSCAPath} {
		if path != "" && strings.Contains(path, "..") {
			return errors.New("path traversal not allowed in certificate paths")
		}
	}

	if s.KeepAliveSeconds < 0 || s.ConnectTimeoutSeconds < 0 || s.ReconnectMaxSeconds < 0 {
		return errors.New("timeouts cannot be negative")
	}
	if s.Workers < 0 || s.QueueSize < 0 {
		return errors.New("workers and queue_size cannot be negative")
	}
	return nil
}

// SetDefaults sets default values for optional fields
func (s *Subscription) SetDefaults() {
	if s.ClientID == "" {
		s.ClientID = generateClientID()
	}
	if s.QoS == 0 {
		s.QoS = 1 // at-least-once
	}
	if s.KeepAliveSeconds == 0 {
		s.KeepAliveSeconds = 60
	}
	if s.ConnectTimeoutSeconds == 0 {
		s.ConnectTimeoutSeconds = 30
	}
	if s.ReconnectMaxSeconds == 0 {
		s.ReconnectMaxSeconds = 60
	}
	if s.Workers == 0 {
		s.Workers = 2
	}
	if s.QueueSize == 0 {
		s.QueueSize = 256
	}
}

func generateClientID() string {
	b := make([]byte, 4)
	rand.Read(b)
	return "rowhouse-" + hex.EncodeToString(b)
}

// validateBrokerURL validates the MQTT broker URL format
func validateBrokerURL(brokerURL string) error {
	validSchemes := []string{"tcp://", "ssl://", "ws://", "wss://", "mqtt://", "mqtts://"}

	hasValidScheme := false
	for _, scheme := range validSchemes {
		if strings.HasPrefix(brokerURL, scheme) {
			hasValidScheme = true
			break
		}
	}
	if !hasValidScheme {
		return fmt.Errorf("must start with one of: %v", validSchemes)
	}

	parsed, err := url.Parse(brokerURL)
	if err != nil {
		return err
	}
	if parsed.Host == "" {
		return errors.New("host is required")
	}
	return nil
}
