package mqtt

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m *fakeMessage) Duplicate() bool   { return false }
func (m *fakeMessage) Qos() byte         { return 1 }
func (m *fakeMessage) Retained() bool    { return false }
func (m *fakeMessage) Topic() string     { return m.topic }
func (m *fakeMessage) MessageID() uint16 { return 1 }
func (m *fakeMessage) Payload() []byte   { return m.payload }
func (m *fakeMessage) Ack()              {}

func newTestSubscriber(t *testing.T, h Handler) *Subscriber {
	t.Helper()
	s, err := NewSubscriber(&Subscription{
		Broker: "tcp://localhost:1883",
		Topics: []string{"minio/events"},
	}, h, zerolog.Nop())
	require.NoError(t, err)
	return s
}

func TestSubscriberDispatchesMessages(t *testing.T) {
	var mu sync.Mutex
	got := map[string]string{}
	done := make(chan struct{}, 3)

	s := newTestSubscriber(t, func(ctx context.Context, topic string, payload []byte) error {
		mu.Lock()
		got[string(payload)] = topic
		mu.Unlock()
		done <- struct{}{}
		if string(payload) == "bad" {
			return errors.New("unrecognized event payload")
		}
		return nil
	})
	s.startWorkers()
	defer s.stopWorkers()

	buf := []byte("one")
	s.onMessage(nil, &fakeMessage{topic: "minio/events", payload: buf})
	buf[0] = 'X' // payload is copied before queueing
	s.onMessage(nil, &fakeMessage{topic: "minio/events", payload: []byte("two")})
	s.onMessage(nil, &fakeMessage{topic: "minio/events", payload: []byte("bad")})

	for i := 0; i < 3; i++ {
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for handler")
		}
	}

	mu.Lock()
	assert.Equal(t, map[string]string{"one": "minio/events", "two": "minio/events", "bad": "minio/events"}, got)
	mu.Unlock()

	assert.Eventually(t, func() bool { return s.GetStats().MessagesFailed == 1 }, time.Second, 10*time.Millisecond)
	stats := s.GetStats()
	assert.Equal(t, int64(3), stats.MessagesReceived)
	assert.Equal(t, int64(9), stats.BytesReceived)
	assert.False(t, stats.LastMessageAt.IsZero())
}

func TestSubscriberStopUnblocksQueue(t *testing.T) {
	block := make(chan struct{})
	s := newTestSubscriber(t, func(ctx context.Context, topic string, payload []byte) error {
		select {
		case <-block:
		case <-ctx.Done():
		}
		return ctx.Err()
	})
	s.config.Workers, s.config.QueueSize = 1, 1
	s.startWorkers()

	// one in flight, one queued, the third blocks until shutdown
	s.onMessage(nil, &fakeMessage{payload: []byte("a")})
	s.onMessage(nil, &fakeMessage{payload: []byte("b")})
	sent := make(chan struct{})
	go func() {
		s.onMessage(nil, &fakeMessage{payload: []byte("c")})
		close(sent)
	}()

	s.stopWorkers()
	select {
	case <-sent:
	case <-time.After(5 * time.Second):
		t.Fatal("onMessage still blocked after stop")
	}
	close(block)
}

func TestNewSubscriberValidates(t *testing.T) {
	_, err := NewSubscriber(&Subscription{Broker: "http://x"}, func(context.Context, string, []byte) error { return nil }, zerolog.Nop())
	assert.Error(t, err)

	_, err = NewSubscriber(&Subscription{Broker: "tcp://x:1883", Topics: []string{"t"}}, nil, zerolog.Nop())
	assert.Error(t, err)

	s := newTestSubscriber(t, func(context.Context, string, []byte) error { return nil })
	assert.False(t, s.IsRunning())
	assert.Equal(t, StatusStopped, s.GetStats().Status)
	assert.NoError(t, s.Stop())
}
