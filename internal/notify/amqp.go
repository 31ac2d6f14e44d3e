package notify

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/streadway/amqp"
)

// AMQPSink publishes events to a RabbitMQ queue as JSON. Publishing is
// asynchronous; failures are logged and the event is dropped.
type AMQPSink struct {
	url    string
	queue  string
	logger *slog.Logger

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel

	events chan Event
	done   chan struct{}
}

// NewAMQPSink connects to the broker and declares the queue
func NewAMQPSink(url, queue string, logger *slog.Logger) (*AMQPSink, error) {
	s := &AMQPSink{
		url:    url,
		queue:  queue,
		logger: logger.With("component", "notify_amqp"),
		events: make(chan Event, 256),
		done:   make(chan struct{}),
	}
	if err := s.connect(); err != nil {
		return nil, err
	}
	go s.publishLoop()
	return s, nil
}

func (s *AMQPSink) connect() error {
	conn, err := amqp.Dial(s.url)
	if err != nil {
		return fmt.Errorf("failed to connect to broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open channel: %w", err)
	}
	if _, err := ch.QueueDeclare(s.queue, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("failed to declare queue: %w", err)
	}

	s.mu.Lock()
	s.conn = conn
	s.ch = ch
	s.mu.Unlock()
	return nil
}

// Notify enqueues the event for publishing; drops it when the buffer
// is full.
func (s *AMQPSink) Notify(ev Event) {
	select {
	case s.events <- ev:
	default:
		s.logger.Warn("notification buffer full, event dropped",
			"kind", ev.Kind, "campaign_id", ev.CampaignID)
	}
}

func (s *AMQPSink) publishLoop() {
	for {
		select {
		case <-s.done:
			return
		case ev := <-s.events:
			if err := s.publish(ev); err != nil {
				s.logger.Warn("failed to publish notification",
					"kind", ev.Kind, "campaign_id", ev.CampaignID, "error", err)
				// one reconnect attempt, then give up on this event
				if err := s.connect(); err != nil {
					s.logger.Warn("broker reconnect failed", "error", err)
				}
			}
		}
	}
}

func (s *AMQPSink) publish(ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	s.mu.Lock()
	ch := s.ch
	s.mu.Unlock()
	if ch == nil {
		return fmt.Errorf("channel not open")
	}

	return ch.Publish(
		"",
		s.queue,
		false,
		false,
		amqp.Publishing{
			ContentType: "application/json",
			Body:        body,
		},
	)
}

// Close stops the publish loop and closes the connection
func (s *AMQPSink) Close() error {
	close(s.done)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ch != nil {
		s.ch.Close()
	}
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}
