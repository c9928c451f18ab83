// Package events publishes automation dispatch outcomes to RabbitMQ.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"whatsapp-automation/internal/logging"
	"whatsapp-automation/internal/models"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

const publishTimeout = 5 * time.Second

// channel is the subset of *amqp.Channel the publisher needs
type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// DispatchEvent is the message body published for every written automation log
type DispatchEvent struct {
	Event          string                `json:"event"`
	LogID          string                `json:"log_id"`
	WorkspaceID    string                `json:"workspace_id"`
	AutomationID   string                `json:"automation_id"`
	TriggerType    models.TriggerType    `json:"trigger_type"`
	Status         models.LogStatus      `json:"status"`
	ContactID      *string               `json:"contact_id,omitempty"`
	ConversationID *string               `json:"conversation_id,omitempty"`
	Actions        []models.ActionResult `json:"actions"`
	Error          string                `json:"error,omitempty"`
	OccurredAt     time.Time             `json:"occurred_at"`
}

// Publisher sends dispatch outcomes to a durable queue
type Publisher struct {
	conn    *amqp.Connection
	channel channel
	queue   string
	log     *logrus.Entry
}

// NewPublisher dials RabbitMQ and declares the durable queue
func NewPublisher(url, queue string) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	_, err = ch.QueueDeclare(
		queue, // name
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare queue: %w", err)
	}

	p := newPublisher(ch, queue)
	p.conn = conn
	p.log.WithField("queue", queue).Info("RabbitMQ publisher initialized")
	return p, nil
}

func newPublisher(ch channel, queue string) *Publisher {
	return &Publisher{channel: ch, queue: queue, log: logging.Component("events")}
}

// NotifyDispatch publishes the log. Failures are logged and never reach the caller.
func (p *Publisher) NotifyDispatch(entry *models.AutomationLog) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	if err := p.Publish(ctx, NewDispatchEvent(entry)); err != nil {
		p.log.WithError(err).WithField("automation_id", entry.AutomationID).Warn("Failed to publish dispatch event")
	}
}

// Publish sends one event to the queue
func (p *Publisher) Publish(ctx context.Context, ev DispatchEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	err = p.channel.PublishWithContext(ctx,
		"",      // exchange
		p.queue, // routing key
		false,   // mandatory
		false,   // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    ev.LogID,
			Type:         ev.Event,
			Timestamp:    ev.OccurredAt,
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}
	return nil
}

func NewDispatchEvent(entry *models.AutomationLog) DispatchEvent {
	occurred := entry.CreatedAt
	if occurred.IsZero() {
		occurred = time.Now().UTC()
	}
	return DispatchEvent{
		Event:          "automation.dispatched",
		LogID:          entry.ID,
		WorkspaceID:    entry.WorkspaceID,
		AutomationID:   entry.AutomationID,
		TriggerType:    entry.TriggerType,
		Status:         entry.Status,
		ContactID:      entry.ContactID,
		ConversationID: entry.ConversationID,
		Actions:        entry.ActionsExecuted,
		Error:          entry.ErrorMessage,
		OccurredAt:     occurred,
	}
}

// Close closes the channel and connection
func (p *Publisher) Close() error {
	if p.channel != nil {
		if err := p.channel.Close(); err != nil {
			p.log.WithError(err).Warn("Error closing channel")
		}
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
