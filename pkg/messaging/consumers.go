package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/symbiote-h2020/SubscriptionManager/pkg/metrics"
	"github.com/symbiote-h2020/SubscriptionManager/pkg/model"
)

// Event type labels used for logging and metrics.
const (
	eventFederationCreated = "federation.created"
	eventFederationChanged = "federation.changed"
	eventFederationDeleted = "federation.deleted"
	eventResourcesAdded    = "resources.addedOrUpdated"
	eventResourcesDeleted  = "resources.deleted"
)

// Tracker is the membership tracker surface the consumers drive.
type Tracker interface {
	FederationCreated(ctx context.Context, fed *model.Federation) error
	FederationChanged(ctx context.Context, fed *model.Federation) error
	FederationDeleted(ctx context.Context, federationID string) error
}

// Engine is the fan-out engine surface the consumers drive.
type Engine interface {
	HandleResourcesAddedOrUpdated(ctx context.Context, msg *model.ResourcesAddedOrUpdated) error
	HandleResourcesDeleted(ctx context.Context, msg *model.ResourcesDeleted) error
}

// poisonError marks failures that redelivery can never fix: the event is
// acknowledged and dropped instead of requeued.
type poisonError struct{ err error }

func (p *poisonError) Error() string { return p.err.Error() }
func (p *poisonError) Unwrap() error { return p.err }

func poison(err error) error { return &poisonError{err: err} }

// Consumers binds the typed event handlers to their queues.
type Consumers struct {
	rabbit  *RabbitManager
	tracker Tracker
	engine  Engine
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewConsumers wires the consumers onto a connected RabbitManager.
func NewConsumers(rabbit *RabbitManager, tracker Tracker, engine Engine, m *metrics.Metrics, logger *zap.Logger) *Consumers {
	return &Consumers{
		rabbit:  rabbit,
		tracker: tracker,
		engine:  engine,
		metrics: m,
		logger:  logger.Named("consumers"),
	}
}

// Start declares queues, binds them and launches one consume loop per
// queue. Each queue has a single consumer, so events on it are processed
// in order; different queues run in parallel.
func (c *Consumers) Start(ctx context.Context) error {
	bindings := []struct {
		queue     string // empty means server-named
		exchange  string
		key       string
		eventType string
		handle    func(context.Context, []byte) error
	}{
		{"", c.rabbit.cfg.FederationExchange, c.rabbit.cfg.FederationCreatedKey, eventFederationCreated, c.handleFederationCreated},
		{"", c.rabbit.cfg.FederationExchange, c.rabbit.cfg.FederationChangedKey, eventFederationChanged, c.handleFederationChanged},
		{"", c.rabbit.cfg.FederationExchange, c.rabbit.cfg.FederationDeletedKey, eventFederationDeleted, c.handleFederationDeleted},
		{c.rabbit.cfg.AddOrUpdateQueue, c.rabbit.cfg.SubscriptionManagerExchange, c.rabbit.cfg.AddOrUpdateKey, eventResourcesAdded, c.handleResourcesAdded},
		{c.rabbit.cfg.RemoveQueue, c.rabbit.cfg.SubscriptionManagerExchange, c.rabbit.cfg.RemoveKey, eventResourcesDeleted, c.handleResourcesDeleted},
	}

	for _, b := range bindings {
		queue, err := c.rabbit.ch.QueueDeclare(b.queue, false, b.queue == "", b.queue == "", false, nil)
		if err != nil {
			return fmt.Errorf("declare queue for %s: %w", b.eventType, err)
		}
		if err := c.rabbit.ch.QueueBind(queue.Name, b.key, b.exchange, false, nil); err != nil {
			return fmt.Errorf("bind queue %s: %w", queue.Name, err)
		}
		deliveries, err := c.rabbit.ch.Consume(queue.Name, "", false, false, false, false, nil)
		if err != nil {
			return fmt.Errorf("consume queue %s: %w", queue.Name, err)
		}
		go c.loop(ctx, b.eventType, b.handle, deliveries)
		c.logger.Info("consumer started",
			zap.String("queue", queue.Name), zap.String("event", b.eventType))
	}
	return nil
}

func (c *Consumers) loop(ctx context.Context, eventType string, handle func(context.Context, []byte) error, deliveries <-chan amqp.Delivery) {
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-deliveries:
			if !ok {
				return
			}
			c.dispatch(ctx, eventType, handle, d)
		}
	}
}

// dispatch runs one handler and settles the delivery. Poison failures
// (undecodable payloads) and repeat failures are acknowledged and dropped;
// a first-time transient failure is requeued once via broker redelivery.
func (c *Consumers) dispatch(ctx context.Context, eventType string, handle func(context.Context, []byte) error, d amqp.Delivery) {
	if c.metrics != nil {
		c.metrics.EventsConsumed.WithLabelValues(eventType).Inc()
	}

	err := handle(ctx, d.Body)
	if err == nil {
		_ = d.Ack(false)
		return
	}

	if c.metrics != nil {
		c.metrics.EventFailures.WithLabelValues(eventType).Inc()
	}

	var p *poisonError
	if errors.As(err, &p) || d.Redelivered {
		c.logger.Warn("dropping event after failure",
			zap.String("event", eventType),
			zap.Bool("redelivered", d.Redelivered),
			zap.Error(err))
		_ = d.Ack(false)
		return
	}

	c.logger.Warn("requeueing event after transient failure",
		zap.String("event", eventType), zap.Error(err))
	_ = d.Nack(false, true)
}

func (c *Consumers) handleFederationCreated(ctx context.Context, body []byte) error {
	var fed model.Federation
	if err := json.Unmarshal(body, &fed); err != nil || fed.ID == "" {
		return poison(fmt.Errorf("decode federation: %v", err))
	}
	return c.tracker.FederationCreated(ctx, &fed)
}

func (c *Consumers) handleFederationChanged(ctx context.Context, body []byte) error {
	var fed model.Federation
	if err := json.Unmarshal(body, &fed); err != nil || fed.ID == "" {
		return poison(fmt.Errorf("decode federation: %v", err))
	}
	return c.tracker.FederationChanged(ctx, &fed)
}

// handleFederationDeleted accepts both a raw and a JSON-quoted federation
// id, which the federation manager has sent in both forms historically.
func (c *Consumers) handleFederationDeleted(ctx context.Context, body []byte) error {
	id := string(body)
	var quoted string
	if err := json.Unmarshal(body, &quoted); err == nil {
		id = quoted
	}
	if id == "" {
		return poison(errors.New("empty federation id"))
	}
	return c.tracker.FederationDeleted(ctx, id)
}

func (c *Consumers) handleResourcesAdded(ctx context.Context, body []byte) error {
	var msg model.ResourcesAddedOrUpdated
	if err := json.Unmarshal(body, &msg); err != nil {
		return poison(fmt.Errorf("decode resources message: %v", err))
	}
	return c.engine.HandleResourcesAddedOrUpdated(ctx, &msg)
}

func (c *Consumers) handleResourcesDeleted(ctx context.Context, body []byte) error {
	var msg model.ResourcesDeleted
	if err := json.Unmarshal(body, &msg); err != nil {
		return poison(fmt.Errorf("decode removal message: %v", err))
	}
	return c.engine.HandleResourcesDeleted(ctx, &msg)
}
