package amqp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rabbitmq/amqp091-go"
)

// Circuit breaker states
const (
	StateClosed int32 = iota
	StateOpen
	StateHalfOpen
)

const (
	maxFailures    = 5
	openTimeout    = 30 * time.Second
	publishTimeout = 5 * time.Second
	maxBackoff     = 30 * time.Second
)

type Client struct {
	url          string
	exchangeName string
	queueName    string

	mu      sync.Mutex
	conn    *amqp091.Connection
	channel *amqp091.Channel

	state        int32
	failureCount int64
	lastFailure  time.Time
}

func NewClient(url, exchangeName, queueName string) (*Client, error) {
	client := &Client{
		url:          url,
		exchangeName: exchangeName,
		queueName:    queueName,
	}
	if err := client.connect(); err != nil {
		return nil, err
	}
	return client, nil
}

// connect dials and declares the topology. Callers must not hold c.mu.
func (c *Client) connect() error {
	conn, err := amqp091.Dial(c.url)
	if err != nil {
		return fmt.Errorf("dial AMQP: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}

	if err := setup(channel, c.exchangeName, c.queueName); err != nil {
		channel.Close()
		conn.Close()
		return fmt.Errorf("setup exchange and queue: %w", err)
	}

	c.mu.Lock()
	c.conn, c.channel = conn, channel
	c.mu.Unlock()
	return nil
}

func setup(ch *amqp091.Channel, exchangeName, queueName string) error {
	// Declare exchange
	err := ch.ExchangeDeclare(
		exchangeName, // name
		"direct",     // type
		true,         // durable
		false,        // auto-deleted
		false,        // internal
		false,        // no-wait
		nil,          // arguments
	)
	if err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}

	// Declare queue
	_, err = ch.QueueDeclare(
		queueName, // name
		true,      // durable
		false,     // delete when unused
		false,     // exclusive
		false,     // no-wait
		nil,       // arguments
	)
	if err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}

	// Routing key is the queue name on a direct exchange
	if err := ch.QueueBind(queueName, queueName, exchangeName, false, nil); err != nil {
		return fmt.Errorf("bind queue: %w", err)
	}
	return nil
}

func (c *Client) currentChannel() *amqp091.Channel {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.channel == nil || c.channel.IsClosed() {
		return nil
	}
	return c.channel
}

// drop forgets the current connection so the next call reconnects.
func (c *Client) drop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.channel != nil {
		c.channel.Close()
		c.channel = nil
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

// PublishLedgerEvent publishes ev as a persistent JSON message.
func (c *Client) PublishLedgerEvent(ctx context.Context, ev *LedgerEvent) error {
	if c.isCircuitOpen() {
		return errors.New("circuit breaker is open, skipping publish")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	body, err := ev.ToJSON()
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	ch := c.currentChannel()
	if ch == nil {
		if err := c.connect(); err != nil {
			c.recordFailure()
			return fmt.Errorf("reconnect: %w", err)
		}
		ch = c.currentChannel()
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	err = ch.PublishWithContext(
		ctx,
		c.exchangeName, // exchange
		c.queueName,    // routing key
		false,          // mandatory
		false,          // immediate
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			Timestamp:    time.Now(),
			Body:         body,
		},
	)
	if err != nil {
		c.recordFailure()
		if isConnectionError(err) {
			c.drop()
		}
		return fmt.Errorf("publish message: %w", err)
	}
	c.recordSuccess()

	slog.InfoContext(ctx, "Published ledger event",
		"kind", ev.Kind,
		"transaction_id", ev.TransactionID,
		"exchange", c.exchangeName,
		"queue", c.queueName)
	return nil
}

// Handler processes one decoded event. Returning an error requeues the message.
type Handler func(ctx context.Context, ev *LedgerEvent) error

// Consume delivers ledger events to handler until ctx is done, reconnecting
// with exponential backoff when the broker goes away.
func (c *Client) Consume(ctx context.Context, handler Handler) error {
	for attempt := 0; ; attempt++ {
		err := c.consumeOnce(ctx, handler)
		if ctx.Err() != nil {
			slog.InfoContext(ctx, "Stopping message consumption", "reason", ctx.Err())
			return ctx.Err()
		}

		wait := exponentialBackoff(attempt)
		slog.WarnContext(ctx, "Consumer interrupted, reconnecting",
			"error", err,
			"attempt", attempt+1,
			"backoff", wait)
		c.drop()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		if err := c.connect(); err != nil {
			slog.ErrorContext(ctx, "Reconnect failed", "error", err)
			continue
		}
		attempt = -1
	}
}

func (c *Client) consumeOnce(ctx context.Context, handler Handler) error {
	ch := c.currentChannel()
	if ch == nil {
		return errors.New("channel not open")
	}

	msgs, err := ch.Consume(
		c.queueName, // queue
		"",          // consumer
		false,       // auto-ack (we want manual ack)
		false,       // exclusive
		false,       // no-local
		false,       // no-wait
		nil,         // args
	)
	if err != nil {
		return fmt.Errorf("start consuming: %w", err)
	}

	slog.InfoContext(ctx, "Started consuming ledger events", "queue", c.queueName)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case delivery, ok := <-msgs:
			if !ok {
				return errors.New("message channel closed")
			}
			handleDelivery(ctx, delivery, handler)
		}
	}
}

// acknowledger is the subset of amqp091.Delivery used to settle a message.
type acknowledger interface {
	Ack(multiple bool) error
	Nack(multiple, requeue bool) error
}

type deliveryAck struct{ d amqp091.Delivery }

func (a deliveryAck) Ack(multiple bool) error { return a.d.Ack(multiple) }
func (a deliveryAck) Nack(multiple, requeue bool) error { return a.d.Nack(multiple, requeue) }

func handleDelivery(ctx context.Context, d amqp091.Delivery, handler Handler) {
	settle(ctx, d.Body, deliveryAck{d}, handler)
}

// settle decodes body, runs handler and acks: undecodable bodies are dropped,
// handler failures are requeued.
func settle(ctx context.Context, body []byte, ack acknowledger, handler Handler) {
	ev, err := LedgerEventFromJSON(body)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to unmarshal message", "error", err)
		_ = ack.Nack(false, false)
		return
	}

	slog.InfoContext(ctx, "Processing ledger event",
		"kind", ev.Kind,
		"transaction_id", ev.TransactionID)

	if err := handler(ctx, ev); err != nil {
		slog.ErrorContext(ctx, "Failed to handle message",
			"error", err,
			"kind", ev.Kind,
			"transaction_id", ev.TransactionID)
		_ = ack.Nack(false, true)
		return
	}

	_ = ack.Ack(false)
}

func (c *Client) isCircuitOpen() bool {
	switch atomic.LoadInt32(&c.state) {
	case StateOpen:
		c.mu.Lock()
		last := c.lastFailure
		c.mu.Unlock()
		if time.Since(last) > openTimeout {
			atomic.StoreInt32(&c.state, StateHalfOpen)
			return false
		}
		return true
	default:
		return false
	}
}

func (c *Client) recordSuccess() {
	atomic.StoreInt64(&c.failureCount, 0)
	atomic.StoreInt32(&c.state, StateClosed)
}

func (c *Client) recordFailure() {
	n := atomic.AddInt64(&c.failureCount, 1)
	c.mu.Lock()
	c.lastFailure = time.Now()
	c.mu.Unlock()
	if n >= maxFailures || atomic.LoadInt32(&c.state) == StateHalfOpen {
		atomic.StoreInt32(&c.state, StateOpen)
	}
}

// exponentialBackoff returns 1s, 2s, 4s, ... capped at 30s.
func exponentialBackoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt >= 5 {
		return maxBackoff
	}
	d := time.Second << attempt
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}

func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, amqp091.ErrClosed) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"connection refused", "connection closed", "eof", "broken pipe", "closed network connection"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.channel != nil {
		c.channel.Close()
		c.channel = nil
	}
	if c.conn != nil {
		err := c.conn.Close()
		c.conn = nil
		return err
	}
	return nil
}
