package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// ErrBacklogFull is returned by Publish when the outbound buffer is full.
var ErrBacklogFull = errors.New("event backlog full")

type outbound struct {
	typ  string
	at   time.Time
	body []byte
}

// publishFunc sends one message and returns a wait for the broker's
// confirmation.
type publishFunc func(ctx context.Context, msg amqp.Publishing) (func(context.Context) (bool, error), error)

// Publisher queues events in memory and ships them to a durable RabbitMQ
// queue from a single goroutine started by Run, so request handlers never
// wait on the broker. The channel runs in confirm mode and every message
// waits for its ack. A failed send drops the connection and the next
// message dials again.
type Publisher struct {
	url     string
	queue   string
	log     *zap.Logger
	inbox   chan outbound
	publish publishFunc

	conn *amqp.Connection
	ch   *amqp.Channel
}

func NewPublisher(url, queue string, buffer int, log *zap.Logger) *Publisher {
	if log == nil {
		log = zap.NewNop()
	}
	if buffer < 1 {
		buffer = 1
	}
	p := &Publisher{url: url, queue: queue, log: log, inbox: make(chan outbound, buffer)}
	p.publish = p.publishConfirmed
	return p
}

// Publish encodes ev and hands it to the sender goroutine without blocking.
func (p *Publisher) Publish(_ context.Context, ev Event) error {
	now := time.Now().UTC()
	body, err := Encode(ev, now)
	if err != nil {
		return fmt.Errorf("encode %s: %w", ev.EventType(), err)
	}
	select {
	case p.inbox <- outbound{typ: ev.EventType(), at: now, body: body}:
		return nil
	default:
		return ErrBacklogFull
	}
}

// Run sends queued events until ctx is cancelled, then makes one pass over
// whatever is still buffered and closes the connection.
func (p *Publisher) Run(ctx context.Context) {
	defer p.reset()
	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case m := <-p.inbox:
					p.send(context.Background(), m)
				default:
					return
				}
			}
		case m := <-p.inbox:
			p.send(ctx, m)
		}
	}
}

func (p *Publisher) send(ctx context.Context, m outbound) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	wait, err := p.publish(ctx, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    m.at,
		Type:         m.typ,
		Body:         m.body,
	})
	if err != nil {
		p.log.Warn("rabbitmq publish failed, event dropped", zap.String("type", m.typ), zap.Error(err))
		p.reset()
		return
	}
	acked, err := wait(ctx)
	switch {
	case err != nil:
		p.log.Warn("rabbitmq confirm not received", zap.String("type", m.typ), zap.Error(err))
		p.reset()
	case !acked:
		p.log.Warn("rabbitmq nacked event", zap.String("type", m.typ))
	}
}

func (p *Publisher) publishConfirmed(ctx context.Context, msg amqp.Publishing) (func(context.Context) (bool, error), error) {
	if err := p.ensureChannel(); err != nil {
		return nil, err
	}
	conf, err := p.ch.PublishWithDeferredConfirmWithContext(ctx, "", p.queue, false, false, msg)
	if err != nil {
		return nil, err
	}
	return conf.WaitContext, nil
}

func (p *Publisher) ensureChannel() error {
	if p.ch != nil && !p.ch.IsClosed() {
		return nil
	}
	p.reset()

	conn, err := amqp.Dial(p.url)
	if err != nil {
		return fmt.Errorf("rabbitmq dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("rabbitmq channel: %w", err)
	}
	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("rabbitmq confirm mode: %w", err)
	}
	if _, err := ch.QueueDeclare(p.queue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("rabbitmq queue declare: %w", err)
	}
	p.conn, p.ch = conn, ch
	return nil
}

func (p *Publisher) reset() {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		_ = p.conn.Close()
	}
	p.conn, p.ch = nil, nil
}
