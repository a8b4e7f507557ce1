package trigger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/dmitrijs2005/repostore/internal/common"
	"github.com/dmitrijs2005/repostore/internal/logging"
	amqp "github.com/rabbitmq/amqp091-go"
)

const DefaultQueue = "repostore.jobs"

type channel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	Qos(prefetchCount, prefetchSize int, global bool) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Close() error
}

var dialAMQP = func(url string) (channel, io.Closer, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, err
	}
	return ch, conn, nil
}

type AMQPConfig struct {
	URL   string
	Queue string
	// Prefetch bounds how many jobs one instance runs at a time.
	Prefetch int
}

// AMQP publishes trigger requests to a durable queue and consumes them on
// every server instance. The job lease keeps a job single-instance.
type AMQP struct {
	ch     channel
	conn   io.Closer
	cfg    AMQPConfig
	exec   *Executor
	log    logging.Logger
	closed sync.Once
}

func NewAMQP(cfg AMQPConfig, exec *Executor, log logging.Logger) (*AMQP, error) {
	if cfg.Queue == "" {
		cfg.Queue = DefaultQueue
	}
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = 4
	}

	ch, conn, err := dialAMQP(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w: %w", common.ErrUnavailable, err)
	}

	if _, err := ch.QueueDeclare(cfg.Queue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare queue %s: %w: %w", cfg.Queue, common.ErrUnavailable, err)
	}

	return &AMQP{
		ch:   ch,
		conn: conn,
		cfg:  cfg,
		exec: exec,
		log:  log.With("component", "trigger", "dispatch", "amqp", "queue", cfg.Queue),
	}, nil
}

func (a *AMQP) Dispatch(ctx context.Context, jobID string, param json.RawMessage) (string, error) {
	if err := a.exec.Validate(jobID, param); err != nil {
		return "", err
	}

	req := newRequest(jobID, param)
	body, err := json.Marshal(req)
	if err != nil {
		return "", err
	}

	err = a.ch.PublishWithContext(ctx, "", a.cfg.Queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		MessageId:    req.ID,
		Timestamp:    req.RequestedAt,
		Body:         body,
		DeliveryMode: amqp.Persistent,
	})
	if err != nil {
		return "", fmt.Errorf("publish trigger: %w: %w", common.ErrUnavailable, err)
	}

	a.log.Info(ctx, "job published", "request_id", req.ID, "job_id", jobID)
	return req.ID, nil
}

// Run consumes trigger requests until ctx is done or the broker closes the
// delivery channel.
func (a *AMQP) Run(ctx context.Context) error {
	defer a.Close()

	if err := a.ch.Qos(a.cfg.Prefetch, 0, false); err != nil {
		return fmt.Errorf("set qos: %w: %w", common.ErrUnavailable, err)
	}
	msgs, err := a.ch.Consume(a.cfg.Queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w: %w", a.cfg.Queue, common.ErrUnavailable, err)
	}

	a.log.Info(ctx, "listening for job triggers")

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return fmt.Errorf("delivery channel closed: %w", common.ErrUnavailable)
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				a.handle(ctx, msg)
			}()
		}
	}
}

func (a *AMQP) handle(ctx context.Context, msg amqp.Delivery) {
	var req Request
	if err := json.Unmarshal(msg.Body, &req); err != nil {
		a.log.Error(ctx, "malformed trigger message", "error", err)
		_ = msg.Nack(false, false)
		return
	}

	err := a.exec.Execute(ctx, req)
	switch {
	case err == nil:
		_ = msg.Ack(false)
	case errors.Is(err, common.ErrUnavailable) || errors.Is(err, context.Canceled):
		// the snapshot lets the next delivery resume where this one stopped
		_ = msg.Nack(false, true)
	default:
		_ = msg.Nack(false, false)
	}
}

func (a *AMQP) Close() error {
	var err error
	a.closed.Do(func() {
		err = errors.Join(a.ch.Close(), a.conn.Close())
	})
	return err
}
