package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/kirillkom/scanpipe/internal/core/domain"
	"github.com/kirillkom/scanpipe/internal/infrastructure/resilience"
)

const (
	DefaultBatchSubject = "scanpipe.batches"
	DefaultEventSubject = "scanpipe.events"

	workerQueueGroup = "workers"

	defaultDispatchTimeout = 10 * time.Second
	defaultDrainTimeout    = 30 * time.Second
	drainPollInterval      = 50 * time.Millisecond
)

// Bus carries batches from the API to workers and pipeline events back.
type Bus struct {
	conn            *nats.Conn
	batchSubject    string
	eventSubject    string
	dispatchTimeout time.Duration
	drainTimeout    time.Duration
	executor        *resilience.Executor
}

type Options struct {
	Name                 string
	BatchSubject         string
	EventSubject         string
	ConnectTimeout       time.Duration
	ReconnectWait        time.Duration
	MaxReconnects        int
	RetryOnFailedConnect *bool
	ResilienceExecutor   *resilience.Executor

	// DispatchTimeout bounds the wait for a worker to confirm a batch.
	DispatchTimeout time.Duration

	// DrainTimeout bounds the wait for in-flight handlers on shutdown.
	DrainTimeout time.Duration
}

func New(url string, options Options) (*Bus, error) {
	connectTimeout := options.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 2 * time.Second
	}
	reconnectWait := options.ReconnectWait
	if reconnectWait <= 0 {
		reconnectWait = 2 * time.Second
	}
	maxReconnects := options.MaxReconnects
	if maxReconnects <= 0 {
		maxReconnects = 60
	}
	retryOnFailedConnect := true
	if options.RetryOnFailedConnect != nil {
		retryOnFailedConnect = *options.RetryOnFailedConnect
	}
	name := options.Name
	if name == "" {
		name = "scanpipe"
	}

	conn, err := nats.Connect(
		url,
		nats.Name(name),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.RetryOnFailedConnect(retryOnFailedConnect),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("nats disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("nats reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return newBus(conn, options), nil
}

func newBus(conn *nats.Conn, options Options) *Bus {
	batchSubject := options.BatchSubject
	if batchSubject == "" {
		batchSubject = DefaultBatchSubject
	}
	eventSubject := options.EventSubject
	if eventSubject == "" {
		eventSubject = DefaultEventSubject
	}
	dispatchTimeout := options.DispatchTimeout
	if dispatchTimeout <= 0 {
		dispatchTimeout = defaultDispatchTimeout
	}
	drainTimeout := options.DrainTimeout
	if drainTimeout <= 0 {
		drainTimeout = defaultDrainTimeout
	}
	return &Bus{
		conn:            conn,
		batchSubject:    batchSubject,
		eventSubject:    eventSubject,
		dispatchTimeout: dispatchTimeout,
		drainTimeout:    drainTimeout,
		executor:        options.ResilienceExecutor,
	}
}

func (b *Bus) Close() {
	if b.conn != nil {
		b.conn.Close()
	}
}

// PublishBatch hands batch to one worker and waits until that worker
// confirms receipt. With no worker subscribed the call fails instead of
// leaving the batch undelivered.
func (b *Bus) PublishBatch(ctx context.Context, batch domain.Batch) error {
	const operation = "nats.dispatch_batch"
	data, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", b.batchSubject, err)
	}

	call := func(callCtx context.Context) error {
		reqCtx, cancel := context.WithTimeout(callCtx, b.dispatchTimeout)
		defer cancel()
		if _, err := b.conn.RequestWithContext(reqCtx, b.batchSubject, data); err != nil {
			if errors.Is(err, context.DeadlineExceeded) && callCtx.Err() == nil {
				err = nats.ErrTimeout
			}
			return fmt.Errorf("nats dispatch: %w", err)
		}
		return nil
	}

	err = b.execute(ctx, operation, call, classifyDispatchError)
	if err != nil {
		return resilience.MarkTemporary(operation, err, classifyNATSError)
	}
	return nil
}

func (b *Bus) PublishEvent(ctx context.Context, event domain.PipelineEvent) error {
	return b.publish(ctx, "nats.publish_event", b.eventSubject, event)
}

func (b *Bus) publish(ctx context.Context, operation, subject string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", subject, err)
	}

	call := func(_ context.Context) error {
		if err := b.conn.Publish(subject, data); err != nil {
			return fmt.Errorf("nats publish: %w", err)
		}
		return nil
	}

	if err := b.execute(ctx, operation, call, classifyNATSError); err != nil {
		return resilience.MarkTemporary(operation, err, classifyNATSError)
	}
	return nil
}

func (b *Bus) execute(ctx context.Context, operation string, call func(context.Context) error, classifier resilience.ErrorClassifier) error {
	if b.executor == nil {
		return call(ctx)
	}
	return b.executor.Execute(ctx, operation, call, classifier)
}

// SubscribeBatches delivers each batch to exactly one worker of the queue
// group and blocks until ctx is done. Receipt is confirmed before handler
// runs; a batch that cannot be decoded is left unconfirmed.
func (b *Bus) SubscribeBatches(ctx context.Context, handler func(context.Context, domain.Batch) error) error {
	return b.subscribe(ctx, b.batchSubject, workerQueueGroup, func(msgCtx context.Context, msg *nats.Msg) error {
		batch, err := acceptBatch(msg.Data, msg.Reply, msg.Respond)
		if err != nil {
			return err
		}
		return handler(msgCtx, batch)
	})
}

func acceptBatch(data []byte, reply string, respond func([]byte) error) (domain.Batch, error) {
	var batch domain.Batch
	if err := json.Unmarshal(data, &batch); err != nil {
		return domain.Batch{}, fmt.Errorf("decode batch: %w", err)
	}
	if reply == "" {
		return batch, nil
	}
	if err := respond(nil); err != nil {
		return domain.Batch{}, fmt.Errorf("confirm batch %s: %w", batch.ID, err)
	}
	return batch, nil
}

// SubscribeEvents delivers every pipeline event and blocks until ctx is done.
func (b *Bus) SubscribeEvents(ctx context.Context, handler func(context.Context, domain.PipelineEvent) error) error {
	return b.subscribe(ctx, b.eventSubject, "", func(msgCtx context.Context, msg *nats.Msg) error {
		var event domain.PipelineEvent
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			return fmt.Errorf("decode pipeline event: %w", err)
		}
		return handler(msgCtx, event)
	})
}

func (b *Bus) subscribe(ctx context.Context, subject, queue string, handle func(context.Context, *nats.Msg) error) error {
	var active atomic.Int32
	cb := func(msg *nats.Msg) {
		active.Add(1)
		defer active.Add(-1)
		if errors.Is(ctx.Err(), context.Canceled) {
			return
		}

		handlerCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		if err := handle(handlerCtx, msg); err != nil {
			log.Error().Err(err).Str("subject", subject).Msg("message handler failed")
		}
	}

	var (
		sub *nats.Subscription
		err error
	)
	if queue != "" {
		sub, err = b.conn.QueueSubscribe(subject, queue, cb)
	} else {
		sub, err = b.conn.Subscribe(subject, cb)
	}
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", subject, err)
	}

	if err := b.conn.Flush(); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}

	<-ctx.Done()
	if err := sub.Drain(); err != nil {
		return fmt.Errorf("nats drain subscription: %w", err)
	}
	busy := func() bool { return active.Load() > 0 }
	if err := waitDrained(sub, busy, b.drainTimeout); err != nil {
		return fmt.Errorf("nats drain %s: %w", subject, err)
	}
	if err := b.conn.FlushTimeout(5 * time.Second); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
		return fmt.Errorf("nats flush after drain: %w", err)
	}
	return nil
}

// waitDrained blocks until sub has delivered its pending messages and no
// handler is running. Subscription.Drain only starts that process, and the
// subscription turns invalid as soon as the last message is dequeued, which
// can be before its handler returns.
func waitDrained(sub interface{ IsValid() bool }, busy func() bool, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for sub.IsValid() || busy() {
		if time.Now().After(deadline) {
			return fmt.Errorf("handlers still running after %s", timeout)
		}
		time.Sleep(drainPollInterval)
	}
	return nil
}
