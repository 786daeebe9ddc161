package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"blogchat/internal/platform/rabbitmq"
	"blogchat/internal/vectorindex"
)

const (
	DefaultMaxAttempts   = 3
	DefaultHandleTimeout = 120 * time.Second
)

type VectorDeleter interface {
	DeleteByFilter(ctx context.Context, filter vectorindex.Filter) error
}

type Republisher interface {
	Republish(ctx context.Context, job rabbitmq.VectorDeletionJob, attempt int) error
}

type Options struct {
	Queue         string
	Consumers     int
	MaxAttempts   int
	HandleTimeout time.Duration
}

// VectorDeletionWorker consumes vector deletion jobs. A failed job is
// republished with its attempt counter bumped until MaxAttempts is reached,
// then rejected into the dead-letter queue. A job that cannot be republished
// is dead-lettered right away.
type VectorDeletionWorker struct {
	conn        *amqp.Connection
	deleter     VectorDeleter
	republisher Republisher
	opts        Options
	logger      *zap.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewVectorDeletionWorker(
	conn *amqp.Connection,
	deleter VectorDeleter,
	republisher Republisher,
	opts Options,
	logger *zap.Logger,
) *VectorDeletionWorker {
	if opts.Consumers <= 0 {
		opts.Consumers = 1
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.HandleTimeout <= 0 {
		opts.HandleTimeout = DefaultHandleTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &VectorDeletionWorker{
		conn:        conn,
		deleter:     deleter,
		republisher: republisher,
		opts:        opts,
		logger:      logger.Named("vector_deletion_worker").With(zap.String("queue", opts.Queue)),
	}
}

func (w *VectorDeletionWorker) Start(ctx context.Context) error {
	if w.cancel != nil {
		return nil
	}

	workerCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	for i := 0; i < w.opts.Consumers; i++ {
		ch, deliveries, err := w.consume()
		if err != nil {
			cancel()
			w.wg.Wait()
			w.cancel = nil
			return err
		}

		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			defer ch.Close()

			for {
				select {
				case <-workerCtx.Done():
					return
				case d, ok := <-deliveries:
					if !ok {
						w.logger.Warn("delivery channel closed")
						return
					}
					w.handle(workerCtx, d)
				}
			}
		}()
	}
	w.logger.Info("worker started", zap.Int("consumers", w.opts.Consumers))
	return nil
}

func (w *VectorDeletionWorker) consume() (*amqp.Channel, <-chan amqp.Delivery, error) {
	ch, err := w.conn.Channel()
	if err != nil {
		return nil, nil, fmt.Errorf("open worker channel failed: %w", err)
	}
	if err := rabbitmq.DeclareDeletionTopology(ch, w.opts.Queue); err != nil {
		_ = ch.Close()
		return nil, nil, err
	}
	if err := ch.Qos(1, 0, false); err != nil {
		_ = ch.Close()
		return nil, nil, fmt.Errorf("set worker prefetch failed: %w", err)
	}
	deliveries, err := ch.Consume(w.opts.Queue, "", false, false, false, false, nil)
	if err != nil {
		_ = ch.Close()
		return nil, nil, fmt.Errorf("consume queue failed: %w", err)
	}
	return ch, deliveries, nil
}

func (w *VectorDeletionWorker) handle(ctx context.Context, d amqp.Delivery) {
	job, err := rabbitmq.DecodeVectorDeletionJob(d.Body)
	if err != nil {
		w.deadLetter(d, "", 0, err)
		return
	}
	attempt := rabbitmq.Attempt(d.Headers)
	log := w.logger.With(zap.String("conversation_id", job.ConversationID), zap.Int("attempt", attempt+1))

	hctx, cancel := context.WithTimeout(ctx, w.opts.HandleTimeout)
	err = w.deleter.DeleteByFilter(hctx, vectorindex.Filter{ConversationID: job.ConversationID})
	cancel()
	if err == nil {
		if ackErr := d.Ack(false); ackErr != nil {
			log.Warn("ack failed", zap.Error(ackErr))
		}
		log.Info("vectors deleted")
		return
	}

	if attempt+1 >= w.opts.MaxAttempts {
		w.deadLetter(d, job.ConversationID, attempt+1, err)
		return
	}

	log.Warn("delete vectors failed, retrying", zap.Error(err))
	if pubErr := w.republisher.Republish(ctx, job, attempt+1); pubErr != nil {
		// Requeueing would keep the attempt counter unchanged and loop forever.
		w.deadLetter(d, job.ConversationID, attempt+1, fmt.Errorf("republish failed: %w (delete: %v)", pubErr, err))
		return
	}
	_ = d.Ack(false)
}

func (w *VectorDeletionWorker) deadLetter(d amqp.Delivery, conversationID string, attempts int, cause error) {
	w.logger.Error("vector deletion dead-lettered",
		zap.String("conversation_id", conversationID),
		zap.Int("attempts", attempts),
		zap.Error(cause),
		zap.String("alert", "vector_deletion_dead_lettered"),
	)
	if err := d.Nack(false, false); err != nil {
		w.logger.Warn("nack failed", zap.Error(err))
	}
}

func (w *VectorDeletionWorker) Close() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}
