package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	amqp "github.com/rabbitmq/amqp091-go"
)

// AttemptHeader counts failed handling attempts of a job.
const AttemptHeader = "x-attempt"

// VectorDeletionJob asks the worker to drop every vector of a conversation.
type VectorDeletionJob struct {
	ConversationID string `json:"conversation_id"`
}

func DecodeVectorDeletionJob(body []byte) (VectorDeletionJob, error) {
	var job VectorDeletionJob
	if err := json.Unmarshal(body, &job); err != nil {
		return job, fmt.Errorf("decode vector deletion job failed: %w", err)
	}
	if strings.TrimSpace(job.ConversationID) == "" {
		return job, fmt.Errorf("decode vector deletion job failed: empty conversation id")
	}
	return job, nil
}

// NewDeletionPublishing builds a persistent message for job carrying attempt.
func NewDeletionPublishing(job VectorDeletionJob, attempt int) (amqp.Publishing, error) {
	payload, err := json.Marshal(job)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("marshal vector deletion job failed: %w", err)
	}
	return amqp.Publishing{
		ContentType:  "application/json",
		Body:         payload,
		DeliveryMode: amqp.Persistent,
		Headers:      amqp.Table{AttemptHeader: int32(attempt)},
	}, nil
}

// Attempt reads the attempt counter. A missing or malformed header is 0.
func Attempt(headers amqp.Table) int {
	switch v := headers[AttemptHeader].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	case int16:
		return int(v)
	case int8:
		return int(v)
	case uint8:
		return int(v)
	default:
		return 0
	}
}

type DeletionPublisher struct {
	conn      *amqp.Connection
	queueName string
}

func NewDeletionPublisher(conn *amqp.Connection, queueName string) *DeletionPublisher {
	return &DeletionPublisher{
		conn:      conn,
		queueName: queueName,
	}
}

func (p *DeletionPublisher) PublishVectorDeletion(ctx context.Context, conversationID string) error {
	return p.publish(ctx, VectorDeletionJob{ConversationID: conversationID}, 0)
}

// Republish enqueues job again with the given attempt count.
func (p *DeletionPublisher) Republish(ctx context.Context, job VectorDeletionJob, attempt int) error {
	return p.publish(ctx, job, attempt)
}

func (p *DeletionPublisher) publish(ctx context.Context, job VectorDeletionJob, attempt int) error {
	msg, err := NewDeletionPublishing(job, attempt)
	if err != nil {
		return err
	}

	ch, err := p.conn.Channel()
	if err != nil {
		return fmt.Errorf("open rabbitmq channel failed: %w", err)
	}
	defer ch.Close()

	if err := DeclareDeletionTopology(ch, p.queueName); err != nil {
		return err
	}
	if err := ch.Confirm(false); err != nil {
		return fmt.Errorf("enable publisher confirms failed: %w", err)
	}

	confirmation, err := ch.PublishWithDeferredConfirmWithContext(ctx, "", p.queueName, false, false, msg)
	if err != nil {
		return fmt.Errorf("publish vector deletion job failed: %w", err)
	}
	acked, err := confirmation.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("wait publish confirm failed: %w", err)
	}
	if !acked {
		return fmt.Errorf("publish vector deletion job failed: broker nacked")
	}
	return nil
}
