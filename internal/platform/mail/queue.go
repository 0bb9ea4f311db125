package mail

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
)

const TypeMailSend = "mail:send"

// Enqueuer is the part of *asynq.Client the queue sender needs.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// QueueSender enqueues mail for the worker instead of talking to SMTP.
// configured reports whether the worker side has credentials; the queue
// sender mirrors it so callers see the same fail-fast behaviour.
type QueueSender struct {
	client     Enqueuer
	configured func() bool
	queue      string
	logger     zerolog.Logger
}

func NewQueueSender(client Enqueuer, configured func() bool, queue string, logger zerolog.Logger) *QueueSender {
	if queue == "" {
		queue = "mail"
	}
	return &QueueSender{
		client:     client,
		configured: configured,
		queue:      queue,
		logger:     logger.With().Str("component", "mail_queue").Logger(),
	}
}

func (q *QueueSender) Configured() bool {
	return q.configured != nil && q.configured()
}

func NewSendTask(m Message) (*asynq.Task, error) {
	payload, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode mail task: %w", err)
	}
	return asynq.NewTask(TypeMailSend, payload), nil
}

func (q *QueueSender) Send(ctx context.Context, to, subject, html string) error {
	if !q.Configured() {
		return ErrNotConfigured
	}
	if !ValidAddress(to) {
		return fmt.Errorf("%w: %q", ErrInvalidAddress, to)
	}

	task, err := NewSendTask(Message{To: to, Subject: subject, HTML: html})
	if err != nil {
		return err
	}
	info, err := q.client.EnqueueContext(ctx, task,
		asynq.Queue(q.queue),
		asynq.MaxRetry(5),
		asynq.Timeout(time.Minute),
	)
	if err != nil {
		return fmt.Errorf("enqueue mail to %s: %w", to, err)
	}
	q.logger.Debug().Str("task_id", info.ID).Str("to", to).Msg("mail queued")
	return nil
}

// TaskHandler delivers queued mail through sender. Malformed payloads are
// dropped without retry.
func TaskHandler(sender Sender, logger zerolog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, task *asynq.Task) error {
		var m Message
		if err := json.Unmarshal(task.Payload(), &m); err != nil {
			logger.Error().Err(err).Msg("invalid mail task payload")
			return fmt.Errorf("decode mail task: %v: %w", err, asynq.SkipRetry)
		}
		if err := sender.Send(ctx, m.To, m.Subject, m.HTML); err != nil {
			logger.Error().Err(err).Str("to", m.To).Msg("queued mail delivery failed")
			return err
		}
		return nil
	}
}

// NewWorkerMux routes mail tasks to TaskHandler.
func NewWorkerMux(sender Sender, logger zerolog.Logger) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeMailSend, TaskHandler(sender, logger))
	return mux
}
