package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
)

// TaskMention is the asynq task type carrying a Request.
const TaskMention = "notification:mention"

// NewMentionTask encodes req as an asynq task.
func NewMentionTask(req Request) (*asynq.Task, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode notification: %w", err)
	}
	return asynq.NewTask(TaskMention, payload), nil
}

// AsynqEnqueuer queues requests on Redis through asynq.
type AsynqEnqueuer struct {
	client   *asynq.Client
	queue    string
	maxRetry int
}

// NewAsynqEnqueuer connects an asynq client to redisURL.
func NewAsynqEnqueuer(redisURL, queue string, maxRetry int) (*AsynqEnqueuer, error) {
	if redisURL == "" {
		return nil, errors.New("asynq: redis url is not set")
	}
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("asynq: parse redis url: %w", err)
	}
	return &AsynqEnqueuer{client: asynq.NewClient(opt), queue: queue, maxRetry: maxRetry}, nil
}

// Enqueue queues req as a mention task.
func (a *AsynqEnqueuer) Enqueue(ctx context.Context, req Request) error {
	task, err := NewMentionTask(req)
	if err != nil {
		return err
	}
	var opts []asynq.Option
	if a.queue != "" {
		opts = append(opts, asynq.Queue(a.queue))
	}
	if a.maxRetry > 0 {
		opts = append(opts, asynq.MaxRetry(a.maxRetry))
	}
	if _, err := a.client.EnqueueContext(ctx, task, opts...); err != nil {
		return fmt.Errorf("asynq enqueue for %d: %w", req.RecipientID, err)
	}
	return nil
}

// Close closes the asynq client.
func (a *AsynqEnqueuer) Close() error {
	return a.client.Close()
}

// Worker consumes mention tasks and writes them to the outbox for delivery.
type Worker struct {
	server *asynq.Server
	mux    *asynq.ServeMux
	sink   Enqueuer
	log    zerolog.Logger
}

// NewWorker creates a worker reading queue on redisURL and writing to sink.
func NewWorker(redisURL, queue string, sink Enqueuer, log zerolog.Logger) (*Worker, error) {
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("asynq: parse redis url: %w", err)
	}
	if queue == "" {
		queue = "default"
	}
	log = log.With().Str("component", "notify-worker").Logger()

	w := &Worker{sink: sink, log: log, mux: asynq.NewServeMux()}
	w.server = asynq.NewServer(opt, asynq.Config{
		Concurrency: 4,
		Queues:      map[string]int{queue: 1},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			log.Warn().Err(err).Str("type", task.Type()).Msg("notification task failed")
		}),
	})
	w.mux.HandleFunc(TaskMention, w.handle)
	return w, nil
}

// handle decodes a mention task and hands it to the sink. Malformed payloads
// are skipped rather than retried.
func (w *Worker) handle(ctx context.Context, task *asynq.Task) error {
	var req Request
	if err := json.Unmarshal(task.Payload(), &req); err != nil {
		return fmt.Errorf("decode notification: %v: %w", err, asynq.SkipRetry)
	}
	if req.RecipientID == 0 {
		return fmt.Errorf("notification without recipient: %w", asynq.SkipRetry)
	}
	return w.sink.Enqueue(ctx, req)
}

// Run processes tasks until ctx is done.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.server.Start(w.mux); err != nil {
		return err
	}
	w.log.Info().Msg("notification worker started")
	<-ctx.Done()
	w.server.Shutdown()
	return nil
}
