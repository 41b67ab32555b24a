package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub/v2"
	"github.com/rs/zerolog"
)

// Job types accepted on the subscription.
const (
	JobBriefPrewarm = "brief_prewarm"
	JobHealthCheck  = "health_check"
)

// ErrUnknownJob is returned by HandleJob for an unrecognized job type.
var ErrUnknownJob = errors.New("unknown job type")

// PubSubHandler handles Pub/Sub messages for the worker.
type PubSubHandler struct {
	client           *pubsub.Client
	subscriber       *pubsub.Subscriber
	subscriptionName string
	dispatcher       *Dispatcher
	logger           zerolog.Logger
}

// PubSubConfig holds configuration for the Pub/Sub handler.
type PubSubConfig struct {
	ProjectID        string
	SubscriptionName string
	PrewarmJob       *PrewarmJob
	Logger           zerolog.Logger
}

// JobMessage is the payload of a worker job message.
type JobMessage struct {
	JobType string `json:"job_type"`

	// BlockIDs narrows a brief_prewarm run to these blocks.
	BlockIDs []string `json:"block_ids,omitempty"`
}

// Dispatcher runs job messages against the pre-warm job.
type Dispatcher struct {
	job    *PrewarmJob
	logger zerolog.Logger
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(job *PrewarmJob, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{job: job, logger: logger}
}

// HandleJob runs one job. A brief_prewarm run fails when more briefs failed
// than succeeded.
func (d *Dispatcher) HandleJob(ctx context.Context, msg JobMessage) error {
	switch msg.JobType {
	case JobBriefPrewarm:
		return d.handlePrewarm(ctx, msg)
	case JobHealthCheck:
		d.logger.Debug().Msg("running health check")
		if err := d.job.CheckHealth(ctx); err != nil {
			return err
		}
		d.logger.Debug().Msg("health check passed")
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownJob, msg.JobType)
	}
}

func (d *Dispatcher) handlePrewarm(ctx context.Context, msg JobMessage) error {
	targets := d.job.Targets()
	if len(msg.BlockIDs) > 0 {
		var err error
		targets, err = TargetsFromBlockIDs(msg.BlockIDs)
		if err != nil {
			d.logger.Warn().Err(err).Msg("skipping malformed block ids")
		}
		if len(targets) == 0 {
			return fmt.Errorf("brief pre-warm: no valid block ids: %w", err)
		}
	}

	result := d.job.RunTargets(ctx, targets)
	if result.Failed > result.Successful {
		return fmt.Errorf("too many pre-warm failures: %d/%d", result.Failed, result.TotalTargets)
	}
	return nil
}

// NewPubSubHandler creates a new Pub/Sub handler.
func NewPubSubHandler(ctx context.Context, cfg PubSubConfig) (*PubSubHandler, error) {
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}

	subscriber := client.Subscriber(cfg.SubscriptionName)

	// A pre-warm run can take minutes; keep few messages in flight.
	subscriber.ReceiveSettings.MaxOutstandingMessages = 4
	subscriber.ReceiveSettings.MaxExtension = 10 * time.Minute

	return &PubSubHandler{
		client:           client,
		subscriber:       subscriber,
		subscriptionName: cfg.SubscriptionName,
		dispatcher:       NewDispatcher(cfg.PrewarmJob, cfg.Logger),
		logger:           cfg.Logger,
	}, nil
}

// Start begins processing Pub/Sub messages. It blocks until ctx is done.
func (h *PubSubHandler) Start(ctx context.Context) error {
	h.logger.Info().
		Str("subscription", h.subscriptionName).
		Msg("starting pubsub handler")

	return h.subscriber.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		if h.handleMessage(ctx, msg.ID, msg.PublishTime, msg.Data) {
			msg.Ack()
			return
		}
		msg.Nack()
	})
}

// Close closes the Pub/Sub client.
func (h *PubSubHandler) Close() error {
	return h.client.Close()
}

// handleMessage reports whether the message should be acked. Malformed and
// unknown messages are acked so they are not redelivered.
func (h *PubSubHandler) handleMessage(ctx context.Context, id string, published time.Time, data []byte) bool {
	startTime := time.Now()

	logger := h.logger.With().
		Str("message_id", id).
		Str("publish_time", published.Format(time.RFC3339)).
		Logger()

	logger.Debug().Msg("received pubsub message")

	var jobMsg JobMessage
	if err := json.Unmarshal(data, &jobMsg); err != nil {
		logger.Error().Err(err).Msg("failed to parse message")
		return true
	}

	err := h.dispatcher.HandleJob(ctx, jobMsg)
	switch {
	case errors.Is(err, ErrUnknownJob):
		logger.Warn().Str("job_type", jobMsg.JobType).Msg("unknown job type")
		return true
	case err != nil:
		logger.Error().Err(err).Str("job_type", jobMsg.JobType).Msg("job failed")
		return false
	}

	logger.Info().
		Str("job_type", jobMsg.JobType).
		Dur("duration", time.Since(startTime)).
		Msg("job completed successfully")
	return true
}
