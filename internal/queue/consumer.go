// Package queue feeds verification jobs from SQS into the verification
// service.
package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/sirupsen/logrus"

	apperrors "go-receipt-forensics/internal/errors"
	"go-receipt-forensics/internal/service"
	"go-receipt-forensics/pkg/models"
)

// Verifier is the consumer-side view of the verification service.
type Verifier interface {
	Verify(ctx context.Context, req service.Request) (*models.RunStatus, error)
	Acknowledge(ctx context.Context, runID string) error
}

// Outcome of handling one message.
type Outcome string

const (
	// OutcomeDone means the run reached a final state, including a run
	// timeout, and the message was deleted.
	OutcomeDone Outcome = "done"
	// OutcomeRejected means the message can never succeed and was deleted.
	OutcomeRejected Outcome = "rejected"
	// OutcomeRetry leaves the message for redelivery. It follows a
	// cancelled run or a verification that could not start.
	OutcomeRetry Outcome = "retry"
)

// Options tune polling.
type Options struct {
	BatchSize         int32
	WaitTime          time.Duration
	VisibilityTimeout time.Duration
	ErrorBackoff      time.Duration
}

// Consumer long-polls a queue and verifies each message.
type Consumer struct {
	client   SQSClient
	queueURL string
	verifier Verifier
	opts     Options
	logger   *logrus.Logger
}

func NewConsumer(client SQSClient, queueURL string, verifier Verifier, opts Options, logger *logrus.Logger) *Consumer {
	if opts.BatchSize <= 0 || opts.BatchSize > 10 {
		opts.BatchSize = 10
	}
	if opts.ErrorBackoff <= 0 {
		opts.ErrorBackoff = 2 * time.Second
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Consumer{client: client, queueURL: queueURL, verifier: verifier, opts: opts, logger: logger}
}

// Run polls until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.WithField("queue_url", c.queueURL).Info("Queue consumer started")
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		out, err := c.client.ReceiveMessages(ctx, c.queueURL, c.opts.BatchSize,
			int32(c.opts.WaitTime/time.Second), int32(c.opts.VisibilityTimeout/time.Second))
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.WithError(err).Warn("Receive failed")
			select {
			case <-time.After(c.opts.ErrorBackoff):
			case <-ctx.Done():
				return nil
			}
			continue
		}
		for _, msg := range out.Messages {
			c.Handle(ctx, msg)
		}
	}
}

// Handle verifies one message and deletes it unless it should be retried.
func (c *Consumer) Handle(ctx context.Context, msg types.Message) Outcome {
	log := c.logger.WithField("message_id", aws.ToString(msg.MessageId))
	outcome := c.process(ctx, msg, log)
	if outcome == OutcomeRetry {
		return outcome
	}
	if err := c.client.DeleteMessage(ctx, c.queueURL, msg.ReceiptHandle); err != nil {
		log.WithError(err).Error("Failed to delete message")
	}
	return outcome
}

func (c *Consumer) process(ctx context.Context, msg types.Message, log *logrus.Entry) Outcome {
	var body models.VerifyRequest
	if err := json.Unmarshal([]byte(aws.ToString(msg.Body)), &body); err != nil {
		log.WithError(err).Warn("Discarding malformed message")
		return OutcomeRejected
	}
	req, err := service.RequestFromModel(body)
	if err != nil {
		log.WithError(err).Warn("Discarding invalid verification request")
		return OutcomeRejected
	}

	st, err := c.verifier.Verify(ctx, req)
	if err != nil {
		kind := apperrors.KindOf(err)
		if kind == apperrors.ErrorTypeValidation || kind == apperrors.ErrorTypeNotFound {
			log.WithError(err).Warn("Discarding unverifiable receipt")
			return OutcomeRejected
		}
		log.WithError(err).Warn("Verification not started, leaving message for redelivery")
		return OutcomeRetry
	}

	// Every finished run is released, including ones whose message is
	// redelivered; the redelivery starts a new run.
	log = log.WithFields(logrus.Fields{"run_id": st.RunID, "state": st.State})
	if err := c.verifier.Acknowledge(context.WithoutCancel(ctx), st.RunID); err != nil {
		log.WithError(err).Warn("Failed to acknowledge run")
	}
	if st.Failure != nil && apperrors.ErrorType(st.Failure.ErrorKind) == apperrors.ErrorTypeCancelled {
		log.Warn("Verification cancelled, leaving message for redelivery")
		return OutcomeRetry
	}
	log.Info("Verification message handled")
	return OutcomeDone
}
