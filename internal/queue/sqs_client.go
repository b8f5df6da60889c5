package queue

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

// SQSClient is the subset of SQS the consumer needs.
type SQSClient interface {
	ReceiveMessages(ctx context.Context, queueURL string, maxMessages int32, waitTime int32, visibility int32) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, queueURL string, receiptHandle *string) error
}

type AWSSQSClient struct {
	Client *sqs.Client
}

func NewSQSClient(client *sqs.Client) SQSClient {
	return &AWSSQSClient{Client: client}
}

func (s *AWSSQSClient) ReceiveMessages(ctx context.Context, queueURL string, maxMessages int32, waitTime int32, visibility int32) (*sqs.ReceiveMessageOutput, error) {
	out, err := s.Client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(queueURL),
		MaxNumberOfMessages: maxMessages,
		WaitTimeSeconds:     waitTime,
		VisibilityTimeout:   visibility,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to receive messages: %w", err)
	}
	return out, nil
}

func (s *AWSSQSClient) DeleteMessage(ctx context.Context, queueURL string, receiptHandle *string) error {
	_, err := s.Client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(queueURL),
		ReceiptHandle: receiptHandle,
	})
	if err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}
	return nil
}
