// Package sqs relays events to an SQS queue.
package sqs

import (
	"context"
	"fmt"
	"strings"

	"github.com/Zhima-Mochi/minishop-saga/internal/infrastructure/relay"
	"github.com/aws/aws-sdk-go-v2/aws"
	awssqs "github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// API is the subset of the SQS client the sink calls.
type API interface {
	SendMessage(ctx context.Context, params *awssqs.SendMessageInput, optFns ...func(*awssqs.Options)) (*awssqs.SendMessageOutput, error)
}

type Sink struct {
	client   API
	queueURL string
	fifo     bool
}

func New(client API, queueURL string) *Sink {
	return &Sink{client: client, queueURL: queueURL, fifo: strings.HasSuffix(queueURL, ".fifo")}
}

func (s *Sink) Send(ctx context.Context, m relay.Message) error {
	input := &awssqs.SendMessageInput{
		QueueUrl:    aws.String(s.queueURL),
		MessageBody: aws.String(string(m.Body)),
		MessageAttributes: map[string]sqstypes.MessageAttributeValue{
			"event": {DataType: aws.String("String"), StringValue: aws.String(m.Name)},
			"key":   {DataType: aws.String("String"), StringValue: aws.String(m.Key)},
		},
	}
	if s.fifo {
		// per-aggregate ordering; the queue must have content-based deduplication enabled
		input.MessageGroupId = aws.String(m.Key)
	}
	if _, err := s.client.SendMessage(ctx, input); err != nil {
		return fmt.Errorf("sqs: send message: %w", err)
	}
	return nil
}

func (s *Sink) Close() error { return nil }
