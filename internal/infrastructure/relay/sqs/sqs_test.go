package sqs

import (
	"context"
	"testing"

	"github.com/Zhima-Mochi/minishop-saga/internal/infrastructure/relay"
	awssqs "github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSQS struct{ inputs []*awssqs.SendMessageInput }

func (f *fakeSQS) SendMessage(_ context.Context, in *awssqs.SendMessageInput, _ ...func(*awssqs.Options)) (*awssqs.SendMessageOutput, error) {
	f.inputs = append(f.inputs, in)
	return &awssqs.SendMessageOutput{}, nil
}

func TestSendAddsAttributes(t *testing.T) {
	client := &fakeSQS{}
	s := New(client, "https://sqs.local/000/events")
	require.NoError(t, s.Send(context.Background(), relay.Message{Name: "inventory.low_stock", Key: "P1", Body: []byte(`{"a":1}`)}))

	require.Len(t, client.inputs, 1)
	in := client.inputs[0]
	assert.Equal(t, `{"a":1}`, *in.MessageBody)
	assert.Equal(t, "inventory.low_stock", *in.MessageAttributes["event"].StringValue)
	assert.Nil(t, in.MessageGroupId)
}

func TestFifoQueueGroupsByKey(t *testing.T) {
	client := &fakeSQS{}
	s := New(client, "https://sqs.local/000/events.fifo")
	require.NoError(t, s.Send(context.Background(), relay.Message{Name: "order.paid", Key: "o-1"}))
	require.NotNil(t, client.inputs[0].MessageGroupId)
	assert.Equal(t, "o-1", *client.inputs[0].MessageGroupId)
}
