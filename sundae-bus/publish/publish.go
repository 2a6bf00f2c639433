// Package publish mirrors accepted messages onto a Kinesis stream, so bus
// instances can fan out each other's publishes.
package publish

import (
	"context"
	"encoding/json"
	"fmt"

	sundaebus "github.com/SundaeSwap-finance/sundae-bus/sundae-bus"
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/kinesis"
	"github.com/aws/aws-sdk-go/service/kinesis/kinesisiface"
)

// Envelope is the record format published to the events stream.
type Envelope struct {
	Topic   string          `json:"topic"`
	Payload json.RawMessage `json:"payload"`
}

// Publisher publishes messages to the events stream.
type Publisher struct {
	client     kinesisiface.KinesisAPI
	streamName string
}

var _ sundaebus.Mirror = (*Publisher)(nil)

func New(client kinesisiface.KinesisAPI, streamName string) *Publisher {
	return &Publisher{
		client:     client,
		streamName: streamName,
	}
}

// Build creates a Publisher using the standard stream name for the given
// environment.
func Build(client kinesisiface.KinesisAPI, env string) *Publisher {
	return New(client, StreamName(env))
}

// StreamName returns the Kinesis stream name for the given environment.
func StreamName(env string) string {
	return env + "-sundae-bus--events"
}

// Send publishes msg. The stream id is the partition key, which keeps a
// stream's messages in order.
func (p *Publisher) Send(ctx context.Context, msg sundaebus.Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshalling message: %w", err)
	}

	data, err := json.Marshal(Envelope{
		Topic:   msg.StreamID,
		Payload: payload,
	})
	if err != nil {
		return fmt.Errorf("marshalling envelope: %w", err)
	}

	_, err = p.client.PutRecordWithContext(ctx, &kinesis.PutRecordInput{
		StreamName:   aws.String(p.streamName),
		PartitionKey: aws.String(msg.StreamID),
		Data:         data,
	})
	if err != nil {
		return fmt.Errorf("publishing to kinesis stream %v: %w", p.streamName, err)
	}
	return nil
}

// Decode extracts the message from a record written by Send.
func Decode(data []byte) (sundaebus.Message, error) {
	var envelope Envelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return sundaebus.Message{}, fmt.Errorf("unmarshalling envelope: %w", err)
	}
	if envelope.Topic == "" {
		return sundaebus.Message{}, fmt.Errorf("envelope has empty topic")
	}

	var msg sundaebus.Message
	if err := json.Unmarshal(envelope.Payload, &msg); err != nil {
		return sundaebus.Message{}, fmt.Errorf("unmarshalling message on topic %v: %w", envelope.Topic, err)
	}
	if msg.StreamID != envelope.Topic {
		return sundaebus.Message{}, fmt.Errorf("message stream %v does not match topic %v", msg.StreamID, envelope.Topic)
	}
	return msg, nil
}
