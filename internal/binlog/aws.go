package binlog

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/iotdataplane"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

type messageSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQS enqueues each entry as a JSON message.
type SQS struct {
	client   messageSender
	queueURL string
}

func NewSQS(client *sqs.Client, queueURL string) *SQS {
	return &SQS{client: client, queueURL: queueURL}
}

func (s *SQS) Log(ctx context.Context, e Entry) error {
	body, err := e.JSON()
	if err != nil {
		return err
	}
	_, err = s.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(s.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]sqstypes.MessageAttributeValue{
			"bin_id": {DataType: aws.String("String"), StringValue: aws.String(e.BinID)},
		},
	})
	if err != nil {
		return fmt.Errorf("sqs send: %w", err)
	}
	return nil
}

func (s *SQS) Close() error { return nil }

type mqttPublisher interface {
	Publish(ctx context.Context, params *iotdataplane.PublishInput, optFns ...func(*iotdataplane.Options)) (*iotdataplane.PublishOutput, error)
}

// IoT publishes each entry to an AWS IoT Core MQTT topic at QoS 1.
type IoT struct {
	client mqttPublisher
	topic  string
}

func NewIoT(client *iotdataplane.Client, topic string) *IoT {
	return &IoT{client: client, topic: topic}
}

func (i *IoT) Log(ctx context.Context, e Entry) error {
	payload, err := e.JSON()
	if err != nil {
		return err
	}
	_, err = i.client.Publish(ctx, &iotdataplane.PublishInput{
		Topic:   aws.String(i.topic),
		Qos:     1,
		Payload: payload,
	})
	if err != nil {
		return fmt.Errorf("iot publish %s: %w", i.topic, err)
	}
	return nil
}

func (i *IoT) Close() error { return nil }
