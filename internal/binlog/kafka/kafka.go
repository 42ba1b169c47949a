// Package kafka is a binlog.Sink that produces match records to a Kafka
// topic with librdkafka.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"

	"github.com/dj-oyu/bin-plate-camera/plate-server/internal/binlog"
	"github.com/dj-oyu/bin-plate-camera/plate-server/internal/logger"
)

const (
	maxRetries  = 3
	baseBackoff = 100 * time.Millisecond
)

// Producer keys each message by bin id so one bin's records stay ordered
// within a partition.
type Producer struct {
	producer     *kafka.Producer
	topic        string
	deliveryChan chan kafka.Event

	sent   atomic.Int64
	acked  atomic.Int64
	failed atomic.Int64

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// NewProducer connects to brokers (comma separated).
func NewProducer(brokers, topic string) (*Producer, error) {
	p, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers":   brokers,
		"acks":                "all",
		"enable.idempotence":  true,
		"linger.ms":           5,
		"delivery.timeout.ms": 30000,
	})
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	kp := &Producer{
		producer:     p,
		topic:        topic,
		deliveryChan: make(chan kafka.Event, 256),
		ctx:          ctx,
		cancel:       cancel,
	}
	kp.wg.Add(1)
	go kp.handleDeliveryReports()

	logger.Info("Kafka", "Producer ready - topic %s, brokers %s", topic, brokers)
	return kp, nil
}

func (kp *Producer) handleDeliveryReports() {
	defer kp.wg.Done()
	for {
		select {
		case <-kp.ctx.Done():
			return
		case e := <-kp.deliveryChan:
			kp.report(e)
		}
	}
}

func (kp *Producer) report(e kafka.Event) {
	m, ok := e.(*kafka.Message)
	if !ok {
		return
	}
	if m.TopicPartition.Error != nil {
		kp.failed.Add(1)
		logger.Warn("Kafka", "Delivery failed: %v", m.TopicPartition.Error)
		return
	}
	kp.acked.Add(1)
}

// Log enqueues e, retrying retriable errors such as a full local queue.
func (kp *Producer) Log(ctx context.Context, e binlog.Entry) error {
	payload, err := e.JSON()
	if err != nil {
		return err
	}
	msg := &kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &kp.topic, Partition: kafka.PartitionAny},
		Key:            []byte(e.BinID),
		Value:          payload,
		Headers: []kafka.Header{
			{Key: "entry_id", Value: []byte(e.ID.String())},
			{Key: "image_name", Value: []byte(e.ImageName)},
		},
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			backoff := baseBackoff * time.Duration(1<<uint(attempt-1))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		err := kp.producer.Produce(msg, kp.deliveryChan)
		if err == nil {
			kp.sent.Add(1)
			return nil
		}
		lastErr = err

		var kerr kafka.Error
		if errors.As(err, &kerr) && !kerr.IsRetriable() {
			return fmt.Errorf("kafka produce: %w", err)
		}
	}
	kp.failed.Add(1)
	return fmt.Errorf("kafka produce failed after %d retries: %w", maxRetries, lastErr)
}

// Stats returns sent, acknowledged and failed message counts.
func (kp *Producer) Stats() (sent, acked, failed int64) {
	return kp.sent.Load(), kp.acked.Load(), kp.failed.Load()
}

// Close flushes outstanding messages for up to ten seconds.
func (kp *Producer) Close() error {
	remaining := kp.producer.Flush(10000)
	kp.cancel()
	kp.wg.Wait()
	// reports that arrived after the handler stopped
	for len(kp.deliveryChan) > 0 {
		kp.report(<-kp.deliveryChan)
	}
	kp.producer.Close()
	if remaining > 0 {
		return fmt.Errorf("kafka: %d messages undelivered at close", remaining)
	}
	sent, acked, failed := kp.Stats()
	logger.Info("Kafka", "Closed - sent %d, acked %d, failed %d", sent, acked, failed)
	return nil
}

var _ binlog.Sink = (*Producer)(nil)
