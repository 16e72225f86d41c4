package faults

import (
	"context"

	"github.com/goccy/go-json"

	"github.com/segmentio/kafka-go"

	"github.com/roomops/roomops/core/logger"
)

// KafkaReporter forwards reportable faults to a kafka topic, where they get
// picked up by the monitoring pipeline.
type KafkaReporter struct {
	writer *kafka.Writer
}

// NewKafkaReporter creates a reporter writing to the given brokers and topic.
func NewKafkaReporter(brokers []string, topic string) *KafkaReporter {
	return &KafkaReporter{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(brokers...),
			Topic:    topic,
			Balancer: &kafka.LeastBytes{},
		},
	}
}

// Report implements the Reporter interface
func (r *KafkaReporter) Report(ctx context.Context, fault *Fault) error {
	payload, err := json.Marshal(fault)
	if err != nil {
		return err
	}
	err = r.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(string(fault.Category)),
		Value: payload,
	})
	if err != nil {
		logger.FromContext(ctx).WithError(err).Errorln("cannot report fault to kafka")
	}
	return err
}

// Close flushes and closes the underlying writer
func (r *KafkaReporter) Close() error {
	return r.writer.Close()
}
