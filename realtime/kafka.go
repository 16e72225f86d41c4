package realtime

import (
	"context"
	"time"

	"github.com/goccy/go-json"

	"github.com/segmentio/kafka-go"

	"github.com/roomops/roomops/core/logger"
	"github.com/roomops/roomops/store"
)

// KafkaExporter publishes every change event to a kafka topic, keyed by table
// so that consumers see per-table ordering. It implements the store notifier
// interface; publishing happens asynchronously and failures are logged, never
// surfaced to the mutating request.
type KafkaExporter struct {
	writer *kafka.Writer
}

// NewKafkaExporter creates an exporter writing to the given brokers and topic.
func NewKafkaExporter(brokers []string, topic string) *KafkaExporter {
	return &KafkaExporter{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			BatchTimeout: 100 * time.Millisecond,
		},
	}
}

// Notify implements the store notifier interface.
func (e *KafkaExporter) Notify(event store.Event) {
	value, err := json.Marshal(event)
	if err != nil {
		logger.Default().WithError(err).Errorln("cannot marshal change event")
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err := e.writer.WriteMessages(ctx, kafka.Message{
			Key:   []byte(event.Table),
			Value: value,
		})
		if err != nil {
			logger.Default().WithError(err).Errorln("cannot publish change event")
		}
	}()
}

// Close flushes and closes the underlying writer.
func (e *KafkaExporter) Close() error {
	return e.writer.Close()
}
