package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/cascadiahydro/flood-aep-etl/internal/config"
	"github.com/cascadiahydro/flood-aep-etl/internal/domain"
)

// Publisher emits merged AEP rows to a Kafka topic for downstream
// consumers. The batch treats a failed publish as a logged error, never a
// failed site; the CSV table remains the source of truth.
type Publisher struct {
	writer *kafkago.Writer
	area   string
	runID  string
	logger *slog.Logger
}

// NewPublisher creates a Kafka producer for the configured estimates topic.
func NewPublisher(cfg *config.Config, runID string, logger *slog.Logger) *Publisher {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaTopic,
		Balancer:     &kafkago.LeastBytes{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &Publisher{writer: w, area: cfg.Area, runID: runID, logger: logger}
}

// PublishRows serializes and publishes one site's merged rows in a single
// WriteMessages call.
func (p *Publisher) PublishRows(ctx context.Context, rows []domain.MergedRow) error {
	if len(rows) == 0 {
		return nil
	}
	msgs := make([]kafkago.Message, len(rows))
	for i := range rows {
		msg, err := p.serializeToMessage(rows[i])
		if err != nil {
			return err
		}
		msgs[i] = msg
	}
	return p.writer.WriteMessages(ctx, msgs...)
}

// Close flushes and closes the underlying writer.
func (p *Publisher) Close() error {
	return p.writer.Close()
}

// serializeToMessage marshals a merged row into a Kafka message keyed by
// site so all of a site's rows land on one partition.
func (p *Publisher) serializeToMessage(row domain.MergedRow) (kafkago.Message, error) {
	data, err := json.Marshal(row)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize merged row: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(row.SiteID),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "area", Value: []byte(p.area)},
			{Key: "aep_percent", Value: []byte(row.AEP)},
			{Key: "run_id", Value: []byte(p.runID)},
		},
	}, nil
}
