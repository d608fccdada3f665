// Package alert publishes flood risk digests to a Kafka topic consumed by
// the downstream notification service.
package alert

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	kafkago "github.com/segmentio/kafka-go"

	"github.com/saadaal/flood-forecast-pipeline/internal/domain"
)

// AlertSource yields the risk-classified predictions to alert on.
type AlertSource interface {
	RiskClassifiedSince(ctx context.Context, from time.Time) ([]domain.PredictionRecord, error)
}

// Publisher produces one digest message per station whose forecast window
// contains an elevated risk. Stations that stay in the low band are not
// published; the topic carries alerts, not bulletins.
type Publisher struct {
	writer *kafkago.Writer
	source AlertSource
	clock  clockwork.Clock
	logger *slog.Logger
}

// NewPublisher creates a Kafka producer for the alert topic.
func NewPublisher(brokers []string, topic string, source AlertSource, logger *slog.Logger) *Publisher {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafkago.LeastBytes{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &Publisher{
		writer: w,
		source: source,
		clock:  clockwork.NewRealClock(),
		logger: logger.With("component", "alert_publisher"),
	}
}

// WithClock returns a copy of the publisher using the given clock.
func (p *Publisher) WithClock(c clockwork.Clock) *Publisher {
	cp := *p
	cp.clock = c
	return &cp
}

// Dispatch loads today's classified predictions and publishes per-station
// digests in a single WriteMessages call.
func (p *Publisher) Dispatch(ctx context.Context) error {
	now := p.clock.Now()
	recs, err := p.source.RiskClassifiedSince(ctx, domain.Day(now))
	if err != nil {
		return fmt.Errorf("load classified predictions: %w", err)
	}

	digests := buildDigests(recs, now)
	if len(digests) == 0 {
		p.logger.Info("no elevated risk, nothing to publish")
		return nil
	}

	msgs := make([]kafkago.Message, len(digests))
	for i := range digests {
		msg, err := serializeDigest(digests[i])
		if err != nil {
			return err
		}
		msgs[i] = msg
	}
	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("publish alerts: %w", err)
	}
	p.logger.Info("alert digests published", "stations", len(digests))
	return nil
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}

// Digest is the message payload: one station's risk outlook for the
// forecast window.
type Digest struct {
	Location    string           `json:"location"`
	MaxRisk     domain.RiskLevel `json:"max_risk"`
	GeneratedAt time.Time        `json:"generated_at"`
	Predictions []DayOutlook     `json:"predictions"`
}

// DayOutlook is one predicted day inside a digest.
type DayOutlook struct {
	Date      string           `json:"date"`
	Level     float64          `json:"level_m"`
	Risk      domain.RiskLevel `json:"risk"`
	ModelName string           `json:"model_name"`
}

// buildDigests groups classified predictions by station and keeps the
// stations whose worst band is moderate or above. Input order (station,
// date) is preserved.
func buildDigests(recs []domain.PredictionRecord, now time.Time) []Digest {
	var digests []Digest
	byLocation := make(map[string]int)

	for _, rec := range recs {
		if rec.Risk == nil {
			continue
		}
		i, ok := byLocation[rec.Location]
		if !ok {
			digests = append(digests, Digest{
				Location:    rec.Location,
				MaxRisk:     domain.RiskLow,
				GeneratedAt: now,
			})
			i = len(digests) - 1
			byLocation[rec.Location] = i
		}
		digests[i].Predictions = append(digests[i].Predictions, DayOutlook{
			Date:      rec.Date.Format(domain.DateFormat),
			Level:     rec.Level,
			Risk:      *rec.Risk,
			ModelName: rec.ModelName,
		})
		if riskRank(*rec.Risk) > riskRank(digests[i].MaxRisk) {
			digests[i].MaxRisk = *rec.Risk
		}
	}

	elevated := digests[:0]
	for _, d := range digests {
		if riskRank(d.MaxRisk) > riskRank(domain.RiskLow) {
			elevated = append(elevated, d)
		}
	}
	return elevated
}

func riskRank(r domain.RiskLevel) int {
	switch r {
	case domain.RiskModerate:
		return 1
	case domain.RiskHigh:
		return 2
	case domain.RiskFull:
		return 3
	default:
		return 0
	}
}

// serializeDigest marshals a digest into a Kafka message keyed by station
// so each station's alerts stay ordered within a partition.
func serializeDigest(d Digest) (kafkago.Message, error) {
	data, err := json.Marshal(d)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize digest for %s: %w", d.Location, err)
	}
	return kafkago.Message{
		Key:   []byte(d.Location),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "max_risk", Value: []byte(d.MaxRisk)},
			{Key: "generated_at", Value: []byte(d.GeneratedAt.Format(time.RFC3339))},
		},
	}, nil
}
