package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/forecast-etl/internal/config"
	"github.com/couchcryptid/forecast-etl/internal/domain"
)

// messageWriter is the subset of *kafkago.Writer used here.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Writer publishes forecast rows, one message per row, to a daily and an
// hourly topic. It implements pipeline.TableLoader.
type Writer struct {
	daily  messageWriter
	hourly messageWriter
	logger *slog.Logger
}

// NewWriter creates Kafka producers for the configured daily and hourly topics.
func NewWriter(cfg *config.Config, logger *slog.Logger) *Writer {
	return &Writer{
		daily:  newProducer(cfg.KafkaBrokers, cfg.KafkaDailyTopic),
		hourly: newProducer(cfg.KafkaBrokers, cfg.KafkaHourlyTopic),
		logger: logger,
	}
}

func newProducer(brokers []string, topic string) *kafkago.Writer {
	return &kafkago.Writer{
		Addr:                   kafkago.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafkago.Hash{},
		RequiredAcks:           kafkago.RequireAll,
		AllowAutoTopicCreation: true,
	}
}

// LoadTables publishes every row of both tables. Rows are keyed by location
// so each location's rows stay ordered within a partition.
func (w *Writer) LoadTables(ctx context.Context, runID string, tables domain.Tables) error {
	if len(tables.Daily) > 0 {
		msgs := make([]kafkago.Message, len(tables.Daily))
		for i, row := range tables.Daily {
			msg, err := dailyMessage(runID, tables.GeneratedAt, row)
			if err != nil {
				return err
			}
			msgs[i] = msg
		}
		if err := w.daily.WriteMessages(ctx, msgs...); err != nil {
			return fmt.Errorf("publish daily rows: %w", err)
		}
	}

	if len(tables.Hourly) > 0 {
		msgs := make([]kafkago.Message, len(tables.Hourly))
		for i, row := range tables.Hourly {
			msg, err := hourlyMessage(runID, tables.GeneratedAt, row)
			if err != nil {
				return err
			}
			msgs[i] = msg
		}
		if err := w.hourly.WriteMessages(ctx, msgs...); err != nil {
			return fmt.Errorf("publish hourly rows: %w", err)
		}
	}

	w.logger.Info("kafka publish complete",
		"daily_rows", len(tables.Daily),
		"hourly_rows", len(tables.Hourly),
	)
	return nil
}

func (w *Writer) Close() error {
	derr := w.daily.Close()
	herr := w.hourly.Close()
	if derr != nil {
		return derr
	}
	return herr
}

// Message payloads. Missing values are published as null since JSON has no NaN.

type dailyPayload struct {
	Location              string    `json:"location"`
	Date                  time.Time `json:"date"`
	MaxWindSpeed          *float64  `json:"max_wind_speed"`
	DominantWindDirection *float64  `json:"dominant_wind_direction"`
	WeatherCode           *int      `json:"weather_code"`
}

type hourlyPayload struct {
	Location    string    `json:"location"`
	Date        time.Time `json:"date"`
	Timezone    string    `json:"timezone"`
	Temperature *float64  `json:"temperature"`
	WeatherCode *int      `json:"weather_code"`
	WindSpeed   *float64  `json:"wind_speed"`
}

func dailyMessage(runID string, generatedAt time.Time, row domain.DailyRow) (kafkago.Message, error) {
	data, err := json.Marshal(dailyPayload{
		Location:              row.Location,
		Date:                  row.Date,
		MaxWindSpeed:          nullable(row.MaxWindSpeed),
		DominantWindDirection: nullable(row.DominantWindDirection),
		WeatherCode:           nullableCode(row.WeatherCode),
	})
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize daily row: %w", err)
	}
	return kafkago.Message{
		Key:     []byte(row.Location),
		Value:   data,
		Headers: headers(runID, row.Location, domain.Daily, generatedAt),
	}, nil
}

func hourlyMessage(runID string, generatedAt time.Time, row domain.HourlyRow) (kafkago.Message, error) {
	data, err := json.Marshal(hourlyPayload{
		Location:    row.Location,
		Date:        row.Date,
		Timezone:    row.Date.Location().String(),
		Temperature: nullable(row.Temperature),
		WeatherCode: nullableCode(row.WeatherCode),
		WindSpeed:   nullable(row.WindSpeed),
	})
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize hourly row: %w", err)
	}
	return kafkago.Message{
		Key:     []byte(row.Location),
		Value:   data,
		Headers: headers(runID, row.Location, domain.Hourly, generatedAt),
	}, nil
}

func headers(runID, location string, g domain.Granularity, generatedAt time.Time) []kafkago.Header {
	return []kafkago.Header{
		{Key: "run_id", Value: []byte(runID)},
		{Key: "location", Value: []byte(location)},
		{Key: "granularity", Value: []byte(g)},
		{Key: "generated_at", Value: []byte(generatedAt.UTC().Format(time.RFC3339))},
	}
}

func nullable(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

func nullableCode(code int) *int {
	if code == domain.MissingWeatherCode {
		return nil
	}
	return &code
}
