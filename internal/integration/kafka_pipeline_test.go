//go:build integration

package integration_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tckafka "github.com/testcontainers/testcontainers-go/modules/kafka"

	"github.com/couchcryptid/forecast-etl/internal/adapter/kafka"
	"github.com/couchcryptid/forecast-etl/internal/adapter/openmeteo"
	"github.com/couchcryptid/forecast-etl/internal/adapter/tz"
	"github.com/couchcryptid/forecast-etl/internal/config"
	"github.com/couchcryptid/forecast-etl/internal/domain"
	"github.com/couchcryptid/forecast-etl/internal/observability"
	"github.com/couchcryptid/forecast-etl/internal/pipeline"
)

const (
	testDailyTopic  = "test-forecast-daily"
	testHourlyTopic = "test-forecast-hourly"
	fixturePath     = "../adapter/openmeteo/testdata/london.json"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startKafka(ctx context.Context, t *testing.T) string {
	t.Helper()
	container, err := tckafka.Run(ctx, "confluentinc/confluent-local:7.5.0",
		tckafka.WithClusterID("forecast-etl-test"),
	)
	testcontainers.CleanupContainer(t, container)
	require.NoError(t, err, "start kafka container")

	brokers, err := container.Brokers(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, brokers)
	return brokers[0]
}

func createTopic(t *testing.T, broker, topic string) {
	t.Helper()
	conn, err := kafkago.Dial("tcp", broker)
	require.NoError(t, err)
	defer conn.Close()

	controller, err := conn.Controller()
	require.NoError(t, err)
	ctrl, err := kafkago.Dial("tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	require.NoError(t, err)
	defer ctrl.Close()

	require.NoError(t, ctrl.CreateTopics(kafkago.TopicConfig{
		Topic:             topic,
		NumPartitions:     1,
		ReplicationFactor: 1,
	}))
}

// forecastServer serves the London fixture for every request.
func forecastServer(t *testing.T) *httptest.Server {
	t.Helper()
	body, err := os.ReadFile(fixturePath)
	require.NoError(t, err)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

type publishedRow struct {
	Key     string
	Headers map[string]string
	Body    map[string]any
}

func readRows(ctx context.Context, t *testing.T, broker, topic string, n int) []publishedRow {
	t.Helper()
	consumer := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:     []string{broker},
		Topic:       topic,
		GroupID:     fmt.Sprintf("test-consumer-%d", time.Now().UnixNano()),
		StartOffset: kafkago.FirstOffset,
	})
	defer consumer.Close()

	rows := make([]publishedRow, 0, n)
	for len(rows) < n {
		readCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		msg, err := consumer.ReadMessage(readCtx)
		cancel()
		require.NoError(t, err, "read from %s", topic)

		headers := make(map[string]string, len(msg.Headers))
		for _, h := range msg.Headers {
			headers[h.Key] = string(h.Value)
		}
		var body map[string]any
		require.NoError(t, json.Unmarshal(msg.Value, &body))
		rows = append(rows, publishedRow{Key: string(msg.Key), Headers: headers, Body: body})
	}
	return rows
}

// TestPipelinePublishesToKafka runs the full pipeline against a stub forecast
// API, real timezone lookup and a real broker.
func TestPipelinePublishesToKafka(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	broker := startKafka(ctx, t)
	createTopic(t, broker, testDailyTopic)
	createTopic(t, broker, testHourlyTopic)

	cfg := &config.Config{
		KafkaBrokers:     []string{broker},
		KafkaDailyTopic:  testDailyTopic,
		KafkaHourlyTopic: testHourlyTopic,
	}
	writer := kafka.NewWriter(cfg, discardLogger())
	t.Cleanup(func() { _ = writer.Close() })

	metrics := observability.NewMetricsForTesting()
	client := openmeteo.NewClient(openmeteo.Options{
		BaseURL:    forecastServer(t).URL,
		Timeout:    5 * time.Second,
		Backoff:    10 * time.Millisecond,
		MaxBackoff: 50 * time.Millisecond,
	}, metrics, discardLogger())

	finder, err := tz.NewFinder()
	require.NoError(t, err)

	reg, err := domain.NewRegistry([]domain.Location{{Name: "London", Lat: 51.5074, Lon: -0.1278}})
	require.NoError(t, err)

	p := pipeline.New(reg, client, tz.NewCachedResolver(finder, 10, metrics), []pipeline.TableLoader{writer},
		pipeline.Options{Days: 2, Workers: 1, RunTimeout: time.Minute},
		discardLogger(), metrics)

	report, err := p.Run(ctx)
	require.NoError(t, err)
	require.NoError(t, report.Err())
	assert.Equal(t, domain.RowCount{Daily: 2, Hourly: 48}, report.Counts["London"])

	daily := readRows(ctx, t, broker, testDailyTopic, 2)
	assert.Equal(t, "London", daily[0].Key)
	assert.Equal(t, report.RunID, daily[0].Headers["run_id"])
	assert.Equal(t, "daily", daily[0].Headers["granularity"])
	assert.Equal(t, "2024-03-30T00:00:00Z", daily[0].Body["date"])
	assert.Equal(t, 9.3, daily[0].Body["max_wind_speed"])

	hourly := readRows(ctx, t, broker, testHourlyTopic, 48)
	assert.Equal(t, "Europe/London", hourly[0].Body["timezone"])
	// The fixture spans the 2024-03-31 switch to BST.
	assert.Equal(t, "2024-03-30T00:00:00Z", hourly[0].Body["date"])
	assert.Equal(t, "2024-03-31T03:00:00+01:00", hourly[26].Body["date"])
	assert.Nil(t, hourly[47].Body["weather_code"], "null upstream code is published as null")
}
