package parquet

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/xitongsys/parquet-go-source/local"
	parquetgo "github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/couchcryptid/forecast-etl/internal/domain"
)

// File names written into the export directory.
const (
	DailyFile  = "forecast_daily.parquet"
	HourlyFile = "forecast_hourly.parquet"
)

// dailyRecord is the parquet schema of the daily table.
type dailyRecord struct {
	RunID                 string  `parquet:"name=run_id,type=BYTE_ARRAY,convertedtype=UTF8,encoding=PLAIN_DICTIONARY"`
	Location              string  `parquet:"name=location,type=BYTE_ARRAY,convertedtype=UTF8,encoding=PLAIN_DICTIONARY"`
	Date                  int64   `parquet:"name=date,type=INT64,convertedtype=TIMESTAMP_MILLIS"`
	MaxWindSpeed          float64 `parquet:"name=max_wind_speed,type=DOUBLE"`
	DominantWindDirection float64 `parquet:"name=dominant_wind_direction,type=DOUBLE"`
	WeatherCode           int32   `parquet:"name=weather_code,type=INT32"`
}

// hourlyRecord is the parquet schema of the hourly table. Parquet timestamps
// are instants, so the local zone travels in its own column.
type hourlyRecord struct {
	RunID       string  `parquet:"name=run_id,type=BYTE_ARRAY,convertedtype=UTF8,encoding=PLAIN_DICTIONARY"`
	Location    string  `parquet:"name=location,type=BYTE_ARRAY,convertedtype=UTF8,encoding=PLAIN_DICTIONARY"`
	Date        int64   `parquet:"name=date,type=INT64,convertedtype=TIMESTAMP_MILLIS"`
	Timezone    string  `parquet:"name=timezone,type=BYTE_ARRAY,convertedtype=UTF8,encoding=PLAIN_DICTIONARY"`
	Temperature float64 `parquet:"name=temperature,type=DOUBLE"`
	WeatherCode int32   `parquet:"name=weather_code,type=INT32"`
	WindSpeed   float64 `parquet:"name=wind_speed,type=DOUBLE"`
}

// Exporter writes both tables as snappy-compressed parquet files.
// It implements pipeline.TableLoader.
type Exporter struct {
	dir    string
	logger *slog.Logger
}

// NewExporter creates an exporter that writes into dir, creating it if needed.
func NewExporter(dir string, logger *slog.Logger) *Exporter {
	return &Exporter{dir: dir, logger: logger}
}

// LoadTables replaces the daily and hourly files with the run's tables.
func (e *Exporter) LoadTables(ctx context.Context, runID string, tables domain.Tables) error {
	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return fmt.Errorf("create export dir: %w", err)
	}

	daily := make([]dailyRecord, len(tables.Daily))
	for i, r := range tables.Daily {
		daily[i] = dailyRecord{
			RunID:                 runID,
			Location:              r.Location,
			Date:                  r.Date.UnixMilli(),
			MaxWindSpeed:          r.MaxWindSpeed,
			DominantWindDirection: r.DominantWindDirection,
			WeatherCode:           int32(r.WeatherCode),
		}
	}
	dailyPath := filepath.Join(e.dir, DailyFile)
	if err := writeFile(ctx, dailyPath+".tmp", new(dailyRecord), daily); err != nil {
		return fmt.Errorf("export daily table: %w", err)
	}

	hourly := make([]hourlyRecord, len(tables.Hourly))
	for i, r := range tables.Hourly {
		hourly[i] = hourlyRecord{
			RunID:       runID,
			Location:    r.Location,
			Date:        r.Date.UnixMilli(),
			Timezone:    r.Date.Location().String(),
			Temperature: r.Temperature,
			WeatherCode: int32(r.WeatherCode),
			WindSpeed:   r.WindSpeed,
		}
	}
	hourlyPath := filepath.Join(e.dir, HourlyFile)
	if err := writeFile(ctx, hourlyPath+".tmp", new(hourlyRecord), hourly); err != nil {
		_ = os.Remove(dailyPath + ".tmp")
		return fmt.Errorf("export hourly table: %w", err)
	}

	// Both files are complete before either replaces the previous export.
	if err := os.Rename(dailyPath+".tmp", dailyPath); err != nil {
		_ = os.Remove(dailyPath + ".tmp")
		_ = os.Remove(hourlyPath + ".tmp")
		return fmt.Errorf("publish daily table: %w", err)
	}
	if err := os.Rename(hourlyPath+".tmp", hourlyPath); err != nil {
		_ = os.Remove(hourlyPath + ".tmp")
		return fmt.Errorf("publish hourly table: %w", err)
	}

	e.logger.Info("parquet export complete",
		"dir", e.dir,
		"daily_rows", len(daily),
		"hourly_rows", len(hourly),
	)
	return nil
}

// writeFile writes rows as a complete parquet file at tmp. The file is
// removed again on failure.
func writeFile[T any](ctx context.Context, tmp string, schema *T, rows []T) (err error) {
	fw, err := local.NewLocalFileWriter(tmp)
	if err != nil {
		return fmt.Errorf("create %s: %w", tmp, err)
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp)
		}
	}()

	pw, err := writer.NewParquetWriter(fw, schema, 1)
	if err != nil {
		_ = fw.Close()
		return fmt.Errorf("create parquet writer: %w", err)
	}
	pw.CompressionType = parquetgo.CompressionCodec_SNAPPY

	for i := range rows {
		if err := ctx.Err(); err != nil {
			_ = fw.Close()
			return err
		}
		if err := pw.Write(rows[i]); err != nil {
			_ = fw.Close()
			return fmt.Errorf("write row %d: %w", i, err)
		}
	}

	if err := writeStop(pw); err != nil {
		_ = fw.Close()
		return err
	}
	if err := fw.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmp, err)
	}
	return nil
}

// writeStop flushes the footer. WriteStop can panic on malformed schemas.
func writeStop(pw *writer.ParquetWriter) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("parquet write stop: panic: %v", r)
		}
	}()
	if err := pw.WriteStop(); err != nil {
		return fmt.Errorf("parquet write stop: %w", err)
	}
	return nil
}
