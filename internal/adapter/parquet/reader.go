package parquet

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/reader"

	"github.com/couchcryptid/forecast-etl/internal/domain"
)

// ReadTables loads an export directory back into tables. Hourly timestamps
// are restored into the zone recorded next to them.
func ReadTables(dir string) (domain.Tables, error) {
	daily, err := readFile[dailyRecord](filepath.Join(dir, DailyFile))
	if err != nil {
		return domain.Tables{}, err
	}
	hourly, err := readFile[hourlyRecord](filepath.Join(dir, HourlyFile))
	if err != nil {
		return domain.Tables{}, err
	}

	tables := domain.Tables{
		Daily:  make([]domain.DailyRow, len(daily)),
		Hourly: make([]domain.HourlyRow, len(hourly)),
	}
	for i, r := range daily {
		tables.Daily[i] = domain.DailyRow{
			Location:              r.Location,
			Date:                  time.UnixMilli(r.Date).UTC(),
			MaxWindSpeed:          r.MaxWindSpeed,
			DominantWindDirection: r.DominantWindDirection,
			WeatherCode:           int(r.WeatherCode),
		}
	}

	zones := map[string]*time.Location{}
	for i, r := range hourly {
		zone, ok := zones[r.Timezone]
		if !ok {
			zone, err = time.LoadLocation(r.Timezone)
			if err != nil {
				return domain.Tables{}, fmt.Errorf("hourly row %d: %w", i, err)
			}
			zones[r.Timezone] = zone
		}
		tables.Hourly[i] = domain.HourlyRow{
			Location:    r.Location,
			Date:        time.UnixMilli(r.Date).In(zone),
			Temperature: r.Temperature,
			WeatherCode: int(r.WeatherCode),
			WindSpeed:   r.WindSpeed,
		}
	}
	return tables, nil
}

func readFile[T any](path string) ([]T, error) {
	fr, err := local.NewLocalFileReader(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer fr.Close()

	pr, err := reader.NewParquetReader(fr, new(T), 1)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	defer pr.ReadStop()

	n := pr.GetNumRows()
	if n == 0 {
		return nil, nil
	}
	rows := make([]T, n)
	if err := pr.Read(&rows); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return rows, nil
}
