// Command validate checks a parquet export written by forecast-etl. It reads
// both tables back and verifies date alignment, per-location cadence, table
// consistency, and that every row belongs to a registry location in registry
// order.
//
// Usage:
//
//	go run ./cmd/validate -dir data/export
//	go run ./cmd/validate -dir data/export -days 7
package main

import (
	"flag"
	"fmt"
	"math"
	"os"
	"time"
	_ "time/tzdata"

	"github.com/couchcryptid/forecast-etl/internal/adapter/parquet"
	"github.com/couchcryptid/forecast-etl/internal/domain"
)

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

func main() {
	dir := flag.String("dir", "", "export directory containing the parquet tables")
	days := flag.Int("days", 0, "expected forecast days per location (0 skips the check)")
	flag.Parse()

	if *dir == "" {
		flag.Usage()
		os.Exit(1)
	}

	os.Exit(run(*dir, *days))
}

func run(dir string, days int) int {
	fmt.Println("=== Forecast Export Validation ===")
	fmt.Println()

	tables, err := parquet.ReadTables(dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: read export: %v\n", err)
		return 1
	}
	reg, err := domain.NewRegistry(domain.DefaultLocations())
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: registry: %v\n", err)
		return 1
	}

	phases := []*phase{
		validateDaily(tables.Daily, days),
		validateHourly(tables.Hourly),
		validateConsistency(tables),
		validateRegistry(tables, reg),
	}

	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Printf("  %-42s %s\n", p.name, status)
	}

	fmt.Println()
	fmt.Printf("Rows: %d daily, %d hourly\n", len(tables.Daily), len(tables.Hourly))

	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Printf("\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			fmt.Printf("  [%d] %s\n", i+1, e)
		}
	}

	if allPassed {
		fmt.Println("\nAll validations passed.")
		return 0
	}
	fmt.Println("\nValidation FAILED.")
	return 1
}

// ── Phase 1: Daily table ──

func validateDaily(rows []domain.DailyRow, days int) *phase {
	p := &phase{name: "Phase 1: Daily table (UTC days)"}

	counts := map[string]int{}
	for i, r := range rows {
		if r.Date.Location() != time.UTC {
			p.errorf("daily %d (%s): date %s is not UTC", i, r.Location, r.Date)
		}
		if !r.Date.Equal(r.Date.Truncate(24 * time.Hour)) {
			p.errorf("daily %d (%s): date %s is not midnight", i, r.Location, r.Date.Format(time.RFC3339))
		}
		if i > 0 && rows[i-1].Location == r.Location {
			if step := r.Date.Sub(rows[i-1].Date); step != 24*time.Hour {
				p.errorf("daily %d (%s): step %s, expected 24h", i, r.Location, step)
			}
		}
		if !math.IsNaN(r.DominantWindDirection) && (r.DominantWindDirection < 0 || r.DominantWindDirection > 360) {
			p.errorf("daily %d (%s): wind direction %g outside [0, 360]", i, r.Location, r.DominantWindDirection)
		}
		checkWeatherCode(p, "daily", i, r.Location, r.WeatherCode)
		counts[r.Location]++
	}

	if days > 0 {
		for loc, n := range counts {
			if n != days {
				p.errorf("%s: %d daily rows, expected %d", loc, n, days)
			}
		}
	}
	return p
}

// ── Phase 2: Hourly table ──

func validateHourly(rows []domain.HourlyRow) *phase {
	p := &phase{name: "Phase 2: Hourly table (local time)"}

	for i, r := range rows {
		if i > 0 && rows[i-1].Location == r.Location {
			prev := rows[i-1]
			if step := r.Date.Sub(prev.Date); step != time.Hour {
				p.errorf("hourly %d (%s): step %s, expected 1h", i, r.Location, step)
			}
			if prev.Date.Location().String() != r.Date.Location().String() {
				p.errorf("hourly %d (%s): zone changed from %s to %s", i, r.Location, prev.Date.Location(), r.Date.Location())
			}
		}
		checkWeatherCode(p, "hourly", i, r.Location, r.WeatherCode)
	}
	return p
}

// ── Phase 3: Table consistency ──

func validateConsistency(tables domain.Tables) *phase {
	p := &phase{name: "Phase 3: Table consistency (daily vs hourly)"}

	daily := map[string]int{}
	for _, r := range tables.Daily {
		daily[r.Location]++
	}
	hourly := map[string]int{}
	for _, r := range tables.Hourly {
		hourly[r.Location]++
	}

	// Either batch may be dropped on its own, so only compare locations with both.
	for loc, d := range daily {
		h, ok := hourly[loc]
		if !ok {
			continue
		}
		if h != d*24 {
			p.errorf("%s: %d hourly rows for %d days, expected %d", loc, h, d, d*24)
		}
	}
	return p
}

// ── Phase 4: Registry ──

func validateRegistry(tables domain.Tables, reg *domain.Registry) *phase {
	p := &phase{name: "Phase 4: Registry (names and order)"}

	order := map[string]int{}
	for i, loc := range reg.Locations() {
		order[loc.Name] = i
	}

	check := func(table string, names []string) {
		last := -1
		seen := map[string]bool{}
		for i, name := range names {
			pos, ok := order[name]
			if !ok {
				p.errorf("%s %d: unknown location %q", table, i, name)
				continue
			}
			if i > 0 && names[i-1] == name {
				continue
			}
			if seen[name] {
				p.errorf("%s %d: %s rows are not contiguous", table, i, name)
			} else if pos < last {
				p.errorf("%s %d: %s appears after a later registry location", table, i, name)
			}
			seen[name] = true
			last = max(last, pos)
		}
	}

	daily := make([]string, len(tables.Daily))
	for i, r := range tables.Daily {
		daily[i] = r.Location
	}
	hourly := make([]string, len(tables.Hourly))
	for i, r := range tables.Hourly {
		hourly[i] = r.Location
	}
	check("daily", daily)
	check("hourly", hourly)
	return p
}

// ── Helpers ──

func checkWeatherCode(p *phase, table string, i int, loc string, code int) {
	if code != domain.MissingWeatherCode && (code < 0 || code > 99) {
		p.errorf("%s %d (%s): weather code %d outside WMO range", table, i, loc, code)
	}
}
