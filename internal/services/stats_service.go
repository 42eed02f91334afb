package services

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/dustin/go-humanize"

	"smartshot/internal/database"
	"smartshot/internal/models"
)

const (
	defaultDetailedDays = 30
	maxDetailedDays     = 3650

	unknownApp = "Unknown"
)

// StatsService computes aggregate statistics over the record store on demand.
// Nothing is cached; every call reads the current table.
type StatsService struct {
	db *database.DB
}

// queryer is satisfied by both *database.DB and *sql.Tx
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// NewStatsService creates a new stats service
func NewStatsService(db *database.DB) *StatsService {
	return &StatsService{db: db}
}

// readTx opens the transaction every aggregate runs in, so counts and
// breakdowns in one result describe the same table state
func (s *StatsService) readTx(ctx context.Context, op string) (*sql.Tx, error) {
	// ReadOnly is only requested where the driver honours it; the tx is never written to
	opts := &sql.TxOptions{ReadOnly: s.db.Dialect() == database.DialectMySQL}
	tx, err := s.db.BeginTx(ctx, opts)
	if err != nil {
		return nil, &models.StoreError{Op: op, Err: err}
	}
	return tx, nil
}

// ComputeSnapshot builds a fresh StatsSnapshot. Read-only and safe to call
// concurrently with writers.
func (s *StatsService) ComputeSnapshot(ctx context.Context) (*models.StatsSnapshot, error) {
	tx, err := s.readTx(ctx, "stats")
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	snap := &models.StatsSnapshot{}

	err = tx.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN ocr_text IS NOT NULL AND ocr_text != '' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN category IS NOT NULL AND category != ? THEN 1 ELSE 0 END), 0),
			COUNT(DISTINCT category)
		FROM screenshots
	`, models.DefaultCategory).Scan(&snap.TotalScreenshots, &snap.OCRProcessed, &snap.Categorized, &snap.Categories)
	if err != nil {
		return nil, &models.StoreError{Op: "stats", Err: err}
	}

	snap.CategoryBreakdown, err = s.breakdown(ctx, tx, "category", models.DefaultCategory, 0)
	if err != nil {
		return nil, err
	}
	snap.ApplicationBreakdown, err = s.breakdown(ctx, tx, "app_name", unknownApp, 0)
	if err != nil {
		return nil, err
	}

	return snap, nil
}

// ComputeDetailed builds the detailed statistics view for the last days days.
// Breakdowns cover the window and carry a trend against the window before it.
func (s *StatsService) ComputeDetailed(ctx context.Context, days int) (*models.DetailedStats, error) {
	if days <= 0 {
		days = defaultDetailedDays
	}
	if days > maxDetailedDays {
		days = maxDetailedDays
	}

	now := time.Now()
	since := now.AddDate(0, 0, -days).UnixMilli()
	prevSince := now.AddDate(0, 0, -2*days).UnixMilli()

	tx, err := s.readTx(ctx, "detailed stats")
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	result := &models.DetailedStats{Days: days}
	ov := &result.Overview

	var inWindow int64
	err = tx.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN ocr_text IS NOT NULL AND ocr_text != '' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN category IS NOT NULL AND category != ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(file_size), 0),
			COALESCE(SUM(CASE WHEN created_at >= ? THEN 1 ELSE 0 END), 0)
		FROM screenshots
	`, models.DefaultCategory, since).Scan(&ov.TotalScreenshots, &ov.OCRProcessed, &ov.Categorized, &ov.TotalSizeBytes, &inWindow)
	if err != nil {
		return nil, &models.StoreError{Op: "detailed stats", Err: err}
	}

	ov.TotalSize = humanize.Bytes(uint64(ov.TotalSizeBytes))
	ov.AvgPerDay = math.Round(float64(inWindow)/float64(days)*10) / 10

	ov.MostActiveDay, err = s.mostActiveDay(ctx, tx, since)
	if err != nil {
		return nil, err
	}

	result.Categories, err = s.breakdownWithTrend(ctx, tx, "category", models.DefaultCategory, since, prevSince)
	if err != nil {
		return nil, err
	}
	result.Applications, err = s.breakdownWithTrend(ctx, tx, "app_name", unknownApp, since, prevSince)
	if err != nil {
		return nil, err
	}

	return result, nil
}

type groupCount struct {
	label string
	count int64
}

// groupCounts counts records per column value created at or after since.
// NULL values are folded into nullLabel so the groups cover every record.
func (s *StatsService) groupCounts(ctx context.Context, q queryer, column, nullLabel string, since int64) ([]groupCount, error) {
	query := fmt.Sprintf(`
		SELECT COALESCE(%[1]s, ?) AS label, COUNT(*)
		FROM screenshots
		WHERE created_at >= ?
		GROUP BY label
	`, column)

	rows, err := q.QueryContext(ctx, query, nullLabel, since)
	if err != nil {
		return nil, &models.StoreError{Op: "breakdown", Err: err}
	}
	defer rows.Close()

	var groups []groupCount
	for rows.Next() {
		var g groupCount
		if err := rows.Scan(&g.label, &g.count); err != nil {
			return nil, &models.StoreError{Op: "breakdown", Err: err}
		}
		groups = append(groups, g)
	}
	if err := rows.Err(); err != nil {
		return nil, &models.StoreError{Op: "breakdown", Err: err}
	}
	return groups, nil
}

func (s *StatsService) breakdown(ctx context.Context, q queryer, column, nullLabel string, since int64) ([]models.BreakdownEntry, error) {
	groups, err := s.groupCounts(ctx, q, column, nullLabel, since)
	if err != nil {
		return nil, err
	}
	return buildBreakdown(groups), nil
}

func (s *StatsService) breakdownWithTrend(ctx context.Context, q queryer, column, nullLabel string, since, prevSince int64) ([]models.BreakdownEntry, error) {
	current, err := s.groupCounts(ctx, q, column, nullLabel, since)
	if err != nil {
		return nil, err
	}
	both, err := s.groupCounts(ctx, q, column, nullLabel, prevSince)
	if err != nil {
		return nil, err
	}

	currentByLabel := make(map[string]int64, len(current))
	for _, g := range current {
		currentByLabel[g.label] = g.count
	}
	previousByLabel := make(map[string]int64, len(both))
	for _, g := range both {
		previousByLabel[g.label] = g.count - currentByLabel[g.label]
	}

	entries := buildBreakdown(current)
	for i := range entries {
		entries[i].Trend = trend(entries[i].Count, previousByLabel[entries[i].Label])
	}
	return entries, nil
}

func (s *StatsService) mostActiveDay(ctx context.Context, q queryer, since int64) (string, error) {
	weekday := "CAST(strftime('%w', created_at / 1000, 'unixepoch') AS INTEGER)"
	if s.db.Dialect() == database.DialectMySQL {
		weekday = "(DAYOFWEEK(FROM_UNIXTIME(created_at / 1000)) - 1)"
	}

	rows, err := q.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s AS weekday, COUNT(*) AS n
		FROM screenshots
		WHERE created_at >= ?
		GROUP BY weekday
	`, weekday), since)
	if err != nil {
		return "", &models.StoreError{Op: "most active day", Err: err}
	}
	defer rows.Close()

	best, bestCount := -1, int64(0)
	for rows.Next() {
		var day int
		var n int64
		if err := rows.Scan(&day, &n); err != nil {
			return "", &models.StoreError{Op: "most active day", Err: err}
		}
		// earlier weekday wins a tie
		if n > bestCount || (n == bestCount && day < best) {
			best, bestCount = day, n
		}
	}
	if err := rows.Err(); err != nil {
		return "", &models.StoreError{Op: "most active day", Err: err}
	}
	if best < 0 || best > 6 {
		return "", nil
	}
	return time.Weekday(best).String(), nil
}

// buildBreakdown orders groups by count desc, label asc and assigns each
// entry round(count*100/total, 1). Rounding drift is only corrected when the
// sum would leave 100.0 +/- 0.1, which takes many small groups.
func buildBreakdown(groups []groupCount) []models.BreakdownEntry {
	sort.Slice(groups, func(i, j int) bool {
		if groups[i].count != groups[j].count {
			return groups[i].count > groups[j].count
		}
		return groups[i].label < groups[j].label
	})

	entries := make([]models.BreakdownEntry, len(groups))
	var total int64
	for i, g := range groups {
		entries[i] = models.BreakdownEntry{Label: g.label, Count: g.count}
		total += g.count
	}
	if total == 0 {
		return entries
	}

	// work in tenths of a percent, rounding half up
	tenths := make([]int64, len(groups))
	var sum int64
	for i, g := range groups {
		tenths[i] = (g.count*2000 + total) / (2 * total)
		sum += tenths[i]
	}

	if sum > 1001 || sum < 999 {
		// residual in 1/total tenths: positive means the entry was rounded down
		residual := func(i int) int64 { return groups[i].count*1000 - tenths[i]*total }
		order := make([]int, len(groups))
		for i := range order {
			order[i] = i
		}
		if sum > 1001 {
			sort.SliceStable(order, func(a, b int) bool { return residual(order[a]) < residual(order[b]) })
			for k := 0; sum > 1001 && k < len(order); k++ {
				tenths[order[k]]--
				sum--
			}
		} else {
			sort.SliceStable(order, func(a, b int) bool { return residual(order[a]) > residual(order[b]) })
			for k := 0; sum < 999 && k < len(order); k++ {
				tenths[order[k]]++
				sum++
			}
		}
	}

	for i := range entries {
		entries[i].Percentage = float64(tenths[i]) / 10
	}
	return entries
}

// trend renders the change between two window counts as "+N%" or "-N%"
func trend(current, previous int64) string {
	if previous == 0 {
		if current == 0 {
			return "+0%"
		}
		return "+100%"
	}
	change := int64(math.Round(float64(current-previous) * 100 / float64(previous)))
	if change < 0 {
		return fmt.Sprintf("%d%%", change)
	}
	return fmt.Sprintf("+%d%%", change)
}
