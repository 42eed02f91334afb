package services

import (
	"context"
	"fmt"
	"math"
	"testing"
	"time"

	"smartshot/internal/models"
)

func TestStatsService_EmptyStore(t *testing.T) {
	stats := NewStatsService(setupTestDB(t))

	snap, err := stats.ComputeSnapshot(context.Background())
	if err != nil {
		t.Fatalf("ComputeSnapshot failed: %v", err)
	}

	if snap.TotalScreenshots != 0 || snap.OCRProcessed != 0 || snap.Categorized != 0 || snap.Categories != 0 {
		t.Errorf("Expected all-zero counts, got %+v", snap)
	}
	if len(snap.CategoryBreakdown) != 0 || len(snap.ApplicationBreakdown) != 0 {
		t.Errorf("Expected empty breakdowns, got %+v", snap)
	}
}

func TestStatsService_SnapshotConsistentUnderWrites(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	shots := NewScreenshotService(db)
	stats := NewStatsService(db)

	const inserts = 200
	writerDone := make(chan error, 1)
	go func() {
		for i := 0; i < inserts; i++ {
			category := models.StringPtr([]string{"Code", "Web", "Docs"}[i%3])
			if _, err := shots.Upsert(ctx, fmt.Sprintf("/s/%d.png", i), models.ScreenshotAttrs{Category: category}); err != nil {
				writerDone <- err
				return
			}
		}
		writerDone <- nil
	}()

	sum := func(entries []models.BreakdownEntry) int64 {
		var n int64
		for _, e := range entries {
			n += e.Count
		}
		return n
	}

	for done := false; !done; {
		select {
		case err := <-writerDone:
			if err != nil {
				t.Fatalf("Upsert failed: %v", err)
			}
			done = true
		default:
		}

		snap, err := stats.ComputeSnapshot(ctx)
		if err != nil {
			t.Fatalf("ComputeSnapshot failed: %v", err)
		}
		if got := sum(snap.CategoryBreakdown); got != snap.TotalScreenshots {
			t.Fatalf("Category breakdown covers %d records, total is %d", got, snap.TotalScreenshots)
		}
		if got := sum(snap.ApplicationBreakdown); got != snap.TotalScreenshots {
			t.Fatalf("Application breakdown covers %d records, total is %d", got, snap.TotalScreenshots)
		}
	}
}

func TestStatsService_ComputeSnapshot(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	shots := NewScreenshotService(db)
	stats := NewStatsService(db)

	fixtures := []struct {
		path     string
		category *string
		app      *string
		ocr      *string
	}{
		{"/s/1.png", models.StringPtr("Code"), models.StringPtr("VS Code"), models.StringPtr("func")},
		{"/s/2.png", models.StringPtr("Code"), models.StringPtr("VS Code"), models.StringPtr("")},
		{"/s/3.png", models.StringPtr("Web"), models.StringPtr("Firefox"), models.StringPtr("search")},
		{"/s/4.png", models.StringPtr(models.DefaultCategory), nil, nil},
		{"/s/5.png", nil, models.StringPtr("Firefox"), nil},
	}
	for _, f := range fixtures {
		_, err := shots.Upsert(ctx, f.path, models.ScreenshotAttrs{Category: f.category, AppName: f.app, OCRText: f.ocr})
		if err != nil {
			t.Fatalf("Upsert failed: %v", err)
		}
	}

	snap, err := stats.ComputeSnapshot(ctx)
	if err != nil {
		t.Fatalf("ComputeSnapshot failed: %v", err)
	}

	if snap.TotalScreenshots != 5 {
		t.Errorf("Expected total 5, got %d", snap.TotalScreenshots)
	}
	if snap.OCRProcessed != 2 {
		t.Errorf("Expected 2 OCR processed (empty text excluded), got %d", snap.OCRProcessed)
	}
	if snap.Categorized != 3 {
		t.Errorf("Expected 3 categorized, got %d", snap.Categorized)
	}
	if snap.Categories != 3 {
		t.Errorf("Expected 3 distinct categories, got %d", snap.Categories)
	}

	// Code=2, Uncategorized=2 (explicit + null), Web=1
	want := []models.BreakdownEntry{
		{Label: "Code", Count: 2, Percentage: 40},
		{Label: models.DefaultCategory, Count: 2, Percentage: 40},
		{Label: "Web", Count: 1, Percentage: 20},
	}
	if len(snap.CategoryBreakdown) != len(want) {
		t.Fatalf("Expected %d categories, got %+v", len(want), snap.CategoryBreakdown)
	}
	for i, w := range want {
		if snap.CategoryBreakdown[i] != w {
			t.Errorf("Category %d: expected %+v, got %+v", i, w, snap.CategoryBreakdown[i])
		}
	}

	apps := snap.ApplicationBreakdown
	if len(apps) != 3 || apps[0].Label != "Firefox" || apps[1].Label != "VS Code" || apps[2].Label != unknownApp {
		t.Errorf("Unexpected application order: %+v", apps)
	}
}

func TestBuildBreakdown_PercentagesSumTo100(t *testing.T) {
	tests := []struct {
		name   string
		counts []int64
	}{
		{"thirds", []int64{1, 1, 1}},
		{"sevenths", []int64{1, 1, 1, 1, 1, 1, 1}},
		{"skewed", []int64{997, 1, 1, 1}},
		{"single", []int64{12}},
		{"mixed", []int64{5, 3, 3, 2, 1}},
		{"thirty singles", []int64{1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			groups := make([]groupCount, len(tt.counts))
			for i, c := range tt.counts {
				groups[i] = groupCount{label: string(rune('a' + i)), count: c}
			}

			entries := buildBreakdown(groups)
			var tenths int64
			for _, e := range entries {
				tenths += int64(math.Round(e.Percentage * 10))
			}
			if tenths < 999 || tenths > 1001 {
				t.Errorf("Percentages sum to %.1f, want 100.0 +/- 0.1", float64(tenths)/10)
			}
		})
	}
}

func TestBuildBreakdown_RoundsEachGroup(t *testing.T) {
	tests := []struct {
		name   string
		counts []int64
		want   []float64
	}{
		{"thirds", []int64{1, 1, 1}, []float64{33.3, 33.3, 33.3}},
		{"doubled thirds", []int64{2, 2, 2}, []float64{33.3, 33.3, 33.3}},
		{"sixths", []int64{1, 1, 1, 1, 1, 1}, []float64{16.7, 16.7, 16.7, 16.7, 16.7, 16.7}},
		{"mixed", []int64{5, 3, 3, 2, 1}, []float64{35.7, 21.4, 21.4, 14.3, 7.1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			groups := make([]groupCount, len(tt.counts))
			for i, c := range tt.counts {
				groups[i] = groupCount{label: string(rune('a' + i)), count: c}
			}

			entries := buildBreakdown(groups)
			for i, e := range entries {
				if e.Percentage != tt.want[i] {
					t.Errorf("Entry %s: expected %.1f, got %.1f", e.Label, tt.want[i], e.Percentage)
				}
			}
		})
	}
}

func TestBuildBreakdown_Order(t *testing.T) {
	entries := buildBreakdown([]groupCount{
		{label: "b", count: 1},
		{label: "c", count: 3},
		{label: "a", count: 1},
	})

	got := []string{entries[0].Label, entries[1].Label, entries[2].Label}
	want := []string{"c", "a", "b"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Expected order %v, got %v", want, got)
		}
	}
}

func TestTrend(t *testing.T) {
	tests := []struct {
		current, previous int64
		want              string
	}{
		{0, 0, "+0%"},
		{5, 0, "+100%"},
		{15, 10, "+50%"},
		{5, 10, "-50%"},
		{10, 10, "+0%"},
	}
	for _, tt := range tests {
		if got := trend(tt.current, tt.previous); got != tt.want {
			t.Errorf("trend(%d, %d) = %s, want %s", tt.current, tt.previous, got, tt.want)
		}
	}
}

func TestStatsService_ComputeDetailed(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	shots := NewScreenshotService(db)
	stats := NewStatsService(db)

	now := time.Now()
	fixtures := []struct {
		path string
		age  time.Duration
		size int64
	}{
		{"/s/new1.png", time.Hour, 1000},
		{"/s/new2.png", 2 * time.Hour, 1000},
		{"/s/prev.png", 10 * 24 * time.Hour, 500},
	}
	for _, f := range fixtures {
		_, err := shots.Upsert(ctx, f.path, models.ScreenshotAttrs{
			CreatedAt: now.Add(-f.age),
			FileSize:  f.size,
			Category:  models.StringPtr("Docs"),
		})
		if err != nil {
			t.Fatalf("Upsert failed: %v", err)
		}
	}

	detailed, err := stats.ComputeDetailed(ctx, 7)
	if err != nil {
		t.Fatalf("ComputeDetailed failed: %v", err)
	}

	if detailed.Overview.TotalScreenshots != 3 {
		t.Errorf("Expected total 3, got %d", detailed.Overview.TotalScreenshots)
	}
	if detailed.Overview.TotalSizeBytes != 2500 || detailed.Overview.TotalSize != "2.5 kB" {
		t.Errorf("Unexpected total size: %d / %s", detailed.Overview.TotalSizeBytes, detailed.Overview.TotalSize)
	}
	if detailed.Overview.AvgPerDay != 0.3 {
		t.Errorf("Expected avg 0.3 per day, got %v", detailed.Overview.AvgPerDay)
	}
	if detailed.Overview.MostActiveDay == "" {
		t.Error("Expected a most active day")
	}

	if len(detailed.Categories) != 1 {
		t.Fatalf("Expected 1 category in window, got %+v", detailed.Categories)
	}
	docs := detailed.Categories[0]
	if docs.Count != 2 || docs.Percentage != 100 || docs.Trend != "+100%" {
		t.Errorf("Unexpected Docs entry: %+v", docs)
	}
}
