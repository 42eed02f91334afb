package models

// BreakdownEntry is one group of a category or application breakdown
type BreakdownEntry struct {
	Label      string  `json:"label" yaml:"label"`
	Count      int64   `json:"count" yaml:"count"`
	Percentage float64 `json:"percentage" yaml:"percentage"`
	Trend      string  `json:"trend,omitempty" yaml:"trend,omitempty"`
}

// StatsSnapshot is a freshly computed aggregate of the record store.
// It is never persisted.
type StatsSnapshot struct {
	TotalScreenshots     int64            `json:"totalScreenshots" yaml:"totalScreenshots"`
	OCRProcessed         int64            `json:"ocrProcessed" yaml:"ocrProcessed"`
	Categorized          int64            `json:"categorized" yaml:"categorized"`
	Categories           int64            `json:"categories" yaml:"categories"`
	CategoryBreakdown    []BreakdownEntry `json:"categoryBreakdown" yaml:"categoryBreakdown"`
	ApplicationBreakdown []BreakdownEntry `json:"applicationBreakdown" yaml:"applicationBreakdown"`
}

// StatsOverview is the headline block of the detailed statistics view
type StatsOverview struct {
	TotalScreenshots int64   `json:"totalScreenshots" yaml:"totalScreenshots"`
	OCRProcessed     int64   `json:"ocrProcessed" yaml:"ocrProcessed"`
	Categorized      int64   `json:"categorized" yaml:"categorized"`
	TotalSize        string  `json:"totalSize" yaml:"totalSize"`
	TotalSizeBytes   int64   `json:"totalSizeBytes" yaml:"totalSizeBytes"`
	AvgPerDay        float64 `json:"avgPerDay" yaml:"avgPerDay"`
	MostActiveDay    string  `json:"mostActiveDay" yaml:"mostActiveDay"`
}

// DetailedStats is the response of the detailed statistics query
type DetailedStats struct {
	Days         int              `json:"days" yaml:"days"`
	Overview     StatsOverview    `json:"overview" yaml:"overview"`
	Categories   []BreakdownEntry `json:"categories" yaml:"categories"`
	Applications []BreakdownEntry `json:"applications" yaml:"applications"`
}
