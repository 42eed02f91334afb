package preflight

import (
	"fmt"
	"log"
	"os"

	"smartshot/internal/config"
	"smartshot/internal/database"
	"smartshot/internal/jobs"
)

// Check statuses
const (
	StatusPass    = "pass"
	StatusFail    = "fail"
	StatusWarning = "warning"
)

// CheckResult represents the result of a preflight check
type CheckResult struct {
	Name    string
	Status  string // "pass", "fail", "warning"
	Message string
	Error   error
}

// Checker performs pre-flight checks before server starts
type Checker struct {
	db  *database.DB
	cfg *config.Config
}

// NewChecker creates a new preflight checker
func NewChecker(db *database.DB, cfg *config.Config) *Checker {
	return &Checker{db: db, cfg: cfg}
}

// RunAll runs all preflight checks and returns results. A missing watch
// root is only a warning: the server runs without live detection.
func (c *Checker) RunAll() []CheckResult {
	log.Println("🔍 Running pre-flight checks...")

	results := []CheckResult{
		c.checkDatabaseConnection(),
		c.checkDatabaseSchema(),
		c.checkWatchRoot(),
		c.checkRescanSchedule(),
		c.checkFrontendDir(),
	}

	passed, failed, warnings := 0, 0, 0
	for _, result := range results {
		switch result.Status {
		case StatusPass:
			log.Printf("   ✅ %s: %s", result.Name, result.Message)
			passed++
		case StatusFail:
			log.Printf("   ❌ %s: %s", result.Name, result.Message)
			if result.Error != nil {
				log.Printf("      Error: %v", result.Error)
			}
			failed++
		case StatusWarning:
			log.Printf("   ⚠️  %s: %s", result.Name, result.Message)
			warnings++
		}
	}

	log.Printf("📊 Pre-flight summary: %d passed, %d failed, %d warnings", passed, failed, warnings)

	return results
}

// HasFailures returns true if any check failed
func HasFailures(results []CheckResult) bool {
	for _, result := range results {
		if result.Status == StatusFail {
			return true
		}
	}
	return false
}

func (c *Checker) checkDatabaseConnection() CheckResult {
	if err := c.db.Ping(); err != nil {
		return CheckResult{
			Name:    "Database Connection",
			Status:  StatusFail,
			Message: "Cannot connect to database",
			Error:   err,
		}
	}

	return CheckResult{
		Name:    "Database Connection",
		Status:  StatusPass,
		Message: fmt.Sprintf("%s database reachable", c.db.Dialect()),
	}
}

// checkDatabaseSchema verifies the record and settings tables exist
func (c *Checker) checkDatabaseSchema() CheckResult {
	requiredTables := []string{"screenshots", "settings"}

	query := "SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?"
	if c.db.Dialect() == database.DialectMySQL {
		query = "SELECT COUNT(*) FROM INFORMATION_SCHEMA.TABLES WHERE TABLE_SCHEMA = DATABASE() AND TABLE_NAME = ?"
	}

	for _, table := range requiredTables {
		var count int
		err := c.db.QueryRow(query, table).Scan(&count)
		if err != nil || count == 0 {
			return CheckResult{
				Name:    "Database Schema",
				Status:  StatusFail,
				Message: fmt.Sprintf("Required table '%s' not found", table),
				Error:   err,
			}
		}
	}

	return CheckResult{
		Name:    "Database Schema",
		Status:  StatusPass,
		Message: fmt.Sprintf("All %d required tables exist", len(requiredTables)),
	}
}

func (c *Checker) checkWatchRoot() CheckResult {
	if !c.cfg.IngestEnabled {
		return CheckResult{
			Name:    "Watch Root",
			Status:  StatusPass,
			Message: "Ingest disabled",
		}
	}

	root := config.ExpandHome(c.cfg.WatchPath)
	info, err := os.Stat(root)
	if err != nil {
		return CheckResult{
			Name:    "Watch Root",
			Status:  StatusWarning,
			Message: fmt.Sprintf("%s is not accessible, live detection will be disabled", root),
			Error:   err,
		}
	}
	if !info.IsDir() {
		return CheckResult{
			Name:    "Watch Root",
			Status:  StatusWarning,
			Message: fmt.Sprintf("%s is not a directory, live detection will be disabled", root),
		}
	}

	return CheckResult{
		Name:    "Watch Root",
		Status:  StatusPass,
		Message: root,
	}
}

func (c *Checker) checkRescanSchedule() CheckResult {
	if c.cfg.RescanSchedule == "" {
		return CheckResult{
			Name:    "Rescan Schedule",
			Status:  StatusPass,
			Message: "Scheduled rescans disabled",
		}
	}

	if err := jobs.ValidateSchedule(c.cfg.RescanSchedule); err != nil {
		return CheckResult{
			Name:    "Rescan Schedule",
			Status:  StatusFail,
			Message: fmt.Sprintf("Invalid cron expression %q", c.cfg.RescanSchedule),
			Error:   err,
		}
	}

	return CheckResult{
		Name:    "Rescan Schedule",
		Status:  StatusPass,
		Message: c.cfg.RescanSchedule,
	}
}

func (c *Checker) checkFrontendDir() CheckResult {
	if !c.cfg.ServeFrontend {
		return CheckResult{
			Name:    "Frontend",
			Status:  StatusPass,
			Message: "Not served by this process",
		}
	}

	if _, err := os.Stat(c.cfg.FrontendDir); err != nil {
		return CheckResult{
			Name:    "Frontend",
			Status:  StatusWarning,
			Message: fmt.Sprintf("SERVE_FRONTEND=true but %s not found", c.cfg.FrontendDir),
			Error:   err,
		}
	}

	return CheckResult{
		Name:    "Frontend",
		Status:  StatusPass,
		Message: c.cfg.FrontendDir,
	}
}
