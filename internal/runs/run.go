// Package runs keeps a ledger of report executions. A run records what was
// asked and how it went, never which visitors were returned.
package runs

import (
	"fmt"
	"sort"
	"time"

	"github.com/goccy/go-json"
	"gorm.io/gorm"
)

// Operation names recorded in the ledger.
const (
	OperationVisitors      = "visitors"
	OperationVisitorDetail = "visitor_detail"
	OperationPowerUsers    = "power_users"
	OperationTrend         = "trend"
)

// Run is one executed report.
type Run struct {
	ID          uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Operation   string    `gorm:"not null;size:64;index" json:"operation"`
	StartDate   string    `gorm:"size:32" json:"start_date"`
	EndDate     string    `gorm:"size:32" json:"end_date"`
	ResultCount int       `json:"result_count"`
	DurationMs  int64     `json:"duration_ms"`
	Degraded    string    `gorm:"type:text" json:"-"`
	Variants    string    `gorm:"type:text" json:"-"`
	Error       string    `gorm:"size:1000" json:"error,omitempty"`
	CreatedAt   time.Time `gorm:"not null;index" json:"created_at"`
}

// TableName specifies the table name for GORM
func (Run) TableName() string {
	return "report_runs"
}

// Entry is the input to Record.
type Entry struct {
	Operation   string
	StartDate   string
	EndDate     string
	ResultCount int
	Duration    time.Duration
	Degraded    []string
	Variants    map[string]string
	Err         error
}

// Summary is the presentation form of a Run with its JSON columns decoded.
type Summary struct {
	ID          uint              `json:"id"`
	Operation   string            `json:"operation"`
	StartDate   string            `json:"start_date"`
	EndDate     string            `json:"end_date"`
	ResultCount int               `json:"result_count"`
	DurationMs  int64             `json:"duration_ms"`
	Degraded    []string          `json:"degraded"`
	Variants    map[string]string `json:"variants"`
	Error       string            `json:"error,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}

// Record stores an entry in the ledger.
func Record(db *gorm.DB, e Entry) (*Run, error) {
	if e.Operation == "" {
		return nil, fmt.Errorf("run operation is required")
	}

	degraded := e.Degraded
	if degraded == nil {
		degraded = []string{}
	}
	degradedJSON, err := json.Marshal(degraded)
	if err != nil {
		return nil, fmt.Errorf("failed to encode degraded sub-reports: %w", err)
	}

	variants := e.Variants
	if variants == nil {
		variants = map[string]string{}
	}
	variantsJSON, err := json.Marshal(variants)
	if err != nil {
		return nil, fmt.Errorf("failed to encode variants: %w", err)
	}

	run := &Run{
		Operation:   e.Operation,
		StartDate:   e.StartDate,
		EndDate:     e.EndDate,
		ResultCount: e.ResultCount,
		DurationMs:  e.Duration.Milliseconds(),
		Degraded:    string(degradedJSON),
		Variants:    string(variantsJSON),
		CreatedAt:   time.Now().UTC(),
	}
	if e.Err != nil {
		run.Error = truncate(e.Err.Error(), 1000)
	}

	if err := db.Create(run).Error; err != nil {
		return nil, fmt.Errorf("failed to record run: %w", err)
	}
	return run, nil
}

// Recent returns up to limit runs, newest first. An empty operation matches all.
func Recent(db *gorm.DB, operation string, limit int) ([]Summary, error) {
	if limit <= 0 {
		limit = 50
	}

	query := db.Model(&Run{}).Order("created_at DESC, id DESC").Limit(limit)
	if operation != "" {
		query = query.Where("operation = ?", operation)
	}

	var list []Run
	if err := query.Find(&list).Error; err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}

	summaries := make([]Summary, 0, len(list))
	for _, r := range list {
		s, err := r.Summary()
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, s)
	}
	return summaries, nil
}

// Summary decodes the JSON columns of a run.
func (r Run) Summary() (Summary, error) {
	s := Summary{
		ID:          r.ID,
		Operation:   r.Operation,
		StartDate:   r.StartDate,
		EndDate:     r.EndDate,
		ResultCount: r.ResultCount,
		DurationMs:  r.DurationMs,
		Degraded:    []string{},
		Variants:    map[string]string{},
		Error:       r.Error,
		CreatedAt:   r.CreatedAt,
	}
	if r.Degraded != "" {
		if err := json.Unmarshal([]byte(r.Degraded), &s.Degraded); err != nil {
			return Summary{}, fmt.Errorf("run %d: invalid degraded column: %w", r.ID, err)
		}
	}
	if r.Variants != "" {
		if err := json.Unmarshal([]byte(r.Variants), &s.Variants); err != nil {
			return Summary{}, fmt.Errorf("run %d: invalid variants column: %w", r.ID, err)
		}
	}
	sort.Strings(s.Degraded)
	return s, nil
}

// Prune deletes runs created before cutoff and returns how many were removed.
func Prune(db *gorm.DB, cutoff time.Time) (int64, error) {
	result := db.Where("created_at < ?", cutoff).Delete(&Run{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to prune runs: %w", result.Error)
	}
	return result.RowsAffected, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
