package testsupport

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"
	ctestsupport "github.com/karloscodes/cartridge/testsupport"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"visitorlens/internal"
	"visitorlens/internal/analytics"
	"visitorlens/internal/config"
	"visitorlens/internal/gadata"
	apphttp "visitorlens/internal/http"
	"visitorlens/internal/runs"
)

// Record is a canned source row described by name rather than position.
// StubRunner aligns it to whatever dimensions and metrics a query asks for;
// names the query requests but the record lacks become "" and 0.
type Record struct {
	Dims    map[string]string
	Metrics map[string]float64
}

// StubRunner is a gadata.Runner double returning canned rows per query name.
type StubRunner struct {
	mu       sync.Mutex
	records  map[string][]Record
	raw      map[string][]gadata.Row
	failures map[string]error
	calls    []gadata.Query
}

func NewStubRunner() *StubRunner {
	return &StubRunner{
		records:  make(map[string][]Record),
		raw:      make(map[string][]gadata.Row),
		failures: make(map[string]error),
	}
}

// OnRecords registers records returned for queries with the given name.
func (s *StubRunner) OnRecords(name string, recs ...Record) *StubRunner {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[name] = append(s.records[name], recs...)
	return s
}

// On registers rows returned verbatim, without alignment.
func (s *StubRunner) On(name string, rows ...gadata.Row) *StubRunner {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.raw[name] = append(s.raw[name], rows...)
	return s
}

// FailQuery makes queries with the given name fail with err.
func (s *StubRunner) FailQuery(name string, err error) *StubRunner {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[name] = err
	return s
}

// RunQuery implements gadata.Runner. Queries breaking the source contract fail
// the same way the real client would.
func (s *StubRunner) RunQuery(ctx context.Context, q gadata.Query) ([]gadata.Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls = append(s.calls, q)

	if err := q.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err, ok := s.failures[q.Name]; ok {
		return nil, err
	}

	rows := append([]gadata.Row(nil), s.raw[q.Name]...)
	for _, rec := range s.records[q.Name] {
		rows = append(rows, align(q, rec))
	}
	return rows, nil
}

func align(q gadata.Query, rec Record) gadata.Row {
	row := gadata.Row{
		DimensionValues: make([]string, len(q.Dimensions)),
		MetricValues:    make([]float64, len(q.Metrics)),
	}
	for i, d := range q.Dimensions {
		row.DimensionValues[i] = rec.Dims[d]
	}
	for i, m := range q.Metrics {
		row.MetricValues[i] = rec.Metrics[m]
	}
	return row
}

// Calls returns every query received so far.
func (s *StubRunner) Calls() []gadata.Query {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]gadata.Query(nil), s.calls...)
}

// CallsNamed returns the queries received with the given name.
func (s *StubRunner) CallsNamed(name string) []gadata.Query {
	var out []gadata.Query
	for _, q := range s.Calls() {
		if q.Name == name {
			out = append(out, q)
		}
	}
	return out
}

// FilterValue returns the value of the first filter on dimension, if any.
func FilterValue(q gadata.Query, dimension string) (gadata.Filter, bool) {
	for _, f := range q.Filters {
		if f.Dimension == dimension {
			return f, true
		}
	}
	return gadata.Filter{}, false
}

// GetLogger returns a test logger
func GetLogger() *slog.Logger {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError})
	return slog.New(handler)
}

// SetupTestDB creates an in-memory run ledger database for a single test.
func SetupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	sanitizedName := strings.ReplaceAll(t.Name(), "/", "_")
	dsn := fmt.Sprintf("file:test_%s_%d?mode=memory&cache=shared", sanitizedName, time.Now().UnixNano())

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("testsupport: failed to open test database: %v", err)
	}

	if err := db.AutoMigrate(&runs.Run{}); err != nil {
		t.Fatalf("testsupport: failed to migrate models: %v", err)
	}

	t.Cleanup(func() {
		sqlDB, err := db.DB()
		if err == nil {
			sqlDB.Close()
		}
	})

	return db
}

// TestDBManager wraps cartridge's TestDBManager for the run ledger
type TestDBManager struct {
	*ctestsupport.TestDBManager
}

// NewTestDBManager creates a TestDBManager that implements cartridge.DBManager
func NewTestDBManager(db *gorm.DB) *TestDBManager {
	return &TestDBManager{
		TestDBManager: ctestsupport.NewTestDBManager(db),
	}
}

// Ensure TestDBManager implements cartridge.DBManager
var _ cartridge.DBManager = (*TestDBManager)(nil)

// SetupTestDBManager creates a test DB manager using cartridge's testsupport
func SetupTestDBManager(t *testing.T) (*TestDBManager, *slog.Logger) {
	t.Helper()

	db := SetupTestDB(t)
	return NewTestDBManager(db), GetLogger()
}

// CreateMinimalTestApp builds the HTTP surface over db, backed by runner.
// A nil runner leaves the engine without an analytics source.
func CreateMinimalTestApp(t *testing.T, db *gorm.DB, runner gadata.Runner) *fiber.App {
	t.Helper()

	appConfig := config.GetConfig()
	appConfig.Environment = config.Test

	logger := GetLogger()
	engine := analytics.NewEngine(runner, logger, analytics.DefaultOptions())

	cfg := cartridge.DefaultServerConfig()
	cfg.Config = appConfig
	cfg.Logger = logger
	cfg.DBManager = NewTestDBManager(db)
	cfg.EnableSecFetchSite = false

	srv, err := cartridge.NewServer(cfg)
	require.NoError(t, err)

	internal.MountAppRoutes(srv, apphttp.NewReports(engine, nil))
	return srv.App()
}
