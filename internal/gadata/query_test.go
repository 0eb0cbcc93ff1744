package gadata_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"visitorlens/internal/gadata"
	"visitorlens/internal/testsupport"
)

func TestQueryValidate(t *testing.T) {
	tests := []struct {
		name    string
		query   gadata.Query
		wantErr error
		ok      bool
	}{
		{
			name: "nine dimensions without filters fits the cap",
			query: gadata.Query{
				Name:       "visitors",
				Dimensions: []string{"a", "b", "c", "d", "e", "f", "g", "h", "i"},
				Metrics:    []string{gadata.MetricSessions},
			},
			ok: true,
		},
		{
			name: "dimensions plus filters over the cap",
			query: gadata.Query{
				Name:       "too-wide",
				Dimensions: []string{"a", "b", "c", "d", "e", "f"},
				Metrics:    []string{gadata.MetricSessions},
				Filters: []gadata.Filter{
					gadata.Exact("a", "1"), gadata.Exact("b", "2"),
					gadata.Exact("c", "3"), gadata.Exact("d", "4"),
				},
			},
			wantErr: gadata.ErrQueryTooWide,
		},
		{
			name:  "missing metrics",
			query: gadata.Query{Name: "empty", Dimensions: []string{gadata.DimDate}},
		},
		{
			name: "empty in-list filter",
			query: gadata.Query{
				Name:       "scroll",
				Dimensions: []string{gadata.DimPagePath},
				Metrics:    []string{gadata.MetricEventCount},
				Filters:    []gadata.Filter{gadata.InList(gadata.DimPagePath, nil)},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.query.Validate()
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestCheckShape(t *testing.T) {
	q := gadata.Query{
		Name:       "visitors",
		Dimensions: []string{gadata.DimDate, gadata.DimCountry},
		Metrics:    []string{gadata.MetricSessions},
	}

	t.Run("aligned rows pass", func(t *testing.T) {
		rows := []gadata.Row{{DimensionValues: []string{"20240301", "US"}, MetricValues: []float64{2}}}
		assert.NoError(t, gadata.CheckShape(q, rows))
	})

	t.Run("short dimension tuple fails", func(t *testing.T) {
		rows := []gadata.Row{
			{DimensionValues: []string{"20240301", "US"}, MetricValues: []float64{2}},
			{DimensionValues: []string{"20240301"}, MetricValues: []float64{2}},
		}
		err := gadata.CheckShape(q, rows)
		assert.ErrorIs(t, err, gadata.ErrSchemaMismatch)
		assert.Contains(t, err.Error(), "row 1")
	})

	t.Run("extra metric fails", func(t *testing.T) {
		rows := []gadata.Row{{DimensionValues: []string{"20240301", "US"}, MetricValues: []float64{2, 3}}}
		assert.ErrorIs(t, gadata.CheckShape(q, rows), gadata.ErrSchemaMismatch)
	})
}

func TestColumns(t *testing.T) {
	q := gadata.Query{
		Dimensions: []string{gadata.DimCountry, gadata.DimBrowser},
		Metrics:    []string{gadata.MetricSessions, gadata.MetricEngagedSessions},
	}
	cols := gadata.NewColumns(q)
	row := gadata.Row{DimensionValues: []string{"US", "Chrome"}, MetricValues: []float64{5, 4}}

	assert.Equal(t, "Chrome", cols.Dim(row, gadata.DimBrowser))
	assert.Equal(t, "", cols.Dim(row, gadata.DimCity))
	assert.Equal(t, 4.0, cols.Metric(row, gadata.MetricEngagedSessions))
	assert.Equal(t, 0.0, cols.Metric(row, gadata.MetricBounceRate))
	assert.True(t, cols.Has(gadata.DimCountry))
	assert.False(t, cols.Has(gadata.DimHour))
}

func TestBreakerRunner(t *testing.T) {
	settings := gadata.BreakerSettings{
		Name:         "test-breaker",
		MinRequests:  2,
		FailureRatio: 0.5,
		OpenTimeout:  time.Minute,
	}
	q := gadata.Query{Name: "visitors", Dimensions: []string{gadata.DimDate}, Metrics: []string{gadata.MetricSessions}}

	t.Run("opens after repeated source failures", func(t *testing.T) {
		stub := testsupport.NewStubRunner()
		stub.FailQuery("visitors", errors.New("upstream 500"))
		runner := gadata.NewBreakerRunner(stub, settings, testsupport.GetLogger())

		for i := 0; i < 2; i++ {
			_, err := runner.RunQuery(context.Background(), q)
			require.Error(t, err)
			assert.NotErrorIs(t, err, gadata.ErrAdapterUnavailable)
		}

		_, err := runner.RunQuery(context.Background(), q)
		assert.ErrorIs(t, err, gadata.ErrAdapterUnavailable)
		assert.Equal(t, "open", runner.State())
		assert.Len(t, stub.Calls(), 2, "open circuit must not reach the source")
	})

	t.Run("schema mismatches do not trip the circuit", func(t *testing.T) {
		stub := testsupport.NewStubRunner()
		stub.FailQuery("visitors", gadata.ErrSchemaMismatch)
		runner := gadata.NewBreakerRunner(stub, settings, testsupport.GetLogger())

		for i := 0; i < 4; i++ {
			_, err := runner.RunQuery(context.Background(), q)
			assert.ErrorIs(t, err, gadata.ErrSchemaMismatch)
		}
		assert.Equal(t, "closed", runner.State())
	})

	t.Run("passes rows through", func(t *testing.T) {
		stub := testsupport.NewStubRunner()
		stub.On("visitors", gadata.Row{DimensionValues: []string{"20240301"}, MetricValues: []float64{3}})
		runner := gadata.NewBreakerRunner(stub, settings, testsupport.GetLogger())

		rows, err := runner.RunQuery(context.Background(), q)
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, 3.0, rows[0].MetricValues[0])
	})
}
