package analytics

import (
	"context"
	"log/slog"

	"visitorlens/internal/gadata"
	"visitorlens/internal/metrics"
)

// VariantFailed marks a fallback chain in which no variant succeeded.
const VariantFailed = "failed"

// VariantSkipped marks a chain that had nothing to query.
const VariantSkipped = "skipped"

// Variant is one query of an ordered fallback chain.
type Variant struct {
	Name  string
	Query gadata.Query
}

type variantResult struct {
	Variant string
	Query   gadata.Query
	Rows    []gadata.Row
}

// runVariants tries each variant in order and returns the first that succeeds.
// Every ordinary failure moves on to the next variant, since the source gives
// no structured reason for rejecting a dimension combination. Contract
// violations stop the chain.
func (e *Engine) runVariants(ctx context.Context, chain string, variants []Variant) (variantResult, error) {
	var lastErr error
	for _, v := range variants {
		rows, err := e.query(ctx, v.Query)
		if err == nil {
			metrics.FallbackVariants.WithLabelValues(chain, v.Name).Inc()
			return variantResult{Variant: v.Name, Query: v.Query, Rows: rows}, nil
		}
		if isContractError(err) {
			return variantResult{Variant: VariantFailed}, err
		}

		e.logger.Debug("Fallback variant failed",
			slog.String("chain", chain),
			slog.String("variant", v.Name),
			slog.Any("error", err))
		lastErr = err
	}

	metrics.FallbackVariants.WithLabelValues(chain, VariantFailed).Inc()
	return variantResult{Variant: VariantFailed}, lastErr
}
