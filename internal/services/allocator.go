// Package services – code allocation.
//
// This file implements the gapless monthly code allocator. Allocation is a
// read-scan-then-insert: inside the caller's transaction it lists the codes
// already taken for the scope's month, computes the smallest unused suffix,
// and formats the code. The transaction plus the unique index on numero and
// a bounded retry loop (see PrestationService) close the race two concurrent
// intakes would otherwise hit by observing the same gap.
//
// When the scan itself fails, the allocator degrades to count+1. That path
// does not gap-fill and can collide under concurrency; it exists only so a
// transient scan failure does not block the intake desk, and every use is
// logged and counted.
package services

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/gcgeo/go-prestation-backend/internal/numbering"
	"github.com/gcgeo/go-prestation-backend/internal/repo"
)

var (
	// allocTotal counts allocation outcomes by scope: "scanned" for the
	// primary gap-filling path, "fallback" for count+1, "error" for failures.
	allocTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prestation_code_allocations_total",
			Help: "Code allocations by scope and outcome.",
		},
		[]string{"scope", "outcome"},
	)

	// allocRetries counts transaction retries caused by duplicate codes or
	// store contention.
	allocRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "prestation_code_allocation_retries_total",
			Help: "Allocation transactions retried after duplicate or busy errors.",
		},
	)
)

func init() {
	prometheus.MustRegister(allocTotal, allocRetries)
}

// CodeAllocator computes prestation codes inside a caller-provided
// transaction handle. It holds no state between calls: every allocation
// re-reads the store, as required to keep gap reclamation correct.
type CodeAllocator struct{}

// NextCode returns the next code for scope as of now. tx must be the handle
// of the transaction that will also insert or update the record, so that the
// scan and the write serialize as one unit against concurrent allocators.
func (CodeAllocator) NextCode(ctx context.Context, tx *gorm.DB, scope numbering.Scope, now time.Time) (string, error) {
	start, end := numbering.MonthBounds(now)

	codes, err := repo.ListCodesInMonth(ctx, tx, scope, start, end)
	if err != nil {
		// Last-resort degradation: count+1. Not gap-filling, not collision
		// free; the caller's uniqueness retry still guards the insert.
		count, cerr := repo.CountInMonth(ctx, tx, scope, start, end)
		if cerr != nil {
			allocTotal.WithLabelValues(string(scope), "error").Inc()
			return "", &AllocationError{Scope: scope, Err: err}
		}
		log.Warn().
			Str("scope", string(scope)).
			Err(err).
			Msg("code scan failed, falling back to count-based allocation")
		allocTotal.WithLabelValues(string(scope), "fallback").Inc()
		return numbering.Format(now.Year(), now.Month(), int(count)+1), nil
	}

	allocTotal.WithLabelValues(string(scope), "scanned").Inc()
	return numbering.NextCode(codes, now.Year(), now.Month()), nil
}
