// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Prestation
// model.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations. They
// follow the "thin repository" approach: no business logic, only CRUD
// persistence and query composition. The service layer owns the lifecycle
// rules and the code allocation; this layer owns rows.
//
// Error semantics:
//   - When a prestation is not found, functions return gorm.ErrRecordNotFound
//     (also exported here as ErrNotFound for convenience).
//   - On DB errors (constraint violations, connectivity issues, etc.),
//     the raw gorm error is propagated.
package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/gcgeo/go-prestation-backend/internal/domain"
	"github.com/gcgeo/go-prestation-backend/internal/numbering"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// IsDuplicate reports whether err is a unique-constraint violation.
// glebarez/sqlite often returns plain-text errors for UNIQUE violations, so
// the check falls back to message sniffing, like it does for Postgres.
func IsDuplicate(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	low := strings.ToLower(err.Error())
	return strings.Contains(low, "unique constraint") ||
		strings.Contains(low, "constraint failed: unique") ||
		strings.Contains(low, "duplicate key")
}

// IsBusy reports whether err is a transient SQLite lock/busy failure, which
// the allocator treats as retriable in the same way as a duplicate code.
func IsBusy(err error) bool {
	if err == nil {
		return false
	}
	low := strings.ToLower(err.Error())
	return strings.Contains(low, "database is locked") ||
		strings.Contains(low, "database table is locked") ||
		strings.Contains(low, "sqlite_busy")
}

// CreatePrestation inserts a fully-populated record. The caller (the service
// layer's allocation transaction) has already assigned ID, Numero,
// CodePrestation and Statut. A colliding Numero surfaces as a unique
// violation detectable with IsDuplicate.
func CreatePrestation(ctx context.Context, db *gorm.DB, p *domain.Prestation) error {
	return db.WithContext(ctx).Create(p).Error
}

// GetPrestation fetches a single record by ID, or ErrNotFound.
func GetPrestation(ctx context.Context, db *gorm.DB, id string) (*domain.Prestation, error) {
	var p domain.Prestation
	if err := db.WithContext(ctx).Where("id = ?", id).First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

// UpdatePrestation applies a partial update (unspecified fields unchanged)
// to the record with the given id. Returns ErrNotFound when no row matched.
func UpdatePrestation(ctx context.Context, db *gorm.DB, id string, fields map[string]any) error {
	res := db.WithContext(ctx).
		Model(&domain.Prestation{}).
		Where("id = ?", id).
		Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// DeletePrestation hard-removes a record. There is no tombstone: the freed
// sequence number becomes reclaimable by the allocator. An audit strategy
// would replace only this function.
func DeletePrestation(ctx context.Context, db *gorm.DB, id string) error {
	res := db.WithContext(ctx).Where("id = ?", id).Delete(&domain.Prestation{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// ListCodesInMonth returns the identifiers already allocated for a scope
// within [start, end): intake codes by creation time, acceptance codes by
// acceptance time (only accepted rows carry one). Ordered by code so the
// allocator's scan is deterministic.
func ListCodesInMonth(ctx context.Context, db *gorm.DB, scope numbering.Scope, start, end time.Time) ([]string, error) {
	var codes []string
	q := db.WithContext(ctx).Model(&domain.Prestation{})
	switch scope {
	case numbering.ScopeAcceptance:
		q = q.Where("accepted_at IS NOT NULL AND accepted_at >= ? AND accepted_at < ?", start, end).
			Order("code_prestation asc").
			Pluck("code_prestation", &codes)
	default:
		q = q.Where("created_at >= ? AND created_at < ?", start, end).
			Order("numero asc").
			Pluck("numero", &codes)
	}
	return codes, q.Error
}

// CountInMonth counts records for a scope within [start, end). It backs the
// allocator's count+1 fallback path, which does not gap-fill.
func CountInMonth(ctx context.Context, db *gorm.DB, scope numbering.Scope, start, end time.Time) (int64, error) {
	var total int64
	q := db.WithContext(ctx).Model(&domain.Prestation{})
	if scope == numbering.ScopeAcceptance {
		q = q.Where("accepted_at IS NOT NULL AND accepted_at >= ? AND accepted_at < ?", start, end)
	} else {
		q = q.Where("created_at >= ? AND created_at < ?", start, end)
	}
	err := q.Count(&total).Error
	return total, err
}

// ListFilter narrows ListPrestationsPage. Zero values mean "no filter".
type ListFilter struct {
	Statut       domain.Status
	DepartmentID string
	Month        time.Time // any instant inside the target creation month
}

func (f ListFilter) apply(q *gorm.DB) *gorm.DB {
	if f.Statut != "" {
		q = q.Where("statut = ?", f.Statut)
	}
	if f.DepartmentID != "" {
		q = q.Where("department_id = ?", f.DepartmentID)
	}
	if !f.Month.IsZero() {
		start, end := numbering.MonthBounds(f.Month)
		q = q.Where("created_at >= ? AND created_at < ?", start, end)
	}
	return q
}

// CountPrestations returns the total matching a filter, for pagination.
func CountPrestations(ctx context.Context, db *gorm.DB, f ListFilter) (int64, error) {
	var total int64
	err := f.apply(db.WithContext(ctx).Model(&domain.Prestation{})).Count(&total).Error
	return total, err
}

// ListPrestationsPage returns a filtered page ordered by creation time
// descending (newest intake first), then numero for a stable tiebreak.
func ListPrestationsPage(ctx context.Context, db *gorm.DB, f ListFilter, offset, limit int) ([]domain.Prestation, error) {
	var out []domain.Prestation
	err := f.apply(db.WithContext(ctx)).
		Order("created_at desc, numero desc").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}
