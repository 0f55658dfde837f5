// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides the aggregate queries behind the
// dashboard stats endpoint and the ETag support on list responses.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/gcgeo/go-prestation-backend/internal/domain"
	"github.com/gcgeo/go-prestation-backend/internal/numbering"
)

// PrestationStats aggregates the dashboard counters: total records, counts
// per status, and the number of requests received in the current calendar
// month (the intake counter shown next to the month's last allocated code).
type PrestationStats struct {
	Total     int64                   `json:"total"`
	ByStatus  map[domain.Status]int64 `json:"by_status"`
	MonthNew  int64                   `json:"month_new"`
	MonthYear string                  `json:"month"`
}

// GetPrestationStats computes the dashboard aggregates as of now.
func GetPrestationStats(ctx context.Context, db *gorm.DB, now time.Time) (*PrestationStats, error) {
	stats := &PrestationStats{
		ByStatus:  make(map[domain.Status]int64, 6),
		MonthYear: now.Format("2006-01"),
	}

	if err := db.WithContext(ctx).Model(&domain.Prestation{}).Count(&stats.Total).Error; err != nil {
		return nil, err
	}

	var rows []struct {
		Statut domain.Status
		N      int64
	}
	err := db.WithContext(ctx).
		Model(&domain.Prestation{}).
		Select("statut, COUNT(*) AS n").
		Group("statut").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, r := range rows {
		stats.ByStatus[r.Statut] = r.N
	}

	start, end := numbering.MonthBounds(now)
	err = db.WithContext(ctx).
		Model(&domain.Prestation{}).
		Where("created_at >= ? AND created_at < ?", start, end).
		Count(&stats.MonthNew).Error
	if err != nil {
		return nil, err
	}
	return stats, nil
}

// ListFreshness returns the row count and greatest UpdatedAt for a filtered
// listing. The HTTP layer derives a weak ETag from the pair; a list is
// unchanged exactly when neither value moved. When no rows match, the
// returned timestamp is nil.
func ListFreshness(ctx context.Context, db *gorm.DB, f ListFilter) (count int64, maxUpdatedAt *time.Time, err error) {
	q := f.apply(db.WithContext(ctx).Model(&domain.Prestation{}))

	if err = q.Count(&count).Error; err != nil {
		return 0, nil, err
	}
	if count == 0 {
		return 0, nil, nil
	}

	// Selecting via ORDER BY avoids MAX() collapsing to TEXT in SQLite.
	var row struct {
		UpdatedAt time.Time
	}
	if err = q.Select("updated_at").Order("updated_at DESC").Limit(1).Scan(&row).Error; err != nil {
		return 0, nil, err
	}
	return count, &row.UpdatedAt, nil
}
