package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/totegamma/examwatch/internal/domain"
	"github.com/totegamma/examwatch/internal/infra/database/models"
)

const (
	sightingBatchSize = 500
)

// SightingRepository is the append-only activity store.
// Windows are half-open and compared in UTC.
type SightingRepository struct {
	db *gorm.DB
}

func NewSightingRepository(db *gorm.DB) *SightingRepository {
	return &SightingRepository{db: db}
}

func (r *SightingRepository) RegisterSeen(ctx context.Context, ip string, at time.Time) error {
	if ip == "" {
		return domain.InvalidInput("ip must not be empty")
	}
	row := models.Sighting{IP: ip, SeenAt: at.UTC()}
	err := r.db.WithContext(ctx).Create(&row).Error
	return domain.NewStoreError("sighting.registerSeen", err)
}

func (r *SightingRepository) RegisterSeenMany(ctx context.Context, ips []string, at time.Time) (int, error) {
	rows := make([]models.Sighting, 0, len(ips))
	seenAt := at.UTC()
	for _, ip := range ips {
		if ip == "" {
			return 0, domain.InvalidInput("ip must not be empty")
		}
		rows = append(rows, models.Sighting{IP: ip, SeenAt: seenAt})
	}
	if len(rows) == 0 {
		return 0, nil
	}

	err := r.db.WithContext(ctx).CreateInBatches(&rows, sightingBatchSize).Error
	if err != nil {
		return 0, domain.NewStoreError("sighting.registerSeenMany", err)
	}
	return len(rows), nil
}

func (r *SightingRepository) StatsForRange(ctx context.Context, start, end time.Time) ([]domain.IPStat, error) {

	type statRow struct {
		IP       string    `gorm:"column:ip"`
		Count    int64     `gorm:"column:count"`
		LastSeen time.Time `gorm:"column:last_seen"`
	}

	var rows []statRow
	err := r.db.WithContext(ctx).
		Model(&models.Sighting{}).
		Select("ip, COUNT(*) AS count, MAX(seen_at) AS last_seen").
		Where("seen_at >= ? AND seen_at < ?", start.UTC(), end.UTC()).
		Group("ip").
		Order("ip ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, domain.NewStoreError("sighting.statsForRange", err)
	}

	stats := make([]domain.IPStat, 0, len(rows))
	for _, row := range rows {
		stats = append(stats, domain.IPStat{
			IP:       row.IP,
			Count:    row.Count,
			LastSeen: row.LastSeen.UTC(),
		})
	}
	return stats, nil
}

func (r *SightingRepository) SightingsDesc(ctx context.Context, ip string, start, end time.Time) ([]time.Time, error) {
	var seen []time.Time
	err := r.db.WithContext(ctx).
		Model(&models.Sighting{}).
		Where("ip = ? AND seen_at >= ? AND seen_at < ?", ip, start.UTC(), end.UTC()).
		Order("seen_at DESC").
		Order("id DESC").
		Pluck("seen_at", &seen).Error
	if err != nil {
		return nil, domain.NewStoreError("sighting.sightingsDesc", err)
	}
	for i := range seen {
		seen[i] = seen[i].UTC()
	}
	return seen, nil
}

func (r *SightingRepository) DistinctIPs(ctx context.Context, start, end time.Time) ([]string, error) {
	var ips []string
	err := r.db.WithContext(ctx).
		Model(&models.Sighting{}).
		Distinct("ip").
		Where("seen_at >= ? AND seen_at < ?", start.UTC(), end.UTC()).
		Order("ip ASC").
		Pluck("ip", &ips).Error
	if err != nil {
		return nil, domain.NewStoreError("sighting.distinctIPs", err)
	}
	return ips, nil
}
