package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/totegamma/examwatch/internal/domain"
	"github.com/totegamma/examwatch/internal/infra/database/models"
)

// RegistrationRepository reads the live and archived registration tables as
// one append-only stream. Writes only ever go to the live table.
type RegistrationRepository struct {
	db *gorm.DB
}

func NewRegistrationRepository(db *gorm.DB) *RegistrationRepository {
	return &RegistrationRepository{db: db}
}

type registrationRow struct {
	IP     string    `gorm:"column:ip"`
	UserID int64     `gorm:"column:user_id"`
	At     time.Time `gorm:"column:at"`
}

func (row registrationRow) toDomain() domain.Registration {
	return domain.Registration{IP: row.IP, UserID: row.UserID, At: row.At.UTC()}
}

func (r *RegistrationRepository) Create(ctx context.Context, ip string, userID int64, at time.Time) error {
	if ip == "" || userID == 0 {
		return domain.InvalidInput("registration needs an ip and a user id")
	}
	row := models.Registration{IP: ip, UserID: userID, At: at.UTC()}
	err := r.db.WithContext(ctx).Create(&row).Error
	return domain.NewStoreError("registration.create", err)
}

func (r *RegistrationRepository) ByIPInRange(ctx context.Context, ip string, start, end time.Time) ([]domain.Registration, error) {
	live := r.db.
		Model(&models.Registration{}).
		Select("ip, user_id, at").
		Where("ip = ? AND at >= ? AND at < ?", ip, start.UTC(), end.UTC())
	archived := r.db.
		Model(&models.ArchivedRegistration{}).
		Select("ip, user_id, at").
		Where("ip = ? AND at >= ? AND at < ?", ip, start.UTC(), end.UTC())

	var rows []registrationRow
	err := r.db.WithContext(ctx).
		Raw("? UNION ALL ? ORDER BY at DESC", live, archived).
		Scan(&rows).Error
	if err != nil {
		return nil, domain.NewStoreError("registration.byIPInRange", err)
	}

	result := make([]domain.Registration, 0, len(rows))
	for _, row := range rows {
		result = append(result, row.toDomain())
	}
	return result, nil
}

// LatestForIP only looks at the live table: archived rows are history, not
// the current holder of an ip.
func (r *RegistrationRepository) LatestForIP(ctx context.Context, ip string) (domain.Registration, error) {
	var row models.Registration
	err := r.db.WithContext(ctx).
		Where("ip = ?", ip).
		Order("at DESC").
		Order("id DESC").
		Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Registration{}, domain.NotFoundError{Resource: "registration"}
		}
		return domain.Registration{}, domain.NewStoreError("registration.latestForIP", err)
	}
	return domain.Registration{IP: row.IP, UserID: row.UserID, At: row.At.UTC()}, nil
}

func (r *RegistrationRepository) LatestForIPsInRange(ctx context.Context, ips []string, start, end time.Time) (map[string]domain.Registration, error) {
	result := make(map[string]domain.Registration, len(ips))
	if len(ips) == 0 {
		return result, nil
	}

	var rows []registrationRow
	err := r.db.WithContext(ctx).
		Model(&models.Registration{}).
		Select("DISTINCT ON (ip) ip, user_id, at").
		Where("ip IN ? AND at >= ? AND at < ?", ips, start.UTC(), end.UTC()).
		Order("ip").
		Order("at DESC").
		Order("id DESC").
		Scan(&rows).Error
	if err != nil {
		return nil, domain.NewStoreError("registration.latestForIPsInRange", err)
	}

	for _, row := range rows {
		result[row.IP] = row.toDomain()
	}
	return result, nil
}
