package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/totegamma/examwatch/internal/domain"
	"github.com/totegamma/examwatch/internal/infra/database/models"
)

type SubmissionRepository struct {
	db *gorm.DB
}

func NewSubmissionRepository(db *gorm.DB) *SubmissionRepository {
	return &SubmissionRepository{db: db}
}

func (r *SubmissionRepository) Create(ctx context.Context, sub domain.Submission) error {
	row := models.Submission{
		UserID:   sub.UserID,
		IP:       sub.IP,
		Filename: sub.Filename,
		At:       sub.At.UTC(),
	}
	err := r.db.WithContext(ctx).Create(&row).Error
	return domain.NewStoreError("submission.create", err)
}

func (r *SubmissionRepository) ByIPInRange(ctx context.Context, ip string, start, end time.Time) ([]domain.Submission, error) {
	var rows []models.Submission
	err := r.db.WithContext(ctx).
		Where("ip = ? AND at >= ? AND at < ?", ip, start.UTC(), end.UTC()).
		Order("at DESC").
		Find(&rows).Error
	if err != nil {
		return nil, domain.NewStoreError("submission.byIPInRange", err)
	}

	result := make([]domain.Submission, 0, len(rows))
	for _, row := range rows {
		result = append(result, domain.Submission{
			UserID:   row.UserID,
			IP:       row.IP,
			Filename: row.Filename,
			At:       row.At.UTC(),
		})
	}
	return result, nil
}
