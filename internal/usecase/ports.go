package usecase

import (
	"context"
	"time"

	"github.com/totegamma/examwatch/internal/domain"
)

// SightingRepository is the activity store.
type SightingRepository interface {
	RegisterSeen(ctx context.Context, ip string, at time.Time) error
	RegisterSeenMany(ctx context.Context, ips []string, at time.Time) (int, error)
	StatsForRange(ctx context.Context, start, end time.Time) ([]domain.IPStat, error)
	SightingsDesc(ctx context.Context, ip string, start, end time.Time) ([]time.Time, error)
	DistinctIPs(ctx context.Context, start, end time.Time) ([]string, error)
}

// RegistrationRepository hides the live/archived split behind one view.
type RegistrationRepository interface {
	Create(ctx context.Context, ip string, userID int64, at time.Time) error
	ByIPInRange(ctx context.Context, ip string, start, end time.Time) ([]domain.Registration, error)
	LatestForIP(ctx context.Context, ip string) (domain.Registration, error)
	LatestForIPsInRange(ctx context.Context, ips []string, start, end time.Time) (map[string]domain.Registration, error)
}

// UserRepository is the local identity cache.
type UserRepository interface {
	GetByID(ctx context.Context, id int64) (domain.User, error)
	GetByIDs(ctx context.Context, ids []int64) (map[int64]domain.User, error)
	GetByEmail(ctx context.Context, email string) (domain.User, error)
	GetByEmails(ctx context.Context, emails []string) (map[string]domain.User, error)
	Upsert(ctx context.Context, du domain.DirectoryUser) (domain.User, error)
	UpsertMany(ctx context.Context, dus []domain.DirectoryUser) ([]domain.User, error)
}

// SubmissionRepository exposes uploads written by another feature.
type SubmissionRepository interface {
	Create(ctx context.Context, sub domain.Submission) error
	ByIPInRange(ctx context.Context, ip string, start, end time.Time) ([]domain.Submission, error)
}

// DirectorySearcher looks up directory entries by mail.
type DirectorySearcher interface {
	FindByEmail(ctx context.Context, email string) ([]domain.DirectoryUser, error)
	FindByEmailPrefix(ctx context.Context, prefix string) ([]domain.DirectoryUser, error)
}

// IdentityResolver resolves emails to persisted identities.
type IdentityResolver interface {
	GetUserByEmail(ctx context.Context, email string) (domain.User, error)
	ResolveEmails(ctx context.Context, emails []string) (map[string]domain.User, map[string]error)
}

// SignalPublisher pushes activity to realtime subscribers.
type SignalPublisher interface {
	Publish(ctx context.Context, event domain.ActivityEvent) error
}

// Metrics receives usecase instrumentation.
type Metrics interface {
	IncIdentityCache(result string)
	ObserveForensics(d time.Duration)
}

type noopMetrics struct{}

func (noopMetrics) IncIdentityCache(string)        {}
func (noopMetrics) ObserveForensics(time.Duration) {}
