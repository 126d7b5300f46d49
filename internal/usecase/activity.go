package usecase

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/totegamma/examwatch/internal/domain"
)

type ActivityUsecase struct {
	repo   SightingRepository
	signal SignalPublisher
	now    func() time.Time
}

func NewActivityUsecase(repo SightingRepository, signal SignalPublisher) *ActivityUsecase {
	return &ActivityUsecase{
		repo:   repo,
		signal: signal,
		now:    time.Now,
	}
}

func (uc *ActivityUsecase) at(t time.Time) time.Time {
	if t.IsZero() {
		return uc.now().UTC()
	}
	return t.UTC()
}

func (uc *ActivityUsecase) RegisterSeen(ctx context.Context, ip string, at time.Time) error {
	ip = strings.TrimSpace(ip)
	if ip == "" {
		return domain.InvalidInput("ip must not be empty")
	}
	at = uc.at(at)

	if err := uc.repo.RegisterSeen(ctx, ip, at); err != nil {
		return err
	}
	uc.publish(ctx, domain.ActivityEvent{Kind: domain.ActivitySeen, IPs: []string{ip}, At: at})
	return nil
}

// RegisterSeenMany records one sighting per ip. Blank entries are skipped.
func (uc *ActivityUsecase) RegisterSeenMany(ctx context.Context, ips []string, at time.Time) (int, error) {
	cleaned := make([]string, 0, len(ips))
	for _, ip := range ips {
		ip = strings.TrimSpace(ip)
		if ip != "" {
			cleaned = append(cleaned, ip)
		}
	}
	if len(cleaned) == 0 {
		return 0, domain.InvalidInput("no ips given")
	}
	at = uc.at(at)

	n, err := uc.repo.RegisterSeenMany(ctx, cleaned, at)
	if err != nil {
		return 0, err
	}
	uc.publish(ctx, domain.ActivityEvent{Kind: domain.ActivitySeen, IPs: cleaned, At: at})
	return n, nil
}

func (uc *ActivityUsecase) Stats(ctx context.Context, window domain.Window) ([]domain.IPStat, error) {
	w := window.Normalize(uc.now())
	return uc.repo.StatsForRange(ctx, w.Start, w.End)
}

func (uc *ActivityUsecase) publish(ctx context.Context, event domain.ActivityEvent) {
	if uc.signal == nil {
		return
	}
	if err := uc.signal.Publish(ctx, event); err != nil {
		log.Warn().Err(err).Str("module", "activity").Msg("failed to publish activity")
	}
}
