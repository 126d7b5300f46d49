package usecase

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/totegamma/examwatch/internal/domain"
)

type CheckInResult struct {
	Registration domain.Registration `json:"registration"`
	User         domain.User         `json:"user"`
}

// RegistrationUsecase is the check-in flow: a user claims the ip they are
// sitting at.
type RegistrationUsecase struct {
	registrations RegistrationRepository
	users         UserRepository
	identity      IdentityResolver
	signal        SignalPublisher
	metrics       Metrics
	now           func() time.Time
}

func NewRegistrationUsecase(
	registrations RegistrationRepository,
	users UserRepository,
	identity IdentityResolver,
	signal SignalPublisher,
	metrics Metrics,
) *RegistrationUsecase {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &RegistrationUsecase{
		registrations: registrations,
		users:         users,
		identity:      identity,
		signal:        signal,
		metrics:       metrics,
		now:           time.Now,
	}
}

func (uc *RegistrationUsecase) CheckIn(ctx context.Context, ip, email string) (CheckInResult, error) {
	ctx, span := tracer.Start(ctx, "Registration.Usecase.CheckIn")
	defer span.End()

	ip = strings.TrimSpace(ip)
	if ip == "" {
		return CheckInResult{}, domain.InvalidInput("ip must not be empty")
	}
	email = domain.NormalizeEmail(email)
	if email == "" {
		return CheckInResult{}, domain.InvalidInput("email must not be empty")
	}

	user, err := uc.resolve(ctx, email)
	if err != nil {
		span.RecordError(err)
		return CheckInResult{}, err
	}

	reg := domain.Registration{IP: ip, UserID: user.ID, At: uc.now().UTC()}
	if err := uc.registrations.Create(ctx, reg.IP, reg.UserID, reg.At); err != nil {
		span.RecordError(err)
		return CheckInResult{}, err
	}

	if uc.signal != nil {
		event := domain.ActivityEvent{Kind: domain.ActivityCheckIn, IPs: []string{ip}, At: reg.At}
		if err := uc.signal.Publish(ctx, event); err != nil {
			log.Warn().Err(err).Str("module", "registration").Msg("failed to publish check-in")
		}
	}

	return CheckInResult{Registration: reg, User: user}, nil
}

// resolve prefers the identity store and falls back to the directory. The
// returned user always has a persisted id.
func (uc *RegistrationUsecase) resolve(ctx context.Context, email string) (domain.User, error) {
	cached, err := uc.users.GetByEmail(ctx, email)
	switch {
	case err == nil && cached.Complete():
		uc.metrics.IncIdentityCache("hit")
		return cached, nil
	case err != nil && !errors.Is(err, domain.ErrNotFound):
		return domain.User{}, err
	}
	uc.metrics.IncIdentityCache("miss")

	user, err := uc.identity.GetUserByEmail(ctx, email)
	if err != nil {
		return domain.User{}, err
	}
	if user.ID != 0 {
		return user, nil
	}

	klasse := domain.KlasseNone
	if user.Klasse != nil {
		klasse = *user.Klasse
	}
	return uc.users.Upsert(ctx, domain.DirectoryUser{
		Email:       user.Email,
		DisplayName: user.Name,
		Klasse:      klasse,
	})
}

// CurrentUserForIP returns the user of the newest live registration on ip.
func (uc *RegistrationUsecase) CurrentUserForIP(ctx context.Context, ip string) (domain.User, error) {
	ip = strings.TrimSpace(ip)
	if ip == "" {
		return domain.User{}, domain.InvalidInput("ip must not be empty")
	}
	reg, err := uc.registrations.LatestForIP(ctx, ip)
	if err != nil {
		return domain.User{}, err
	}
	return uc.users.GetByID(ctx, reg.UserID)
}
