package usecase

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/patrickmn/go-cache"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/totegamma/examwatch/internal/domain"
)

var tracer = otel.Tracer("usecase")

const (
	negativeCacheTTL = time.Minute
	defaultWorkers   = 8
)

// IdentityUsecase resolves emails against the directory and keeps the local
// identity store warm.
type IdentityUsecase struct {
	searcher DirectorySearcher
	users    UserRepository
	metrics  Metrics
	workers  int

	misses *cache.Cache
	group  singleflight.Group
}

func NewIdentityUsecase(searcher DirectorySearcher, users UserRepository, config domain.Config, metrics Metrics) *IdentityUsecase {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	workers := config.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}
	return &IdentityUsecase{
		searcher: searcher,
		users:    users,
		metrics:  metrics,
		workers:  workers,
		misses:   cache.New(negativeCacheTTL, 2*negativeCacheTTL),
	}
}

// GetUserByEmail returns the first exact directory match. The match is
// written to the identity store when possible; if that write fails the
// directory values come back with ID 0.
func (uc *IdentityUsecase) GetUserByEmail(ctx context.Context, email string) (domain.User, error) {
	ctx, span := tracer.Start(ctx, "Identity.Usecase.GetUserByEmail")
	defer span.End()

	email = domain.NormalizeEmail(email)
	if email == "" {
		return domain.User{}, domain.InvalidInput("email must not be empty")
	}
	if _, missed := uc.misses.Get(email); missed {
		return domain.User{}, domain.NotFoundError{Resource: "directory user"}
	}

	// the shared lookup outlives any single caller; the search has its own timeout
	lookupCtx := context.WithoutCancel(ctx)
	ch := uc.group.DoChan(email, func() (any, error) {
		return uc.lookup(lookupCtx, email)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			span.RecordError(res.Err)
			return domain.User{}, res.Err
		}
		return res.Val.(domain.User), nil
	case <-ctx.Done():
		return domain.User{}, ctx.Err()
	}
}

func (uc *IdentityUsecase) lookup(ctx context.Context, email string) (domain.User, error) {
	found, err := uc.searcher.FindByEmail(ctx, email)
	if err != nil {
		return domain.User{}, errors.Wrapf(err, "lookup %s", email)
	}
	if len(found) == 0 {
		uc.misses.Set(email, struct{}{}, cache.DefaultExpiration)
		return domain.User{}, domain.NotFoundError{Resource: "directory user"}
	}

	du := found[0]
	saved, err := uc.users.Upsert(ctx, du)
	if err != nil {
		log.Warn().Err(err).Str("module", "identity").Str("email", email).Msg("failed to cache directory user")
		return du.User(), nil
	}
	return saved, nil
}

// SearchUsersByEmailPrefix lists directory users whose mail starts with
// prefix, ordered by display name.
func (uc *IdentityUsecase) SearchUsersByEmailPrefix(ctx context.Context, prefix string) ([]domain.User, error) {
	ctx, span := tracer.Start(ctx, "Identity.Usecase.SearchUsersByEmailPrefix")
	defer span.End()

	prefix = domain.NormalizeEmail(prefix)
	if utf8.RuneCountInString(prefix) < domain.MinPrefixLength {
		return nil, domain.InvalidInput("prefix must be at least 3 characters")
	}
	span.SetAttributes(attribute.String("prefix", prefix))

	found, err := uc.searcher.FindByEmailPrefix(ctx, prefix)
	if err != nil {
		span.RecordError(err)
		return nil, errors.Wrap(err, "prefix search")
	}

	sort.SliceStable(found, func(i, j int) bool {
		a, b := strings.ToLower(found[i].DisplayName), strings.ToLower(found[j].DisplayName)
		if a != b {
			return a < b
		}
		return found[i].Email < found[j].Email
	})

	saved := map[string]domain.User{}
	stored, err := uc.users.UpsertMany(ctx, found)
	if err != nil {
		log.Warn().Err(err).Str("module", "identity").Int("count", len(found)).Msg("failed to cache directory users")
	}
	for _, u := range stored {
		saved[u.Email] = u
	}

	result := make([]domain.User, 0, len(found))
	for _, du := range found {
		if u, ok := saved[domain.NormalizeEmail(du.Email)]; ok {
			result = append(result, u)
			continue
		}
		result = append(result, du.User())
	}
	return result, nil
}

// ResolveEmails looks up every distinct email once. Failures are reported
// per email and never fail the batch.
func (uc *IdentityUsecase) ResolveEmails(ctx context.Context, emails []string) (map[string]domain.User, map[string]error) {
	ctx, span := tracer.Start(ctx, "Identity.Usecase.ResolveEmails")
	defer span.End()

	seen := make(map[string]bool, len(emails))
	distinct := make([]string, 0, len(emails))
	for _, email := range emails {
		email = domain.NormalizeEmail(email)
		if email == "" || seen[email] {
			continue
		}
		seen[email] = true
		distinct = append(distinct, email)
	}
	span.SetAttributes(attribute.Int("emails", len(distinct)))

	var (
		mu       sync.Mutex
		resolved = make(map[string]domain.User, len(distinct))
		failed   = make(map[string]error)
	)

	var g errgroup.Group
	g.SetLimit(uc.workers)
	for _, email := range distinct {
		email := email
		g.Go(func() error {
			user, err := uc.GetUserByEmail(ctx, email)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed[email] = err
				return nil
			}
			resolved[email] = user
			return nil
		})
	}
	_ = g.Wait()

	return resolved, failed
}

// CachedUserByEmail reads the identity store only.
func (uc *IdentityUsecase) CachedUserByEmail(ctx context.Context, email string) (domain.User, error) {
	user, err := uc.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			uc.metrics.IncIdentityCache("miss")
		}
		return domain.User{}, err
	}
	uc.metrics.IncIdentityCache("hit")
	return user, nil
}
