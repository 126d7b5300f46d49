package usecase

import (
	"context"
	"sort"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/totegamma/examwatch/internal/domain"
)

const defaultStaleThreshold = 3 * time.Minute

// ForensicsUsecase reconciles sightings, registrations and submissions into
// a per-ip report for a time window.
type ForensicsUsecase struct {
	sightings     SightingRepository
	registrations RegistrationRepository
	submissions   SubmissionRepository
	users         UserRepository
	identity      IdentityResolver
	config        domain.Config
	metrics       Metrics
	now           func() time.Time
}

func NewForensicsUsecase(
	sightings SightingRepository,
	registrations RegistrationRepository,
	submissions SubmissionRepository,
	users UserRepository,
	identity IdentityResolver,
	config domain.Config,
	metrics Metrics,
) *ForensicsUsecase {
	if config.Workers <= 0 {
		config.Workers = defaultWorkers
	}
	if config.StaleThreshold <= 0 {
		config.StaleThreshold = defaultStaleThreshold
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &ForensicsUsecase{
		sightings:     sightings,
		registrations: registrations,
		submissions:   submissions,
		users:         users,
		identity:      identity,
		config:        config,
		metrics:       metrics,
		now:           time.Now,
	}
}

type ipActivity struct {
	seen []time.Time
	regs []domain.Registration
	subs []domain.Submission
}

// Report builds the forensic view of window. Store failures and context
// expiry abort the whole report; directory failures only degrade identities
// to placeholders.
func (uc *ForensicsUsecase) Report(ctx context.Context, window domain.Window) (domain.ForensicsReport, error) {
	ctx, span := tracer.Start(ctx, "Forensics.Usecase.Report")
	defer span.End()

	started := time.Now()
	defer func() { uc.metrics.ObserveForensics(time.Since(started)) }()

	now := uc.now().UTC()
	w := window.Normalize(now)
	span.SetAttributes(
		attribute.String("start", w.Start.Format(time.RFC3339)),
		attribute.String("end", w.End.Format(time.RFC3339)),
		attribute.Bool("openEnded", w.OpenEnded),
	)

	ips, err := uc.sightings.DistinctIPs(ctx, w.Start, w.End)
	if err != nil {
		span.RecordError(err)
		return domain.ForensicsReport{}, err
	}
	sort.Strings(ips)

	activity, err := uc.collect(ctx, ips, w)
	if err != nil {
		span.RecordError(err)
		return domain.ForensicsReport{}, err
	}

	users, err := uc.resolveUsers(ctx, ips, activity, w)
	if err != nil {
		span.RecordError(err)
		return domain.ForensicsReport{}, err
	}
	if err := ctx.Err(); err != nil {
		span.RecordError(err)
		return domain.ForensicsReport{}, err
	}

	report := domain.ForensicsReport{
		Start:        w.Start,
		End:          w.End,
		OpenEnded:    w.OpenEnded,
		GeneratedAt:  now,
		Registered:   []domain.ForensicsEntry{},
		Unregistered: []domain.ForensicsEntry{},
	}
	staleBefore := now.Add(-uc.config.StaleThreshold)
	for i, ip := range ips {
		entry := buildEntry(ip, activity[i], users)
		entry.IsStale = w.OpenEnded && len(entry.SeenAtDesc) > 0 && entry.SeenAtDesc[0].Before(staleBefore)
		if len(entry.Registrations) > 0 {
			report.Registered = append(report.Registered, entry)
		} else {
			report.Unregistered = append(report.Unregistered, entry)
		}
	}
	sortByLastSeen(report.Registered)
	sortByLastSeen(report.Unregistered)

	span.SetAttributes(
		attribute.Int("registered", len(report.Registered)),
		attribute.Int("unregistered", len(report.Unregistered)),
	)
	return report, nil
}

// collect loads the per-ip rows in parallel. The first store error cancels
// the remaining work.
func (uc *ForensicsUsecase) collect(ctx context.Context, ips []string, w domain.Window) ([]ipActivity, error) {
	activity := make([]ipActivity, len(ips))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(uc.config.Workers)
	for i, ip := range ips {
		i, ip := i, ip
		g.Go(func() error {
			seen, err := uc.sightings.SightingsDesc(gctx, ip, w.Start, w.End)
			if err != nil {
				return err
			}
			regs, err := uc.registrations.ByIPInRange(gctx, ip, w.Start, w.End)
			if err != nil {
				return err
			}
			subs, err := uc.submissions.ByIPInRange(gctx, ip, w.Start, w.End)
			if err != nil {
				return err
			}
			activity[i] = ipActivity{seen: seen, regs: regs, subs: subs}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return activity, nil
}

// resolveUsers returns every user row referenced by a registration. Rows that
// are missing or incomplete are refreshed from the directory on a best-effort
// basis.
func (uc *ForensicsUsecase) resolveUsers(ctx context.Context, ips []string, activity []ipActivity, w domain.Window) (map[int64]domain.User, error) {
	ids := make([]int64, 0)
	seen := map[int64]bool{}
	for _, a := range activity {
		for _, reg := range a.regs {
			if !seen[reg.UserID] {
				seen[reg.UserID] = true
				ids = append(ids, reg.UserID)
			}
		}
	}
	if len(ids) == 0 {
		return map[int64]domain.User{}, nil
	}

	users, err := uc.users.GetByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	var pending []string
	for i, a := range activity {
		for _, reg := range a.regs {
			if u, ok := users[reg.UserID]; !ok || !u.Complete() {
				pending = append(pending, ips[i])
				break
			}
		}
	}
	if len(pending) == 0 {
		return users, nil
	}

	latest, err := uc.registrations.LatestForIPsInRange(ctx, pending, w.Start, w.End)
	if err != nil {
		return nil, err
	}
	var extra []int64
	for _, reg := range latest {
		if _, ok := users[reg.UserID]; !ok && !seen[reg.UserID] {
			seen[reg.UserID] = true
			extra = append(extra, reg.UserID)
		}
	}
	if len(extra) > 0 {
		more, err := uc.users.GetByIDs(ctx, extra)
		if err != nil {
			return nil, err
		}
		for id, u := range more {
			users[id] = u
		}
	}

	byEmail := map[string][]int64{}
	var emails []string
	for id, u := range users {
		if u.Complete() || u.Email == "" {
			continue
		}
		email := domain.NormalizeEmail(u.Email)
		if _, ok := byEmail[email]; !ok {
			emails = append(emails, email)
		}
		byEmail[email] = append(byEmail[email], id)
	}
	if len(emails) == 0 {
		return users, nil
	}
	sort.Strings(emails)

	resolved, failed := uc.identity.ResolveEmails(ctx, emails)
	for email, u := range resolved {
		for _, id := range byEmail[email] {
			u.ID = id
			users[id] = u
		}
	}
	if len(failed) > 0 {
		log.Warn().
			Str("module", "forensics").
			Int("failed", len(failed)).
			Int("requested", len(emails)).
			Msg("some identities could not be refreshed from the directory")
	}
	return users, nil
}

func buildEntry(ip string, a ipActivity, users map[int64]domain.User) domain.ForensicsEntry {
	entry := domain.ForensicsEntry{
		IP:            ip,
		SeenCount:     len(a.seen),
		SeenAtDesc:    append([]time.Time{}, a.seen...),
		Registrations: make([]domain.ResolvedRegistration, 0, len(a.regs)),
		Submissions:   make([]domain.SubmissionRef, 0, len(a.subs)),
		HasSubmission: len(a.subs) > 0,
	}
	for _, reg := range a.regs {
		entry.Registrations = append(entry.Registrations, domain.ResolvedRegistration{
			At:   reg.At,
			User: displayUser(reg.UserID, users),
		})
	}
	for _, sub := range a.subs {
		entry.Submissions = append(entry.Submissions, domain.SubmissionRef{At: sub.At, Filename: sub.Filename})
	}
	return entry
}

func displayUser(id int64, users map[int64]domain.User) *domain.User {
	u, ok := users[id]
	if !ok {
		return domain.PlaceholderUser(id, domain.PlaceholderUnknown)
	}
	if !u.Complete() {
		return domain.PlaceholderUser(id, domain.PlaceholderNotFound)
	}
	return &u
}

func sortByLastSeen(entries []domain.ForensicsEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].LastSeen().After(entries[j].LastSeen())
	})
}
