package usecase

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/totegamma/examwatch/internal/domain"
)

func inWindow(t, start, end time.Time) bool {
	return !t.Before(start) && t.Before(end)
}

type memSightings struct {
	mu   sync.Mutex
	rows []domain.Sighting
	err  error
}

func (m *memSightings) RegisterSeen(ctx context.Context, ip string, at time.Time) error {
	_, err := m.RegisterSeenMany(ctx, []string{ip}, at)
	return err
}

func (m *memSightings) RegisterSeenMany(ctx context.Context, ips []string, at time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return 0, m.err
	}
	for _, ip := range ips {
		m.rows = append(m.rows, domain.Sighting{IP: ip, SeenAt: at.UTC()})
	}
	return len(ips), nil
}

func (m *memSightings) StatsForRange(ctx context.Context, start, end time.Time) ([]domain.IPStat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	byIP := map[string]*domain.IPStat{}
	for _, row := range m.rows {
		if !inWindow(row.SeenAt, start, end) {
			continue
		}
		stat, ok := byIP[row.IP]
		if !ok {
			stat = &domain.IPStat{IP: row.IP}
			byIP[row.IP] = stat
		}
		stat.Count++
		if row.SeenAt.After(stat.LastSeen) {
			stat.LastSeen = row.SeenAt
		}
	}
	stats := make([]domain.IPStat, 0, len(byIP))
	for _, stat := range byIP {
		stats = append(stats, *stat)
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].IP < stats[j].IP })
	return stats, nil
}

func (m *memSightings) SightingsDesc(ctx context.Context, ip string, start, end time.Time) ([]time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	out := []time.Time{}
	for _, row := range m.rows {
		if row.IP == ip && inWindow(row.SeenAt, start, end) {
			out = append(out, row.SeenAt)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].After(out[j]) })
	return out, nil
}

func (m *memSightings) DistinctIPs(ctx context.Context, start, end time.Time) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	seen := map[string]bool{}
	out := []string{}
	for _, row := range m.rows {
		if inWindow(row.SeenAt, start, end) && !seen[row.IP] {
			seen[row.IP] = true
			out = append(out, row.IP)
		}
	}
	sort.Strings(out)
	return out, nil
}

type memRegistrations struct {
	mu          sync.Mutex
	live        []domain.Registration
	archived    []domain.Registration
	err         error
	latestCalls int
}

func (m *memRegistrations) Create(ctx context.Context, ip string, userID int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.live = append(m.live, domain.Registration{IP: ip, UserID: userID, At: at})
	return nil
}

func (m *memRegistrations) ByIPInRange(ctx context.Context, ip string, start, end time.Time) ([]domain.Registration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	out := []domain.Registration{}
	for _, rows := range [][]domain.Registration{m.live, m.archived} {
		for _, reg := range rows {
			if reg.IP == ip && inWindow(reg.At, start, end) {
				out = append(out, reg)
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].At.After(out[j].At) })
	return out, nil
}

func (m *memRegistrations) LatestForIP(ctx context.Context, ip string) (domain.Registration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return domain.Registration{}, m.err
	}
	var latest *domain.Registration
	for i, reg := range m.live {
		if reg.IP == ip && (latest == nil || reg.At.After(latest.At)) {
			latest = &m.live[i]
		}
	}
	if latest == nil {
		return domain.Registration{}, domain.NotFoundError{Resource: "registration"}
	}
	return *latest, nil
}

func (m *memRegistrations) LatestForIPsInRange(ctx context.Context, ips []string, start, end time.Time) (map[string]domain.Registration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latestCalls++
	if m.err != nil {
		return nil, m.err
	}
	wanted := map[string]bool{}
	for _, ip := range ips {
		wanted[ip] = true
	}
	out := map[string]domain.Registration{}
	for _, reg := range m.live {
		if !wanted[reg.IP] || !inWindow(reg.At, start, end) {
			continue
		}
		if cur, ok := out[reg.IP]; !ok || reg.At.After(cur.At) {
			out[reg.IP] = reg
		}
	}
	return out, nil
}

type memUsers struct {
	mu        sync.Mutex
	byID      map[int64]domain.User
	nextID    int64
	err       error
	upsertErr error
	upserts   int
}

func newMemUsers() *memUsers {
	return &memUsers{byID: map[int64]domain.User{}, nextID: 100}
}

func (m *memUsers) put(u domain.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID[u.ID] = u
}

func (m *memUsers) GetByID(ctx context.Context, id int64) (domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return domain.User{}, m.err
	}
	u, ok := m.byID[id]
	if !ok {
		return domain.User{}, domain.NotFoundError{Resource: "user"}
	}
	return u, nil
}

func (m *memUsers) GetByIDs(ctx context.Context, ids []int64) (map[int64]domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	out := map[int64]domain.User{}
	for _, id := range ids {
		if u, ok := m.byID[id]; ok {
			out[id] = u
		}
	}
	return out, nil
}

func (m *memUsers) findEmail(email string) (domain.User, bool) {
	for _, u := range m.byID {
		if u.Email == domain.NormalizeEmail(email) {
			return u, true
		}
	}
	return domain.User{}, false
}

func (m *memUsers) GetByEmail(ctx context.Context, email string) (domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return domain.User{}, m.err
	}
	u, ok := m.findEmail(email)
	if !ok {
		return domain.User{}, domain.NotFoundError{Resource: "user"}
	}
	return u, nil
}

func (m *memUsers) GetByEmails(ctx context.Context, emails []string) (map[string]domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	out := map[string]domain.User{}
	for _, email := range emails {
		if u, ok := m.findEmail(email); ok {
			out[u.Email] = u
		}
	}
	return out, nil
}

func (m *memUsers) upsert(du domain.DirectoryUser) domain.User {
	u := du.User()
	if existing, ok := m.findEmail(u.Email); ok {
		u.ID = existing.ID
	} else {
		m.nextID++
		u.ID = m.nextID
	}
	m.byID[u.ID] = u
	m.upserts++
	return u
}

func (m *memUsers) Upsert(ctx context.Context, du domain.DirectoryUser) (domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.upsertErr != nil {
		return domain.User{}, m.upsertErr
	}
	return m.upsert(du), nil
}

func (m *memUsers) UpsertMany(ctx context.Context, dus []domain.DirectoryUser) ([]domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.upsertErr != nil {
		return nil, m.upsertErr
	}
	out := make([]domain.User, 0, len(dus))
	for _, du := range dus {
		out = append(out, m.upsert(du))
	}
	return out, nil
}

type memSubmissions struct {
	mu   sync.Mutex
	rows []domain.Submission
	err  error
}

func (m *memSubmissions) Create(ctx context.Context, sub domain.Submission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = append(m.rows, sub)
	return nil
}

func (m *memSubmissions) ByIPInRange(ctx context.Context, ip string, start, end time.Time) ([]domain.Submission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	out := []domain.Submission{}
	for _, sub := range m.rows {
		if sub.IP == ip && inWindow(sub.At, start, end) {
			out = append(out, sub)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].At.After(out[j].At) })
	return out, nil
}

type mockSearcher struct {
	mu      sync.Mutex
	users   []domain.DirectoryUser
	err     error
	errFor  map[string]error
	gate    chan struct{}
	entered chan struct{}
	calls   atomic.Int32
	byEmail map[string]int
}

func newMockSearcher(users ...domain.DirectoryUser) *mockSearcher {
	return &mockSearcher{
		users:   users,
		errFor:  map[string]error{},
		entered: make(chan struct{}, 64),
		byEmail: map[string]int{},
	}
}

func (m *mockSearcher) FindByEmail(ctx context.Context, email string) ([]domain.DirectoryUser, error) {
	m.calls.Add(1)
	m.entered <- struct{}{}
	if m.gate != nil {
		<-m.gate
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byEmail[email]++
	if err, ok := m.errFor[email]; ok {
		return nil, err
	}
	if m.err != nil {
		return nil, m.err
	}
	for _, u := range m.users {
		if domain.NormalizeEmail(u.Email) == email {
			return []domain.DirectoryUser{u}, nil
		}
	}
	return []domain.DirectoryUser{}, nil
}

func (m *mockSearcher) FindByEmailPrefix(ctx context.Context, prefix string) ([]domain.DirectoryUser, error) {
	m.calls.Add(1)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	out := []domain.DirectoryUser{}
	for _, u := range m.users {
		if len(u.Email) >= len(prefix) && domain.NormalizeEmail(u.Email)[:len(prefix)] == prefix {
			out = append(out, u)
		}
	}
	return out, nil
}

func (m *mockSearcher) lookups(email string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.byEmail[email]
}

type mockSignal struct {
	mu     sync.Mutex
	events []domain.ActivityEvent
	err    error
}

func (m *mockSignal) Publish(ctx context.Context, event domain.ActivityEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return m.err
}

type mockMetrics struct {
	mu        sync.Mutex
	cache     map[string]int
	forensics int
}

func newMockMetrics() *mockMetrics {
	return &mockMetrics{cache: map[string]int{}}
}

func (m *mockMetrics) IncIdentityCache(result string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache[result]++
}

func (m *mockMetrics) ObserveForensics(time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.forensics++
}
