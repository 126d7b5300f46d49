package directory

import (
	"context"
	"time"

	"github.com/go-ldap/ldap/v3"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/totegamma/examwatch/internal/domain"
)

var tracer = otel.Tracer("directory")

const (
	DefaultSearchTimeout = 7 * time.Second
)

type SearcherOptions struct {
	BaseDN         string
	ClassAttribute string
	Timeout        time.Duration
	Metrics        Metrics
}

// Searcher runs directory searches with a hard latency ceiling.
type Searcher struct {
	manager *Manager
	opts    SearcherOptions
}

func NewSearcher(manager *Manager, opts SearcherOptions) *Searcher {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultSearchTimeout
	}
	if opts.ClassAttribute == "" {
		opts.ClassAttribute = DefaultClassAttribute
	}
	if opts.Metrics == nil {
		opts.Metrics = noopMetrics{}
	}
	return &Searcher{manager: manager, opts: opts}
}

type searchResult struct {
	res *ldap.SearchResult
	err error
}

func (s *Searcher) attributes() []string {
	return []string{AttrMail, AttrDisplayName, s.opts.ClassAttribute}
}

// SearchUsers races the directory round trip against the search timeout.
// A timeout triggers a background reconnect: a stuck search usually means a
// dead connection.
func (s *Searcher) SearchUsers(ctx context.Context, filter string) ([]domain.DirectoryUser, error) {
	ctx, span := tracer.Start(ctx, "Directory.Searcher.SearchUsers")
	defer span.End()
	span.SetAttributes(attribute.String("filter", filter))

	conn, err := s.manager.GetClient()
	if err != nil {
		s.opts.Metrics.IncDirectorySearch("not_ready")
		span.RecordError(err)
		return nil, err
	}

	req := ldap.NewSearchRequest(
		s.opts.BaseDN,
		ldap.ScopeWholeSubtree,
		ldap.NeverDerefAliases,
		0,
		int(s.opts.Timeout/time.Second),
		false,
		filter,
		s.attributes(),
		nil,
	)

	// Capacity 1: a reply that arrives after the timer fired is parked here
	// and dropped, never delivered to a caller that already returned.
	results := make(chan searchResult, 1)
	started := time.Now()
	go func() {
		res, err := conn.Search(req)
		results <- searchResult{res: res, err: err}
	}()

	timer := time.NewTimer(s.opts.Timeout)
	defer timer.Stop()

	select {
	case r := <-results:
		s.opts.Metrics.ObserveDirectorySearch(time.Since(started))
		if r.err != nil {
			return s.searchFailed(span, conn, r.err)
		}
		s.opts.Metrics.IncDirectorySearch("ok")
		return mapEntries(r.res.Entries, s.opts.ClassAttribute), nil

	case <-timer.C:
		s.opts.Metrics.IncDirectorySearch("timeout")
		log.Warn().
			Str("module", "directory").
			Dur("timeout", s.opts.Timeout).
			Msg("directory search timed out, reconnecting")
		s.manager.MakeClient()
		span.RecordError(domain.ErrTimeout)
		return nil, domain.ErrTimeout

	case <-ctx.Done():
		s.opts.Metrics.IncDirectorySearch("cancelled")
		span.RecordError(ctx.Err())
		return nil, ctx.Err()
	}
}

func (s *Searcher) searchFailed(span trace.Span, conn Conn, err error) ([]domain.DirectoryUser, error) {
	// an unknown base or subtree is an empty result, not a failure
	if ldap.IsErrorWithCode(err, ldap.LDAPResultNoSuchObject) {
		s.opts.Metrics.IncDirectorySearch("ok")
		return []domain.DirectoryUser{}, nil
	}
	span.RecordError(err)
	if isConnectionError(err) || conn.IsClosing() {
		s.opts.Metrics.IncDirectorySearch("conn_error")
		s.manager.ReportFailure(conn, err)
		return nil, errors.Wrap(domain.ErrNotReady, err.Error())
	}
	s.opts.Metrics.IncDirectorySearch("error")
	return nil, errors.Wrap(err, "directory search failed")
}

// FindByEmail searches for an exact, normalized mail match.
func (s *Searcher) FindByEmail(ctx context.Context, email string) ([]domain.DirectoryUser, error) {
	return s.SearchUsers(ctx, ExactEmailFilter(email))
}

// FindByEmailPrefix searches for mails starting with prefix.
func (s *Searcher) FindByEmailPrefix(ctx context.Context, prefix string) ([]domain.DirectoryUser, error) {
	return s.SearchUsers(ctx, PrefixEmailFilter(prefix))
}
