package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder receives every instrument the service exposes. It satisfies the
// directory and usecase metric ports.
type Recorder interface {
	IncDirectoryConnect(result string)
	SetDirectoryState(state string)
	IncDirectorySearch(outcome string)
	ObserveDirectorySearch(d time.Duration)
	IncIdentityCache(result string)
	ObserveForensics(d time.Duration)
}

type Provider struct {
	directoryConnects *prometheus.CounterVec
	directoryState    *prometheus.GaugeVec
	directorySearches *prometheus.CounterVec
	searchDuration    prometheus.Histogram
	identityCache     *prometheus.CounterVec
	forensicsDuration prometheus.Histogram
}

var directoryStates = []string{"disconnected", "connecting", "bound", "closed"}

// New registers the instruments on reg. A disabled provider records nothing.
func New(enabled bool, reg prometheus.Registerer) Recorder {
	if !enabled {
		return Noop{}
	}
	factory := promauto.With(reg)

	return &Provider{
		directoryConnects: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "examwatch_directory_connects_total",
			Help: "Directory connect attempts by result",
		}, []string{"result"}),

		directoryState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "examwatch_directory_state",
			Help: "1 for the current directory connection state",
		}, []string{"state"}),

		directorySearches: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "examwatch_directory_searches_total",
			Help: "Directory searches by outcome",
		}, []string{"outcome"}),

		searchDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "examwatch_directory_search_duration_seconds",
			Help:    "Directory search round trip in seconds",
			Buckets: prometheus.DefBuckets,
		}),

		identityCache: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "examwatch_identity_cache_total",
			Help: "Identity store lookups by result",
		}, []string{"result"}),

		forensicsDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "examwatch_forensics_duration_seconds",
			Help:    "Forensics report latency in seconds",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 20},
		}),
	}
}

func (p *Provider) IncDirectoryConnect(result string) {
	p.directoryConnects.WithLabelValues(result).Inc()
}

func (p *Provider) SetDirectoryState(state string) {
	for _, s := range directoryStates {
		v := 0.0
		if s == state {
			v = 1
		}
		p.directoryState.WithLabelValues(s).Set(v)
	}
}

func (p *Provider) IncDirectorySearch(outcome string) {
	p.directorySearches.WithLabelValues(outcome).Inc()
}

func (p *Provider) ObserveDirectorySearch(d time.Duration) {
	p.searchDuration.Observe(d.Seconds())
}

func (p *Provider) IncIdentityCache(result string) {
	p.identityCache.WithLabelValues(result).Inc()
}

func (p *Provider) ObserveForensics(d time.Duration) {
	p.forensicsDuration.Observe(d.Seconds())
}

// Noop is used when metrics are disabled.
type Noop struct{}

func (Noop) IncDirectoryConnect(string)           {}
func (Noop) SetDirectoryState(string)             {}
func (Noop) IncDirectorySearch(string)            {}
func (Noop) ObserveDirectorySearch(time.Duration) {}
func (Noop) IncIdentityCache(string)              {}
func (Noop) ObserveForensics(time.Duration)       {}
