package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ViolationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warden_violations_total",
			Help: "Classified violations seen, by feature.",
		},
		[]string{"feature"},
	)

	EnforcementsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warden_enforcements_total",
			Help: "Enforcement actions executed, by feature and action.",
		},
		[]string{"feature", "action"},
	)

	MutationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warden_membership_mutations_total",
			Help: "Membership mutation items, by operation and result.",
		},
		[]string{"op", "result"},
	)

	AuthCacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warden_authcache_lookups_total",
			Help: "Authorization cache lookups, by outcome (hit/miss/error).",
		},
		[]string{"outcome"},
	)
)

// Init registers all collectors with the default registry. Call once at
// startup.
func Init() {
	prometheus.MustRegister(
		ViolationsTotal,
		EnforcementsTotal,
		MutationsTotal,
		AuthCacheLookups,
	)
}

func Handler() http.Handler {
	return promhttp.Handler()
}
