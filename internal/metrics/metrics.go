package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"geoattend/internal/attendance"
)

// Metrics exports check-in outcomes to prometheus. It implements attendance.Observer.
type Metrics struct {
	sessions prometheus.Counter
	verdicts *prometheus.CounterVec
	failures *prometheus.CounterVec
	users    *prometheus.CounterVec
	distance prometheus.Histogram
}

var _ attendance.Observer = (*Metrics)(nil)

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		sessions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "geoattend_sessions_opened_total",
			Help: "Sessions opened by instructors.",
		}),
		verdicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "geoattend_checkins_total",
			Help: "Check-in verdicts by outcome and arrival status.",
		}, []string{"verdict", "arrival"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "geoattend_checkin_errors_total",
			Help: "Check-ins that failed before a verdict, by error kind.",
		}, []string{"kind"}),
		users: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "geoattend_user_resolutions_total",
			Help: "User directory resolutions by result.",
		}, []string{"result"}),
		distance: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "geoattend_checkin_distance_meters",
			Help:    "Distance from the geofence center of decided check-ins.",
			Buckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000, 5000, 25000, 100000},
		}),
	}
	reg.MustRegister(m.sessions, m.verdicts, m.failures, m.users, m.distance)
	return m
}

func (m *Metrics) SessionOpened() { m.sessions.Inc() }

func (m *Metrics) CheckInDecided(accepted bool, arrival attendance.ArrivalStatus, distance float64) {
	verdict := "rejected"
	label := "none"
	if accepted {
		verdict = "accepted"
		label = string(arrival)
	}
	m.verdicts.WithLabelValues(verdict, label).Inc()
	m.distance.Observe(distance)
}

func (m *Metrics) CheckInFailed(kind attendance.Kind) {
	if kind == "" {
		kind = "internal"
	}
	m.failures.WithLabelValues(string(kind)).Inc()
}

func (m *Metrics) UserResolved(r attendance.Resolution) {
	m.users.WithLabelValues(r.String()).Inc()
}
