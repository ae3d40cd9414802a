package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

var (
	RegistrationsTotal   prometheus.Counter
	LoginSuccessTotal    prometheus.Counter
	LoginFailureTotal    prometheus.Counter
	SocialLoginTotal     *prometheus.CounterVec
	TokensRefreshedTotal prometheus.Counter
	RefreshReplayTotal   prometheus.Counter
	PasswordResetsTotal  prometheus.Counter
	ActiveSessionsGauge  prometheus.Gauge
)

// InitCustomMetrics initializes and registers the auth metrics.
// It should be called once at application startup.
func InitCustomMetrics(reg prometheus.Registerer) {
	RegistrationsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auth_registrations_total",
		Help: "Total number of accounts registered.",
	})
	LoginSuccessTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auth_logins_success_total",
		Help: "Total number of successful password logins.",
	})
	LoginFailureTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auth_logins_failure_total",
		Help: "Total number of failed password logins.",
	})
	SocialLoginTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "auth_social_logins_total",
		Help: "Total number of successful social logins, by provider.",
	}, []string{"provider"})
	TokensRefreshedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auth_tokens_refreshed_total",
		Help: "Total number of refresh-token rotations.",
	})
	RefreshReplayTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auth_refresh_replays_total",
		Help: "Total number of already-revoked refresh tokens presented again.",
	})
	PasswordResetsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auth_password_resets_total",
		Help: "Total number of completed password resets.",
	})
	ActiveSessionsGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "auth_active_sessions_gauge",
		Help: "Current number of active user sessions.",
	})

	if reg == nil {
		log.Error().Msg("Prometheus registry is nil, cannot register custom metrics.")
		return
	}

	collectors := []prometheus.Collector{
		RegistrationsTotal, LoginSuccessTotal, LoginFailureTotal,
		SocialLoginTotal, TokensRefreshedTotal, RefreshReplayTotal,
		PasswordResetsTotal, ActiveSessionsGauge,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			log.Warn().Err(err).Msg("Failed to register metric")
		}
	}
	log.Info().Msg("Custom Prometheus metrics registered.")
}
