package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mostafizurRahaman/donation-app-server/api/controllers"
	webhookcontrollers "github.com/mostafizurRahaman/donation-app-server/api/controllers/webhooks"
	"github.com/mostafizurRahaman/donation-app-server/api/middleware"
	"github.com/mostafizurRahaman/donation-app-server/pkg/logger"
)

// Dependencies is everything the HTTP surface needs. Nil services produce
// handlers that answer with an internal error rather than panicking.
type Dependencies struct {
	Logger        *logger.Logger
	DB            controllers.Pinger
	Redis         controllers.Pinger
	Gatherer      prometheus.Gatherer
	Donations     controllers.DonationRefunder
	Scheduled     controllers.ScheduledDonationService
	RoundUps      controllers.RoundUpRecorder
	StripeWebhook webhookcontrollers.StripeWebhookService
	StripeClient  webhookcontrollers.SigningSecretProvider
}

func NewRouter(deps Dependencies) http.Handler {
	logg := deps.Logger
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive())
		r.Get("/ready", controllers.HealthReady(logg, readinessDeps(deps)))
	})

	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/webhooks/stripe", webhookcontrollers.StripeWebhook(deps.StripeWebhook, deps.StripeClient, logg))

		r.Post("/donations/{donationId}/refund", controllers.DonationRefund(deps.Donations, logg))

		r.Route("/scheduled-donations", func(r chi.Router) {
			r.Post("/", controllers.ScheduledDonationCreate(deps.Scheduled, logg))
			r.Get("/{scheduledDonationId}", controllers.ScheduledDonationGet(deps.Scheduled, logg))
			r.Post("/{scheduledDonationId}/pause", controllers.ScheduledDonationPause(deps.Scheduled, logg))
			r.Post("/{scheduledDonationId}/resume", controllers.ScheduledDonationResume(deps.Scheduled, logg))
		})

		r.Post("/round-ups/transactions", controllers.RoundUpRecord(deps.RoundUps, logg))
	})

	return r
}

func readinessDeps(deps Dependencies) map[string]controllers.Pinger {
	out := map[string]controllers.Pinger{}
	if deps.DB != nil {
		out["database"] = deps.DB
	}
	if deps.Redis != nil {
		out["redis"] = deps.Redis
	}
	return out
}
