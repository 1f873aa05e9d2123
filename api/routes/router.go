package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/pactsign-backend/api/controllers"
	"github.com/angelmondragon/pactsign-backend/api/middleware"
	"github.com/angelmondragon/pactsign-backend/internal/contracts"
	"github.com/angelmondragon/pactsign-backend/pkg/config"
	"github.com/angelmondragon/pactsign-backend/pkg/enums"
	"github.com/angelmondragon/pactsign-backend/pkg/logger"
	"github.com/angelmondragon/pactsign-backend/pkg/redis"
)

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP controllers.Pinger,
	redisClient *redis.Client,
	contractsService contracts.Service,
	outboxAdmin controllers.OutboxAdmin,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.HTTP.CORSOrigins),
	)

	readiness := map[string]controllers.Pinger{"db": dbP}
	var idem func(http.Handler) http.Handler
	var signLimit func(http.Handler) http.Handler
	if redisClient != nil {
		readiness["redis"] = redisClient
		idem = middleware.Idempotency(redisClient, logg)
		signLimit = middleware.RateLimit(middleware.RateLimitPolicy{
			Name:   "sign",
			Window: cfg.HTTP.SignRateWindow,
			Limits: []middleware.Limit{
				middleware.PerIP(cfg.HTTP.SignRateIPLimit),
				middleware.PerURLParam("token", cfg.HTTP.SignRateTokenLimit),
			},
		}, redisClient, logg)
	} else {
		idem = middleware.Idempotency(nil, logg)
		signLimit = middleware.RateLimit(middleware.RateLimitPolicy{}, nil, logg)
	}

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, readiness))
	})

	r.Route("/api/public/sign/{token}", func(r chi.Router) {
		r.Use(signLimit)
		r.Get("/", controllers.GetSigningContract(contractsService, logg))
		r.With(idem).Post("/", controllers.SignContract(contractsService, logg))
	})

	r.Route("/api/v1/contracts", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))

		r.Get("/", controllers.ListContracts(contractsService, logg))
		r.With(idem).Post("/", controllers.CreateContract(contractsService, logg))

		r.Route("/{contractId}", func(r chi.Router) {
			r.Get("/", controllers.GetContract(contractsService, logg))
			r.Put("/", controllers.UpdateContract(contractsService, logg))
			r.Delete("/", controllers.DeleteContract(contractsService, logg))
			r.With(idem).Post("/send", controllers.SendContract(contractsService, logg))
			r.With(idem).Post("/resend", controllers.ResendContract(contractsService, logg))
			r.With(idem).Post("/cancel", controllers.CancelContract(contractsService, logg))
		})
	})

	r.Route("/api/admin/v1/email-outbox", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.RequireRole(enums.UserRoleAdmin, logg))

		r.Get("/failed", controllers.AdminListFailedEmails(outboxAdmin, logg))
		r.With(idem).Post("/{entryId}/requeue", controllers.AdminRequeueEmail(outboxAdmin, logg))
	})

	return r
}
