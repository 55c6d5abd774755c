package api

import (
	"context"
	"net/http"
	"time"

	"neonetworker/internal/billing"
	"neonetworker/internal/config"
	"neonetworker/internal/csvimport"
	"neonetworker/internal/google"
	"neonetworker/internal/service"
	"neonetworker/internal/whatsapp"

	sentryhttp "github.com/getsentry/sentry-go/http"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
)

// Deps carries everything the HTTP layer talks to. Telegram, WhatsApp,
// Google and Billing are optional.
type Deps struct {
	Config        *config.Config
	Auth          *service.AuthService
	Users         *service.UserService
	People        *service.PersonService
	Tasks         *service.TaskService
	Events        *service.EventService
	Notifications *service.NotificationService
	Importer      *csvimport.Importer
	Google        *google.AuthService
	Billing       *billing.Service
	Telegram      http.Handler
	WhatsApp      *whatsapp.Webhook
	Ready         func(ctx context.Context) error
	Logger        *zerolog.Logger
}

type handler struct {
	Deps
}

// NewRouter wires every HTTP route.
func NewRouter(deps Deps) http.Handler {
	h := &handler{Deps: deps}
	cfg := deps.Config.HTTP
	limiter := newIPRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(deps.Logger))
	r.Use(sentryhttp.New(sentryhttp.Options{Repanic: true}).Handle)
	r.Use(recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/readyz", h.readyz)

	if deps.Telegram != nil {
		r.Post("/api/telegram/webhook", deps.Telegram.ServeHTTP)
	}
	if deps.WhatsApp != nil {
		r.Get("/api/whatsapp/webhook", deps.WhatsApp.Verify)
		r.Post("/api/whatsapp/webhook", deps.WhatsApp.Receive)
	}

	auth := authenticate(deps.Auth, deps.Users)
	admin := requireAdmin(deps.Users)

	r.Route("/api", func(r chi.Router) {
		r.Use(limiter.Middleware)

		r.Post("/auth/register", h.register)
		r.Post("/auth/login", h.login)
		r.Get("/auth/google/callback", h.googleCallback)

		r.With(auth).Get("/auth/me", h.me)

		r.Group(func(r chi.Router) {
			r.Use(auth, requireApproved)

			r.With(admin).Post("/auth/approve/{id}", h.approveUser)
			r.With(admin).Get("/auth/users", h.listUsers)
			r.Put("/auth/preferred-platform", h.setPreferredPlatform)
			r.Put("/auth/preferences", h.setPreferences)
			r.Post("/auth/telegram/connect", h.connectTelegram)
			r.Post("/auth/whatsapp/connect", h.connectWhatsApp)

			r.Get("/auth/google/initiate", h.googleInitiate)
			r.Post("/auth/google/link", h.googleLink)
			r.Post("/auth/google/revoke", h.googleRevoke)
			r.Get("/auth/google/status", h.googleStatus)
			r.Post("/auth/google/sync-contacts", h.googleSyncContacts)
			r.Post("/auth/google/sync-calendar", h.googleSyncCalendar)

			r.Route("/people", func(r chi.Router) {
				r.Get("/", h.listPeople)
				r.Post("/", h.createPerson)
				r.Get("/export", h.exportPeople)
				r.Delete("/delete-all", h.deleteAllPeople)
				r.Get("/{id}", h.getPerson)
				r.Put("/{id}", h.updatePerson)
				r.Delete("/{id}", h.deletePerson)
				r.Post("/{id}/share", h.sharePerson)
			})

			r.Route("/tasks", func(r chi.Router) {
				r.Get("/", h.listTasks)
				r.Post("/", h.createTask)
				r.Get("/projects", h.listProjects)
				r.Get("/{id}", h.getTask)
				r.Put("/{id}", h.updateTask)
				r.Delete("/{id}", h.deleteTask)
			})

			r.Route("/events", func(r chi.Router) {
				r.Get("/", h.listEvents)
				r.Post("/", h.createEvent)
				r.Get("/upcoming", h.upcomingEvents)
				r.Get("/{id}", h.getEvent)
				r.Put("/{id}", h.updateEvent)
				r.Delete("/{id}", h.deleteEvent)
			})

			r.Post("/csv/preview", h.csvPreview)
			r.Post("/csv-processor", h.csvImport)

			r.Route("/admin", func(r chi.Router) {
				r.Use(admin)
				r.Get("/users", h.listUsers)
				r.Post("/users/{id}/approve", h.adminApprove)
				r.Delete("/users/{id}", h.adminDeleteUser)
				r.Get("/stats", h.adminStats)
			})

			r.Get("/notifications", h.listNotifications)
			r.Post("/notifications/{id}/read", h.markNotificationRead)

			r.Get("/user-group", h.listGroup)
			r.Post("/user-group", h.addGroupMember)
			r.Delete("/user-group/{email}", h.removeGroupMember)

			r.Get("/plan", h.getPlan)
			r.Put("/plan", h.setPlan)

			r.Post("/stripe-portal-session", h.stripePortal)
			r.Post("/stripe-checkout-session", h.stripeCheckout)
		})
	})

	return r
}

func (h *handler) readyz(w http.ResponseWriter, r *http.Request) {
	if h.Ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.Ready(ctx); err != nil {
			zerolog.Ctx(r.Context()).Warn().Err(err).Msg("readiness check failed")
			writeError(w, http.StatusServiceUnavailable, "unready")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
