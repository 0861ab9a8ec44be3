// Package handler exposes the StudyConnect operations as a JSON HTTP API.
package handler

import (
	"context"
	"net/http"
	"time"

	"studyconnect/internal/auth"
	"studyconnect/internal/config"
	"studyconnect/internal/group"
	"studyconnect/internal/membership"
	"studyconnect/internal/middleware"
	"studyconnect/internal/task"
	"studyconnect/internal/user"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// HealthChecker reports whether the database is reachable. Implemented by *database.DB.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Deps are the collaborators the router wires into its handlers.
type Deps struct {
	Config   *config.Config
	DB       HealthChecker
	Verifier middleware.TokenVerifier
	Users    *user.Manager
	Members  *membership.Manager
	Tasks    *task.Manager
	Groups   *group.Manager
	Logger   *zap.Logger
}

// Handler holds the managers shared by every API handler.
type Handler struct {
	users   *user.Manager
	members *membership.Manager
	tasks   *task.Manager
	groups  *group.Manager
	log     *zap.Logger
}

// NewRouter builds the chi router with all routes and middleware.
func NewRouter(d Deps) http.Handler {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	h := &Handler{
		users:   d.Users,
		members: d.Members,
		tasks:   d.Tasks,
		groups:  d.Groups,
		log:     logger,
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogger(logger))
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(30 * time.Second))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		auth.WriteJSONError(w, http.StatusNotFound, "not found", auth.TypeNotFound)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		auth.WriteJSONError(w, http.StatusMethodNotAllowed, "method not allowed", auth.TypeInvalidRequest)
	})

	// Health and status endpoints (no auth required)
	r.Get("/health", healthHandler(d.DB, logger))
	r.Get("/api/v1/status", statusHandler(d.Config))

	r.Route("/api", func(api chi.Router) {
		api.Use(chimw.AllowContentType("application/json"))
		api.Use(middleware.Authenticate(d.Verifier, logger))

		// Registration only needs a verified token; the local user may not exist yet.
		api.Post("/users/register", h.Register)

		api.Group(func(pr chi.Router) {
			pr.Use(middleware.ResolveUser(d.Users, logger))

			pr.Get("/me", h.Me)
			pr.Get("/users/{id}", h.GetUser)
			pr.Put("/users/{id}", h.UpdateUser)

			pr.Route("/tasks", func(tr chi.Router) {
				tr.Get("/", h.ListTasks)
				tr.Post("/", h.CreateTask)
				tr.Get("/{id}", h.GetTask)
				tr.Put("/{id}", h.UpdateTask)
			})

			pr.Route("/groups", func(gr chi.Router) {
				gr.Get("/", h.ListGroups)
				gr.Post("/", h.CreateGroup)
				gr.Get("/mine", h.MyGroups)
				gr.Post("/join", h.JoinGroup)
				gr.Get("/{id}", h.GetGroup)
				gr.Delete("/{id}", h.DeleteGroup)
				gr.Get("/{id}/members", h.GroupMembers)
				gr.Get("/{id}/tasks", h.GroupTasks)
				gr.Post("/{id}/kick", h.KickMember)
				gr.Post("/{id}/promote", h.PromoteMember)
				gr.Post("/{id}/leave", h.LeaveGroup)
			})
		})
	})

	return r
}
