package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/kratos2377/rally-matchmaker/domain/confirmation"
	"github.com/kratos2377/rally-matchmaker/domain/entities"
	"github.com/kratos2377/rally-matchmaker/domain/searches"
)

type SearchesAPIUseCases interface {
	StartSearch(ctx context.Context, input searches.StartSearchInput) (searches.StartSearchOutput, error)
	CancelSearch(ctx context.Context, input searches.CancelSearchInput) (searches.CancelSearchOutput, error)
	Heartbeat(ctx context.Context, input searches.HeartbeatInput) (searches.HeartbeatOutput, error)
	GetSearch(ctx context.Context, input searches.GetSearchInput) (*entities.SearchRequest, error)
	MarkWaitlisted(ctx context.Context, input searches.MarkWaitlistedInput) error
	ListWaitlist(ctx context.Context) ([]entities.SearchRequest, error)
}

type ConfirmationAPIUseCases interface {
	AcceptMatch(ctx context.Context, input confirmation.AcceptMatchInput) (confirmation.FinalizeOutcome, error)
	DeclineMatch(ctx context.Context, input confirmation.DeclineMatchInput) (confirmation.DeclineMatchOutput, error)
}

type UseCases struct {
	SearchesAPIUseCases     SearchesAPIUseCases
	ConfirmationAPIUseCases ConfirmationAPIUseCases
	Logger                  *slog.Logger
}

// NewServer routes the matchmaking API. Callers identify themselves with
// the X-User-ID header, set by the authenticating gateway in front of it.
func NewServer(useCases UseCases) *chi.Mux {
	logger := useCases.Logger
	if logger == nil {
		logger = slog.Default()
	}
	h := &handler{searches: useCases.SearchesAPIUseCases, confirm: useCases.ConfirmationAPIUseCases, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	})

	r.Route("/match", func(r chi.Router) {
		r.Get("/waitlist", h.listWaitlist)

		r.Group(func(r chi.Router) {
			r.Use(requireUser)
			r.Post("/start", h.startSearch)
			r.Post("/cancel", h.cancelSearch)
			r.Post("/heartbeat", h.heartbeat)
			r.Post("/accept", h.acceptMatch)
			r.Post("/decline", h.declineMatch)
			r.Post("/waitlist/{id}", h.markWaitlisted)
			r.Get("/requests/{id}", h.getSearch)
		})
	})

	return r
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debug("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()))
		})
	}
}

type userKey struct{}

const userHeader = "X-User-ID"

func requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := r.Header.Get(userHeader)
		if userID == "" {
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: "Not authorized"})
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey{}, userID)))
	})
}

func userFrom(r *http.Request) string {
	id, _ := r.Context().Value(userKey{}).(string)
	return id
}
