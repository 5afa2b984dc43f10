package httpapi

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/cors"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/sabayta-booking/internal/booking"
	"github.com/example/sabayta-booking/internal/dispatch"
	"github.com/example/sabayta-booking/internal/models"
	"github.com/example/sabayta-booking/internal/rating"
)

// Notifications lists a user's notification feed.
type Notifications interface {
	List(ctx context.Context, userID string, limit int) ([]*models.Notification, error)
}

type Options struct {
	Engine        *booking.Engine
	Ratings       *rating.Recorder
	Notifications Notifications
	// Hub is optional; without it the websocket route is not registered.
	Hub *dispatch.Hub
	// Ping reports backend health for /healthz.
	Ping   func(ctx context.Context) error
	Logger *slog.Logger

	// JWTSecret enables bearer authentication on the API routes.
	JWTSecret   string
	CORSOrigins []string
}

type Server struct {
	engine        *booking.Engine
	ratings       *rating.Recorder
	notifications Notifications
	hub           *dispatch.Hub
	ping          func(ctx context.Context) error
	logger        *slog.Logger
	auth          *authenticator
	upgrader      websocket.Upgrader

	mux     *mux.Router
	handler http.Handler
}

func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		engine:        opts.Engine,
		ratings:       opts.Ratings,
		notifications: opts.Notifications,
		hub:           opts.Hub,
		ping:          opts.Ping,
		logger:        logger,
		auth:          newAuthenticator(opts.JWTSecret),
		mux:           mux.NewRouter(),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(opts.CORSOrigins),
	}
	s.registerMiddleware()
	s.routes()

	s.handler = s.mux
	if len(opts.CORSOrigins) > 0 {
		s.handler = cors.Handler(cors.Options{
			AllowedOrigins:   opts.CORSOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
			ExposedHeaders:   []string{"X-Request-ID"},
			AllowCredentials: true,
			MaxAge:           300,
		})(s.mux)
	}
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/bookings", s.handleCreateBooking).Methods(http.MethodPost)
	s.mux.HandleFunc("/bookings", s.handleListBookings).Methods(http.MethodGet)
	s.mux.HandleFunc("/bookings/{id}", s.handleGetBooking).Methods(http.MethodGet)
	s.mux.HandleFunc("/bookings/{id}/route", s.handleProgress).Methods(http.MethodGet)
	s.mux.HandleFunc("/bookings/{id}/accept", s.handleAccept).Methods(http.MethodPost)
	s.mux.HandleFunc("/bookings/{id}/location", s.handleLocation).Methods(http.MethodPost)
	s.mux.HandleFunc("/bookings/{id}/pickup", s.handlePickup).Methods(http.MethodPost)
	s.mux.HandleFunc("/bookings/{id}/complete", s.handleComplete).Methods(http.MethodPost)
	s.mux.HandleFunc("/bookings/{id}/cancel", s.handleCancel).Methods(http.MethodPost)
	s.mux.HandleFunc("/ratings", s.handleSubmitRating).Methods(http.MethodPost)
	s.mux.HandleFunc("/users/{id}/notifications", s.handleNotifications).Methods(http.MethodGet)
	if s.hub != nil {
		s.mux.HandleFunc("/ws/bookings/{id}", s.handleWatch).Methods(http.MethodGet)
	}

	s.mux.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	s.mux.Handle("/metrics", promhttp.Handler())

	s.mux.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "route not found"})
	})
	s.mux.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, errorBody{Error: "method not allowed"})
	})
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.handler.ServeHTTP(w, r) }

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.ping != nil {
		if err := s.ping(r.Context()); err != nil {
			s.logger.Warn("health check failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "store unavailable"})
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func originChecker(origins []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || len(origins) == 0 {
			return true
		}
		for _, o := range origins {
			if o == "*" || o == origin {
				return true
			}
		}
		return false
	}
}
