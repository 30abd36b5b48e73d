package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"renoflow/auth"
	"renoflow/bid"
	"renoflow/inspection"
	"renoflow/ratelimit"
	"renoflow/request"
	"renoflow/sweep"
)

type ctxKey int

const (
	ctxKeyUserID ctxKey = iota
	ctxKeyRole
)

type authService interface {
	Register(ctx context.Context, req auth.RegisterRequest) (*auth.User, error)
	Login(ctx context.Context, req auth.LoginRequest) (auth.LoginResult, error)
	VerifyToken(token string) (string, auth.Role, error)
}

type requestService interface {
	Create(ctx context.Context, params request.CreateParams) (request.Request, error)
	Get(ctx context.Context, id string) (request.Request, error)
	List(ctx context.Context, filters request.Filters) ([]request.Request, error)
	BeginInspection(ctx context.Context, id string) (request.Request, error)
	ScheduleInspection(ctx context.Context, params request.ScheduleParams) (request.Request, error)
	Cancel(ctx context.Context, params request.CancelParams) (request.Request, error)
	Complete(ctx context.Context, requestID, actorID, actorRole string) (request.Request, error)
}

type interestService interface {
	RecordInterest(ctx context.Context, params inspection.RecordParams) (inspection.Interest, error)
}

type bidService interface {
	Submit(ctx context.Context, params bid.SubmitParams) (bid.Bid, error)
	Withdraw(ctx context.Context, bidID, ownerID string) error
	Accept(ctx context.Context, bidID, actorID string, actorIsAdmin bool) (bid.AcceptResult, error)
	ListByContractor(ctx context.Context, contractorID string) ([]bid.Bid, error)
	ListForRequest(ctx context.Context, requestID, actorID string, actorIsAdmin bool) ([]bid.Bid, error)
}

type sweeper interface {
	Run(ctx context.Context) (sweep.Summary, error)
}

// Server wires the HTTP surface to the domain services.
type Server struct {
	authService     authService
	requestService  requestService
	interestService interestService
	bidService      bidService
	sweeper         sweeper
	limiter         *ratelimit.Limiter
	sweepSecret     string
	logger          *slog.Logger
}

func NewServer(authSvc authService, requestSvc requestService, interestSvc interestService, bidSvc bidService, sw sweeper, limiter *ratelimit.Limiter, sweepSecret string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		authService:     authSvc,
		requestService:  requestSvc,
		interestService: interestSvc,
		bidService:      bidSvc,
		sweeper:         sw,
		limiter:         limiter,
		sweepSecret:     sweepSecret,
		logger:          logger,
	}
}

// Router builds the chi routing tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Get("/ping", s.handlePing)

		r.Post("/auth/register", s.handleRegister)
		r.Post("/auth/login", s.handleLogin)

		r.Post("/internal/sweep", s.handleSweep)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Post("/requests", s.handleCreateRequest)
			r.Get("/requests", s.handleListRequests)
			r.Get("/requests/{requestID}", s.handleGetRequest)
			r.Post("/requests/{requestID}/inspection", s.handleBeginInspection)
			r.Post("/requests/{requestID}/inspection/schedule", s.handleScheduleInspection)
			r.Post("/requests/{requestID}/interest", s.rateLimited("interest", s.handleRecordInterest))
			r.Post("/requests/{requestID}/cancel", s.handleCancelRequest)
			r.Post("/requests/{requestID}/complete", s.handleCompleteRequest)
			r.Get("/requests/{requestID}/bids", s.handleListRequestBids)

			r.Post("/requests/{requestID}/bids", s.rateLimited("submit-bid", s.handleSubmitBid))
			r.Get("/bids", s.handleListOwnBids)
			r.Delete("/bids/{bidID}", s.handleWithdrawBid)
			r.Post("/bids/{bidID}/accept", s.handleAcceptBid)
		})
	})

	return r
}

func (s *Server) handlePing(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// authMiddleware verifies the bearer token and stashes the caller identity
// in the request context.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		userID, role, err := s.authService.VerifyToken(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		ctx := context.WithValue(r.Context(), ctxKeyUserID, userID)
		ctx = context.WithValue(ctx, ctxKeyRole, role)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// rateLimited throttles a handler per user using the shared counter store.
func (s *Server) rateLimited(name string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil {
			userID, _ := callerID(r.Context())
			if !s.limiter.Allow(r.Context(), name+":"+userID) {
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
		}
		next(w, r)
	}
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", false
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

func callerID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(ctxKeyUserID).(string)
	return id, ok
}

func callerRole(ctx context.Context) auth.Role {
	role, _ := ctx.Value(ctxKeyRole).(auth.Role)
	return role
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeDomainError maps domain sentinels onto HTTP statuses. Anything
// unrecognised is a 500 and gets logged.
func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, request.ErrNotFound),
		errors.Is(err, bid.ErrNotFound),
		errors.Is(err, inspection.ErrInterestNotFound),
		errors.Is(err, auth.ErrUserNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, request.ErrForbidden),
		errors.Is(err, bid.ErrForbidden):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, request.ErrInvalidTransition),
		errors.Is(err, request.ErrStatusConflict),
		errors.Is(err, request.ErrNoParticipants),
		errors.Is(err, bid.ErrNotPending),
		errors.Is(err, bid.ErrBiddingNotOpen),
		errors.Is(err, bid.ErrInspectionRequired),
		errors.Is(err, inspection.ErrNotInInspectionPhase):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, auth.ErrDuplicateEmail):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, auth.ErrWeakPassword),
		errors.Is(err, auth.ErrInvalidInput),
		errors.Is(err, request.ErrInvalidInput),
		errors.Is(err, bid.ErrInvalidInput),
		errors.Is(err, inspection.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.logger.Error("internal error", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
