package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/xtrntr/powermarket/internal/apperr"
	"github.com/xtrntr/powermarket/internal/auth"
	"github.com/xtrntr/powermarket/internal/events"
	"github.com/xtrntr/powermarket/internal/matching"
	"github.com/xtrntr/powermarket/internal/models"
	"go.uber.org/zap"
)

// OrderStore is the durable store behind the order and trade routes
type OrderStore interface {
	ListOrders(ctx context.Context, side models.Side, ownerID string) ([]models.Order, error)
	ListAllOrders(ctx context.Context) ([]models.Order, error)
	GetOrder(ctx context.Context, side models.Side, id uuid.UUID) (*models.Order, error)
	CreateOrders(ctx context.Context, orders []models.Order) ([]models.Order, error)
	UpdateOrder(ctx context.Context, order *models.Order) (*models.Order, error)
	DeleteOrder(ctx context.Context, side models.Side, id uuid.UUID, ownerID string) error
	ListTrades(ctx context.Context, counterpartyID string, role models.TradeRole) ([]models.Trade, error)
	CreateTrades(ctx context.Context, trades []models.Trade) ([]models.Trade, error)
}

// WindowService manages the submission window
type WindowService interface {
	Set(ctx context.Context, openTime, closeTime time.Time) (*models.SubmissionWindow, error)
	List(ctx context.Context) ([]models.SubmissionWindow, error)
	Reset(ctx context.Context) (*models.SubmissionWindow, error)
	Delete(ctx context.Context) error
}

// Authenticator resolves a request to a user id
type Authenticator interface {
	Authenticate(r *http.Request) (string, error)
}

// AdminVerifier checks the administrative key
type AdminVerifier interface {
	Verify(key string) error
}

// Matcher submits an order book to the matching engine
type Matcher interface {
	Match(ctx context.Context, book matching.Book) ([]models.Trade, error)
}

// Notifier pushes a message to notification subscribers
type Notifier interface {
	Notify(msg string)
}

// Handler contains dependencies for HTTP handlers
type Handler struct {
	Store    OrderStore
	Windows  WindowService
	Auth     Authenticator
	Notifier Notifier
	Events   events.Publisher
	Logger   *zap.SugaredLogger

	// Admin gates window mutators and the match trigger. Nil leaves them open.
	Admin AdminVerifier
	// Matcher is nil when no matching engine is configured
	Matcher Matcher
}

// NewHandler creates a new handler
func NewHandler(store OrderStore, windows WindowService, authenticator Authenticator, notifier Notifier, publisher events.Publisher, logger *zap.SugaredLogger) *Handler {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &Handler{
		Store:    store,
		Windows:  windows,
		Auth:     authenticator,
		Notifier: notifier,
		Events:   publisher,
		Logger:   logger,
	}
}

type contextKey string

const userIDKey contextKey = "user_id"

// UserID returns the authenticated user stored by AuthMiddleware
func UserID(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(userIDKey).(string)
	return userID, ok && userID != ""
}

// AuthMiddleware resolves the bearer credential to a user id
func (h *Handler) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := h.Auth.Authenticate(r)
		if err != nil {
			h.writeError(w, r, err)
			return
		}

		// Add user_id to context
		ctx := context.WithValue(r.Context(), userIDKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// AdminMiddleware requires a valid X-Admin-Key when an admin verifier is configured
func (h *Handler) AdminMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.Admin != nil {
			if err := h.Admin.Verify(r.Header.Get(auth.AdminKeyHeader)); err != nil {
				h.writeError(w, r, err)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Error string      `json:"error"`
	Code  apperr.Kind `json:"code"`
}

// writeError maps err onto the taxonomy. Upstream and internal causes are
// logged and replaced by a generic message.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := apperr.KindOf(err)
	status := apperr.Status(kind)
	if status >= http.StatusInternalServerError {
		h.Logger.Errorw("request failed", "method", r.Method, "path", r.URL.Path, "code", kind, "error", err)
	} else {
		h.Logger.Debugw("request rejected", "method", r.Method, "path", r.URL.Path, "code", kind, "error", err)
	}
	writeJSON(w, status, errorResponse{Error: apperr.Message(err), Code: kind})
}

// decodeJSON reads a JSON body into v. Malformed bodies, including
// timestamps without an explicit offset, are validation errors.
func decodeJSON(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return apperr.Validation("request body required")
		}
		var timeErr *time.ParseError
		if errors.As(err, &timeErr) {
			return apperr.Validation("timestamps must be RFC 3339 with an explicit offset")
		}
		return apperr.Validation("invalid request body")
	}
	return nil
}

// publish sends events without failing the request
func (h *Handler) publish(ctx context.Context, evs ...events.Event) {
	if err := h.Events.Publish(ctx, evs...); err != nil {
		h.Logger.Warnw("failed to publish events", "count", len(evs), "error", err)
	}
}

func (h *Handler) notify(msg string) {
	if h.Notifier != nil {
		h.Notifier.Notify(msg)
	}
}

// Me returns the authenticated user id
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserID(r.Context())
	writeJSON(w, http.StatusOK, map[string]string{"user": userID})
}

type webhookPayload struct {
	Type string `json:"type"`
	Data struct {
		ID             string `json:"id"`
		EmailAddresses []struct {
			EmailAddress string `json:"email_address"`
		} `json:"email_addresses"`
	} `json:"data"`
}

// Webhook receives identity provider events
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	var payload webhookPayload
	if err := decodeJSON(r, &payload); err != nil {
		h.writeError(w, r, err)
		return
	}

	if payload.Type != "user.created" {
		writeJSON(w, http.StatusOK, map[string]string{
			"status":  "ignored",
			"message": "Event type not handled",
		})
		return
	}

	var email string
	if len(payload.Data.EmailAddresses) > 0 {
		email = payload.Data.EmailAddresses[0].EmailAddress
	}
	h.Logger.Infow("new user created", "user_id", payload.Data.ID, "email", email)
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "success",
		"message": "User created event processed",
	})
}

// Healthz reports liveness
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
