package console

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/reliefnet/internal/api"
	"github.com/starford/reliefnet/internal/apperr"
	"github.com/starford/reliefnet/internal/frame"
)

const (
	maxChatPage  = 200
	maxEventPage = 100
)

// SendRequest is the body of POST /api/send.
type SendRequest struct {
	To     string `json:"to" example:"D1"`
	UserID string `json:"userId" example:"D1-AAA"`
	Text   string `json:"text" example:"evacuate to the school" validate:"required"`
}

// Validate implements validation.Validatable.
func (r SendRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.To, validation.Length(0, frame.TagSize-1)),
		validation.Field(&r.UserID, validation.Length(0, frame.UserSize-1)),
		validation.Field(&r.Text, validation.Required, validation.Length(1, frame.MaxPayload)),
	)
}

// TickerRequest is the body of POST /api/ticker. An empty message clears the ticker.
type TickerRequest struct {
	Message string `json:"message" example:"water distribution at 17:00"`
}

// Validate implements validation.Validatable.
func (r TickerRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Message, validation.Length(0, frame.MaxPayload)),
	)
}

// GPSRequest is the body of POST /api/gps.
type GPSRequest struct {
	UserID string   `json:"uid" validate:"required"`
	Lat    *float64 `json:"lat" validate:"required"`
	Lng    *float64 `json:"lng" validate:"required"`
	NodeID string   `json:"drone"`
}

// Validate implements validation.Validatable.
func (r GPSRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.UserID, validation.Required),
		validation.Field(&r.Lat, validation.NotNil, validation.Min(-90.0), validation.Max(90.0)),
		validation.Field(&r.Lng, validation.NotNil, validation.Min(-180.0), validation.Max(180.0)),
	)
}

// Handler holds the console HTTP handlers.
type Handler struct {
	svc    *Service
	logger *slog.Logger
}

// NewHandler creates a new Handler.
func NewHandler(svc *Service, logger *slog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// NewRouter creates the console routes, to be mounted under /api.
// stream, if non-nil, is mounted at GET /stream inside the auth group.
func NewRouter(svc *Service, authEnabled bool, token string, stream http.Handler, logger *slog.Logger) chi.Router {
	h := NewHandler(svc, logger)

	r := chi.NewRouter()
	r.Use(api.AuthMiddleware(authEnabled, token))

	r.Get("/state", h.State)
	r.Get("/chats", h.Chats)
	r.Get("/events", h.Events)
	r.Post("/send", h.Send)
	r.Post("/ticker", h.Ticker)
	r.Post("/gps", h.GPS)

	if stream != nil {
		r.Get("/stream", stream.ServeHTTP)
	}
	return r
}

// State handles GET /api/state.
func (h *Handler) State(w http.ResponseWriter, r *http.Request) {
	api.WriteJSON(w, http.StatusOK, h.svc.Snapshot())
}

// Chats handles GET /api/chats.
//
//	@Summary		Recent chats seen by the hub, newest first
//	@Tags			console
//	@Produce		json
//	@Param			uid		query	string	false	"Only chats involving this user"
//	@Param			limit	query	int		false	"Page size (max 200)"
//	@Success		200		{array}	ChatView
//	@Router			/chats [get]
func (h *Handler) Chats(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	api.WriteJSON(w, http.StatusOK, h.svc.Chats(q.Get("uid"), pageSize(q.Get("limit"), maxChatPage)))
}

// Events handles GET /api/events.
func (h *Handler) Events(w http.ResponseWriter, r *http.Request) {
	events, err := h.svc.Events(pageSize(r.URL.Query().Get("limit"), maxEventPage))
	if err != nil {
		h.logger.Error("events failed", slog.String("error", err.Error()))
		api.WriteJSON(w, http.StatusInternalServerError, api.ErrorBody("internal error"))
		return
	}
	api.WriteJSON(w, http.StatusOK, events)
}

// Send handles POST /api/send.
//
//	@Summary		Send an operator command to a node or to all nodes
//	@Tags			console
//	@Accept			json
//	@Produce		json
//	@Param			body	body		SendRequest	true	"Command"
//	@Success		200		{object}	api.AckResponse
//	@Failure		400		{object}	api.ErrResponse
//	@Failure		503		{object}	api.ErrResponse
//	@Router			/send [post]
func (h *Handler) Send(w http.ResponseWriter, r *http.Request) {
	var req SendRequest
	if err := api.DecodeJSON(w, r, &req); err != nil {
		api.WriteJSON(w, http.StatusBadRequest, api.ErrorBody("invalid JSON body"))
		return
	}
	if err := req.Validate(); err != nil {
		api.WriteJSON(w, http.StatusBadRequest, api.ErrorBody(err.Error()))
		return
	}
	if err := h.svc.Send(req.To, req.UserID, req.Text); err != nil {
		h.unavailable(w, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, api.AckResponse{Status: "ok"})
}

// Ticker handles POST /api/ticker.
func (h *Handler) Ticker(w http.ResponseWriter, r *http.Request) {
	var req TickerRequest
	if err := api.DecodeJSON(w, r, &req); err != nil {
		api.WriteJSON(w, http.StatusBadRequest, api.ErrorBody("invalid JSON body"))
		return
	}
	if err := req.Validate(); err != nil {
		api.WriteJSON(w, http.StatusBadRequest, api.ErrorBody(err.Error()))
		return
	}
	if err := h.svc.SetTicker(req.Message); err != nil {
		h.unavailable(w, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, api.AckResponse{Status: "ok"})
}

// GPS handles POST /api/gps.
func (h *Handler) GPS(w http.ResponseWriter, r *http.Request) {
	var req GPSRequest
	if err := api.DecodeJSON(w, r, &req); err != nil {
		api.WriteJSON(w, http.StatusBadRequest, api.ErrorBody("invalid JSON body"))
		return
	}
	if err := req.Validate(); err != nil {
		api.WriteJSON(w, http.StatusBadRequest, api.ErrorBody(err.Error()))
		return
	}
	h.svc.UpdateGPS(GPSFix{UserID: req.UserID, Lat: req.Lat, Lng: req.Lng, NodeID: req.NodeID})
	api.WriteJSON(w, http.StatusOK, api.AckResponse{Status: "ok"})
}

func (h *Handler) unavailable(w http.ResponseWriter, err error) {
	if errors.Is(err, apperr.ErrNotConnected) {
		api.WriteJSON(w, http.StatusServiceUnavailable, api.ErrorBody("hub not connected"))
		return
	}
	h.logger.Error("command failed", slog.String("error", err.Error()))
	api.WriteJSON(w, http.StatusInternalServerError, api.ErrorBody("internal error"))
}

func pageSize(raw string, limit int) int {
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 || n > limit {
		return limit
	}
	return n
}
