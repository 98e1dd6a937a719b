package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/starford/reliefnet/internal/apperr"
)

// Handler holds the node portal handlers.
type Handler struct {
	svc    NodeService
	logger *slog.Logger
}

// NewHandler creates a new Handler.
func NewHandler(svc NodeService, logger *slog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, apperr.ErrMalformed):
		WriteJSON(w, http.StatusBadRequest, ErrorBody(err.Error()))
	case errors.Is(err, apperr.ErrNotFound):
		WriteJSON(w, http.StatusNotFound, ErrorBody("not found"))
	default:
		h.logger.Error(op+" failed", slog.String("error", err.Error()))
		WriteJSON(w, http.StatusServiceUnavailable, ErrorBody("node unavailable"))
	}
}

// Register handles POST /api/register.
//
//	@Summary		Register a user as offering or requesting a service
//	@Tags			users
//	@Accept			json
//	@Produce		json
//	@Param			body	body		RegisterRequest	true	"Registration"
//	@Success		200		{object}	AckResponse
//	@Failure		400		{object}	ErrResponse
//	@Router			/register [post]
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		WriteJSON(w, http.StatusBadRequest, ErrorBody("invalid JSON body"))
		return
	}
	if err := req.Validate(); err != nil {
		WriteJSON(w, http.StatusBadRequest, ErrorBody(err.Error()))
		return
	}
	if err := h.svc.Register(r.Context(), req.UserID, req.Role, req.Service); err != nil {
		h.fail(w, "register", err)
		return
	}
	WriteJSON(w, http.StatusOK, AckResponse{Status: "ok"})
}

// MyServices handles GET /api/services.
//
//	@Summary		What a user offers and requests
//	@Tags			users
//	@Produce		json
//	@Param			userId	query		string	true	"User id"
//	@Success		200		{object}	ServicesResponse
//	@Failure		400		{object}	ErrResponse
//	@Router			/services [get]
func (h *Handler) MyServices(w http.ResponseWriter, r *http.Request) {
	user := r.URL.Query().Get("userId")
	if user == "" {
		WriteJSON(w, http.StatusBadRequest, ErrorBody("query parameter 'userId' is required"))
		return
	}
	rec, err := h.svc.MyServices(r.Context(), user)
	if err != nil {
		h.fail(w, "services", err)
		return
	}
	WriteJSON(w, http.StatusOK, ServicesResponse{UserID: user, Offering: rec.Offering, Requesting: rec.Requesting})
}

// RequestVolunteers handles POST /api/volunteers/request.
//
//	@Summary		Ask the hub for volunteers offering a service
//	@Description	The answer arrives asynchronously; poll GET /volunteers.
//	@Tags			volunteers
//	@Accept			json
//	@Produce		json
//	@Param			body	body		VolunteerRequest	true	"Service"
//	@Success		202		{object}	AckResponse
//	@Failure		400		{object}	ErrResponse
//	@Router			/volunteers/request [post]
func (h *Handler) RequestVolunteers(w http.ResponseWriter, r *http.Request) {
	var req VolunteerRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		WriteJSON(w, http.StatusBadRequest, ErrorBody("invalid JSON body"))
		return
	}
	if err := req.Validate(); err != nil {
		WriteJSON(w, http.StatusBadRequest, ErrorBody(err.Error()))
		return
	}
	if err := h.svc.RequestVolunteers(r.Context(), req.Service); err != nil {
		h.fail(w, "request volunteers", err)
		return
	}
	WriteJSON(w, http.StatusAccepted, AckResponse{Status: "requested"})
}

// ListVolunteers handles GET /api/volunteers.
//
//	@Summary		Known volunteers for a service
//	@Tags			volunteers
//	@Produce		json
//	@Param			service	query		string	true	"Service code"
//	@Param			exclude	query		string	false	"User id to leave out"
//	@Success		200		{array}		VolunteerItem
//	@Failure		400		{object}	ErrResponse
//	@Router			/volunteers [get]
func (h *Handler) ListVolunteers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	service := q.Get("service")
	if service == "" {
		WriteJSON(w, http.StatusBadRequest, ErrorBody("query parameter 'service' is required"))
		return
	}
	vols, err := h.svc.Volunteers(r.Context(), service, q.Get("exclude"))
	if err != nil {
		h.fail(w, "list volunteers", err)
		return
	}
	out := make([]VolunteerItem, 0, len(vols))
	for _, v := range vols {
		out = append(out, VolunteerItem{UserID: v.UserID, NodeID: v.NodeID})
	}
	WriteJSON(w, http.StatusOK, out)
}

// Inbox handles GET /api/inbox.
//
//	@Summary		Conversations addressed to a user
//	@Tags			messages
//	@Produce		json
//	@Param			userId	query	string	true	"User id"
//	@Success		200		{array}	node.InboxEntry
//	@Router			/inbox [get]
func (h *Handler) Inbox(w http.ResponseWriter, r *http.Request) {
	user := r.URL.Query().Get("userId")
	if user == "" {
		WriteJSON(w, http.StatusBadRequest, ErrorBody("query parameter 'userId' is required"))
		return
	}
	entries, err := h.svc.Inbox(r.Context(), user)
	if err != nil {
		h.fail(w, "inbox", err)
		return
	}
	WriteJSON(w, http.StatusOK, entries)
}

// Thread handles GET /api/thread.
//
//	@Summary		Messages between two users, oldest first
//	@Description	Viewing a thread clears its unread count.
//	@Tags			messages
//	@Produce		json
//	@Param			userId	query	string	true	"User id"
//	@Param			partner	query	string	true	"Partner user id"
//	@Success		200		{array}	node.ChatEntry
//	@Router			/thread [get]
func (h *Handler) Thread(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	user, partner := q.Get("userId"), q.Get("partner")
	if user == "" || partner == "" {
		WriteJSON(w, http.StatusBadRequest, ErrorBody("query parameters 'userId' and 'partner' are required"))
		return
	}
	entries, err := h.svc.Thread(r.Context(), user, partner)
	if err != nil {
		h.fail(w, "thread", err)
		return
	}
	WriteJSON(w, http.StatusOK, entries)
}

// SendMessage handles POST /api/messages.
//
//	@Summary		Send a message to another user
//	@Tags			messages
//	@Accept			json
//	@Produce		json
//	@Param			body	body		SendMessageRequest	true	"Message"
//	@Success		200		{object}	node.ChatEntry
//	@Failure		400		{object}	ErrResponse
//	@Router			/messages [post]
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	var req SendMessageRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		WriteJSON(w, http.StatusBadRequest, ErrorBody("invalid JSON body"))
		return
	}
	if err := req.Validate(); err != nil {
		WriteJSON(w, http.StatusBadRequest, ErrorBody(err.Error()))
		return
	}
	entry, err := h.svc.SendMessage(r.Context(), req.From, req.To, req.Text)
	if err != nil {
		h.fail(w, "send message", err)
		return
	}
	WriteJSON(w, http.StatusOK, entry)
}

// NewSession handles POST /api/session.
//
//	@Summary		Allocate a user id on this node
//	@Tags			users
//	@Produce		json
//	@Success		200	{object}	SessionResponse
//	@Router			/session [post]
func (h *Handler) NewSession(w http.ResponseWriter, r *http.Request) {
	id, err := h.svc.NewSession(r.Context())
	if err != nil {
		h.fail(w, "session", err)
		return
	}
	WriteJSON(w, http.StatusOK, SessionResponse{UserID: id})
}

// Notices handles GET /api/notices.
func (h *Handler) Notices(w http.ResponseWriter, r *http.Request) {
	notices, err := h.svc.Notices(r.Context())
	if err != nil {
		h.fail(w, "notices", err)
		return
	}
	WriteJSON(w, http.StatusOK, notices)
}

// Status handles GET /api/status.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.Status(r.Context())
	if err != nil {
		h.fail(w, "status", err)
		return
	}
	WriteJSON(w, http.StatusOK, st)
}
