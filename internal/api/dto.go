package api

import (
	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/reliefnet/internal/frame"
)

// Field limits derived from the frame layout.
const (
	maxUserID  = frame.UserSize - 1
	maxService = 32
)

// RegisterRequest is the body of POST /api/register.
type RegisterRequest struct {
	UserID  string `json:"userId" example:"D1-4F2A9C" validate:"required"`
	Role    string `json:"role" example:"offer" validate:"required"`
	Service string `json:"service" example:"FOOD" validate:"required"`
}

// Validate implements validation.Validatable.
func (r RegisterRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.UserID, validation.Required, validation.Length(1, maxUserID)),
		validation.Field(&r.Role, validation.Required, validation.In(frame.RoleOffer, frame.RoleRequest)),
		validation.Field(&r.Service, validation.Required, validation.Length(1, maxService)),
	)
}

// VolunteerRequest is the body of POST /api/volunteers/request.
type VolunteerRequest struct {
	Service string `json:"service" example:"FOOD" validate:"required"`
}

// Validate implements validation.Validatable.
func (r VolunteerRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Service, validation.Required, validation.Length(1, maxService)),
	)
}

// SendMessageRequest is the body of POST /api/messages.
type SendMessageRequest struct {
	From string `json:"from" example:"D2-XYZ" validate:"required"`
	To   string `json:"to" example:"D1-AAA" validate:"required"`
	Text string `json:"text" example:"need rice" validate:"required"`
}

// Validate implements validation.Validatable.
func (r SendMessageRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.From, validation.Required, validation.Length(1, maxUserID)),
		validation.Field(&r.To, validation.Required, validation.Length(1, maxUserID)),
		validation.Field(&r.Text, validation.Required, validation.Length(1, frame.MaxPayload)),
	)
}

// ServicesResponse is returned by GET /api/services.
type ServicesResponse struct {
	UserID     string `json:"userId"`
	Offering   string `json:"offering,omitempty"`
	Requesting string `json:"requesting,omitempty"`
}

// VolunteerItem is one entry of GET /api/volunteers.
type VolunteerItem struct {
	UserID string `json:"userId" example:"D1-AAA"`
	NodeID string `json:"nodeId" example:"D1"`
}

// SessionResponse is returned by POST /api/session.
type SessionResponse struct {
	UserID string `json:"userId" example:"D1-4F2A9C"`
}

// AckResponse acknowledges a fire-and-forget operation.
type AckResponse struct {
	Status string `json:"status" example:"ok"`
}

// HubStatsResponse is returned by GET /api/stats on the hub.
type HubStatsResponse struct {
	DroppedFrames uint64 `json:"droppedFrames"`
}
