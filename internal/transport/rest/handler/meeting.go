package handler

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"carelink/internal/model"
	"carelink/internal/service"
	"carelink/internal/transport/rest/middleware"
)

// MeetingHandler handles video-room and meeting-registry endpoints.
type MeetingHandler struct {
	meetingSvc *service.MeetingService
}

// NewMeetingHandler creates a new meeting handler.
func NewMeetingHandler(meetingSvc *service.MeetingService) *MeetingHandler {
	return &MeetingHandler{meetingSvc: meetingSvc}
}

// CreateRoomRequest is the request body for creating a call room.
type CreateRoomRequest struct {
	InviteeID  string `json:"inviteeId"`
	HospitalID string `json:"hospitalId,omitempty"`
}

// Create handles POST /v1/video-rooms/create
func (h *MeetingHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CreateRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	hospitals := middleware.GetHospitalIDs(ctx)
	if req.HospitalID != "" {
		hospitals = []string{req.HospitalID}
	}

	m, err := h.meetingSvc.CreateRoom(ctx, service.CreateRoomInput{
		CreatorID:   middleware.GetUserID(ctx),
		CreatorRole: middleware.GetRole(ctx),
		InviteeID:   req.InviteeID,
		HospitalIDs: hospitals,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

// Join handles GET /v1/video-rooms/join/{id}
func (h *MeetingHandler) Join(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	roomID := mux.Vars(r)["id"]

	resp, err := h.meetingSvc.Join(r.Context(), userID, roomID)
	if err != nil {
		writeMeetingError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// End handles POST /v1/video-rooms/{id}/end
func (h *MeetingHandler) End(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	roomID := mux.Vars(r)["id"]

	m, err := h.meetingSvc.End(r.Context(), userID, roomID)
	if err != nil {
		writeMeetingError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// Leave handles POST /v1/video-rooms/{id}/leave
func (h *MeetingHandler) Leave(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	roomID := mux.Vars(r)["id"]

	if err := h.meetingSvc.Leave(r.Context(), userID, roomID); err != nil {
		writeMeetingError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "left"})
}

// ValidateCode handles GET /v1/video-rooms/validate-code/{code}
func (h *MeetingHandler) ValidateCode(w http.ResponseWriter, r *http.Request) {
	code := mux.Vars(r)["code"]

	m, err := h.meetingSvc.ValidateCode(r.Context(), code)
	if err == service.ErrInvalidCode || err == service.ErrMeetingEnded {
		writeJSON(w, http.StatusOK, map[string]interface{}{"valid": false})
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"valid":  true,
		"roomId": m.ID,
		"status": m.Status,
	})
}

// JoinByCodeRequest is the request body for joining by share code.
type JoinByCodeRequest struct {
	Code string `json:"code"`
}

// JoinByCode handles POST /v1/video-rooms/join-by-code
func (h *MeetingHandler) JoinByCode(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	var req JoinByCodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Code == "" {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	resp, err := h.meetingSvc.JoinByCode(r.Context(), userID, req.Code)
	if err != nil {
		writeMeetingError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// List handles GET /v1/doctor-meetings
func (h *MeetingHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	status := model.MeetingStatus(r.URL.Query().Get("status"))

	meetings, err := h.meetingSvc.Meetings(ctx, middleware.GetHospitalIDs(ctx), status)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if meetings == nil {
		meetings = []model.Meeting{}
	}
	writeJSON(w, http.StatusOK, meetings)
}

func writeMeetingError(w http.ResponseWriter, err error) {
	switch err {
	case service.ErrMeetingNotFound:
		writeError(w, http.StatusNotFound, err.Error())
	case service.ErrInvalidCode:
		writeError(w, http.StatusNotFound, err.Error())
	case service.ErrMeetingEnded:
		writeError(w, http.StatusConflict, err.Error())
	case service.ErrNotAuthorized:
		writeError(w, http.StatusForbidden, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
