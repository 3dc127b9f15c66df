package handlers

import (
	"net/http"

	"eventure-checkout/internal/auth"
	"eventure-checkout/internal/checkin"
	"eventure-checkout/internal/models"
)

// CheckInHandler drives the door scanner
type CheckInHandler struct {
	machine *checkin.Machine
}

// NewCheckInHandler creates a new check-in handler
func NewCheckInHandler(machine *checkin.Machine) *CheckInHandler {
	return &CheckInHandler{machine: machine}
}

// CheckInView is the scanner screen
type CheckInView struct {
	State   checkin.State       `json:"state"`
	Current *models.ScanResult  `json:"current,omitempty"`
	Recent  []models.ScanResult `json:"recent"`
	Stats   checkin.Stats       `json:"stats"`
}

func (h *CheckInHandler) view() CheckInView {
	view := CheckInView{
		State:  h.machine.State(),
		Recent: h.machine.Recent(),
		Stats:  h.machine.Stats(),
	}
	if current, ok := h.machine.Current(); ok {
		view.Current = &current
	}
	return view
}

// GetState returns the scanner state, the result on display and recent scans
func (h *CheckInHandler) GetState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.view())
}

// ScanRequest is a scanned or typed ticket code
type ScanRequest struct {
	Code string `json:"code"`
}

// Scan validates a code with the signed-in organizer's token, so the backend
// decides whether this caller may check tickets in. A scan arriving while
// another is processing is answered 409 and dropped.
func (h *CheckInHandler) Scan(w http.ResponseWriter, r *http.Request) {
	id := auth.FromContext(r.Context())
	if id == nil || id.Token == "" {
		writeError(w, r, auth.ErrMissingToken)
		return
	}

	var req ScanRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	result, err := h.machine.Submit(r.Context(), req.Code, id.Token)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Reset returns the scanner to idle
func (h *CheckInHandler) Reset(w http.ResponseWriter, r *http.Request) {
	h.machine.Reset()
	writeJSON(w, http.StatusOK, h.view())
}
