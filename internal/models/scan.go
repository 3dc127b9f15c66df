package models

import (
	"strings"
	"time"
)

// ScanStatus is the terminal classification of a check-in attempt
type ScanStatus string

const (
	ScanSuccess        ScanStatus = "success"
	ScanAlreadyScanned ScanStatus = "already_scanned"
	ScanError          ScanStatus = "error"
)

// AlreadyUsedStatus is the structured status the validation endpoint sends
// for a ticket that was checked in before
const AlreadyUsedStatus = "already_used"

const alreadyUsedMarker = "already used"

// ValidationResponse is the body of POST /tickets/validate
type ValidationResponse struct {
	Valid        bool   `json:"valid"`
	Message      string `json:"message,omitempty"`
	Status       string `json:"status,omitempty"`
	TicketID     string `json:"ticket_id,omitempty"`
	TicketType   string `json:"ticket_type,omitempty"`
	AttendeeName string `json:"attendee_name,omitempty"`
	UsedAt       string `json:"used_at,omitempty"`
}

// Classify maps a validation response to a scan status. A structured status
// takes precedence; the message is only consulted when the backend sent none.
func (r *ValidationResponse) Classify() ScanStatus {
	if r.Valid {
		return ScanSuccess
	}
	if r.Status != "" {
		if r.Status == AlreadyUsedStatus {
			return ScanAlreadyScanned
		}
		return ScanError
	}
	if strings.Contains(strings.ToLower(r.Message), alreadyUsedMarker) {
		return ScanAlreadyScanned
	}
	return ScanError
}

// ScanResult records one classified check-in attempt
type ScanResult struct {
	Code         string     `json:"code"`
	Status       ScanStatus `json:"status"`
	AttendeeName string     `json:"attendee_name"`
	TicketType   string     `json:"ticket_type,omitempty"`
	TicketID     string     `json:"ticket_id,omitempty"`
	EventTitle   string     `json:"event_title,omitempty"`
	Message      string     `json:"message,omitempty"`
	ScannedAt    time.Time  `json:"scanned_at"`
}
