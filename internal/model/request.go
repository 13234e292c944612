// Package model defines the domain types shared across the triage pipeline.
package model

import "time"

// RequestStatus tracks the lifecycle of a service request.
type RequestStatus string

const (
	StatusOpen       RequestStatus = "open"
	StatusInProgress RequestStatus = "in_progress"
	StatusClosed     RequestStatus = "closed"
)

// MaxMediaRefs caps the number of photos attached to a submission.
const MaxMediaRefs = 3

// MediaRef is a photo attached to a request. Data travels base64-encoded in
// submission JSON, is stored raw, and the classifier re-encodes it for the
// model call.
type MediaRef struct {
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	Data        []byte `json:"data,omitempty"`
}

// Draft is an inbound submission before (or immediately after) persistence.
// Latitude/Longitude are nil when the resident gave only a street address.
type Draft struct {
	Description string     `json:"description"`
	Category    string     `json:"category"`
	Address     string     `json:"address"`
	Latitude    *float64   `json:"latitude,omitempty"`
	Longitude   *float64   `json:"longitude,omitempty"`
	Media       []MediaRef `json:"media,omitempty"`
}

// HasCoordinates reports whether the draft carries a usable point.
func (d *Draft) HasCoordinates() bool {
	return d.Latitude != nil && d.Longitude != nil
}

// ServiceRequest is a persisted resident report.
type ServiceRequest struct {
	ID             string        `json:"id"`
	Description    string        `json:"description"`
	Category       string        `json:"category"`
	Address        string        `json:"address"`
	Latitude       *float64      `json:"latitude,omitempty"`
	Longitude      *float64      `json:"longitude,omitempty"`
	Status         RequestStatus `json:"status"`
	Substatus      string        `json:"substatus,omitempty"`
	CompletionNote string        `json:"completion_note,omitempty"`
	Priority       int           `json:"priority"`
	Flagged        bool          `json:"flagged"`
	FlagReason     string        `json:"flag_reason,omitempty"`
	Analysis       *TriageResult `json:"analysis,omitempty"`
	Media          []MediaRef    `json:"media,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// Open reports whether the request is still being worked.
func (r *ServiceRequest) Open() bool {
	return r.Status == StatusOpen || r.Status == StatusInProgress
}
