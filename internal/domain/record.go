package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// FlexID is a primary key the backend may encode as a JSON number or string.
type FlexID string

func (f *FlexID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = FlexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("primary key must be a string or number: %w", err)
	}
	*f = FlexID(n.String())
	return nil
}

// Booking is a studio booking as returned by the backend.
type Booking struct {
	BookingID   FlexID `json:"bookingID"`
	Status      string `json:"status"`
	Date        string `json:"date"`
	Category    string `json:"category"`
	PackageType string `json:"Package_type"`
}

// Application is a student-ID application as returned by the backend.
type Application struct {
	ID          FlexID `json:"id"`
	Status      string `json:"status"`
	Grade       string `json:"grade"`
	Section     string `json:"section"`
	SubmittedAt string `json:"submitted_at"`
	CreatedAt   string `json:"created_at"`
}
