package domain

import (
	"fmt"
	"strings"
	"time"
)

// Kind tags which record source a notification was derived from.
type Kind string

const (
	KindBooking Kind = "booking"
	KindStudent Kind = "student"
)

func (k Kind) Valid() bool {
	return k == KindBooking || k == KindStudent
}

// order gives kinds a fixed position for tie-breaking in sorted feeds.
func (k Kind) order() int {
	if k == KindBooking {
		return 0
	}
	return 1
}

// NotificationID identifies a notification by its source kind and the
// source record's primary key. Serialized as "<kind>-<primaryKey>".
type NotificationID struct {
	Kind       Kind
	PrimaryKey string
}

func NewNotificationID(kind Kind, primaryKey string) NotificationID {
	return NotificationID{Kind: kind, PrimaryKey: primaryKey}
}

func (id NotificationID) String() string {
	return string(id.Kind) + "-" + id.PrimaryKey
}

// ParseNotificationID splits s at the first '-'. Primary keys may themselves
// contain dashes (ULIDs, UUIDs); the kind may not.
func ParseNotificationID(s string) (NotificationID, error) {
	kind, pk, ok := strings.Cut(s, "-")
	if !ok || pk == "" || !Kind(kind).Valid() {
		return NotificationID{}, fmt.Errorf("%q: %w", s, ErrInvalidID)
	}
	return NotificationID{Kind: Kind(kind), PrimaryKey: pk}, nil
}

// Notification is the presentation-ready view over a booking or a
// student-ID application.
type Notification struct {
	ID      string `json:"id"`
	Kind    Kind   `json:"type"`
	Status  string `json:"status"`
	Message string `json:"message"`
	Detail  string `json:"detail"`
	Date    string `json:"date"`
	IsRead  bool   `json:"is_read"`

	key NotificationID
	at  time.Time // zero when Date is missing or unparseable
}

// NotificationID returns the parsed form of n.ID.
func (n Notification) NotificationID() NotificationID { return n.key }

// Timestamp returns the parsed date; zero means unknown.
func (n Notification) Timestamp() time.Time { return n.at }

// Newer reports whether a sorts before b in a feed: most recent first,
// unknown dates last, ties broken by kind then primary key.
func Newer(a, b Notification) bool {
	if !a.at.Equal(b.at) {
		return a.at.After(b.at)
	}
	if a.key.Kind != b.key.Kind {
		return a.key.Kind.order() < b.key.Kind.order()
	}
	return a.key.PrimaryKey < b.key.PrimaryKey
}

// DefaultStatus is assumed when the backend omits a record's status.
const DefaultStatus = "Pending"

const detailDateLayout = "Jan 2, 2006"

// FromBooking derives the notification for a booking record. IsRead is left
// false; read state is decided by the reconciler.
func FromBooking(b Booking) Notification {
	key := NewNotificationID(KindBooking, string(b.BookingID))
	status := statusOrDefault(b.Status)
	at := ParseRecordTime(b.Date)
	return Notification{
		ID:      key.String(),
		Kind:    KindBooking,
		Status:  status,
		Message: fmt.Sprintf("Your %s booking is %s", b.Category, status),
		Detail:  fmt.Sprintf("%s on %s", b.PackageType, formatDay(at)),
		Date:    b.Date,
		key:     key,
		at:      at,
	}
}

// FromApplication derives the notification for a student-ID application.
func FromApplication(a Application) Notification {
	key := NewNotificationID(KindStudent, string(a.ID))
	status := statusOrDefault(a.Status)
	date := a.SubmittedAt
	if date == "" {
		date = a.CreatedAt
	}
	return Notification{
		ID:      key.String(),
		Kind:    KindStudent,
		Status:  status,
		Message: fmt.Sprintf("Your Student ID application is %s", status),
		Detail:  fmt.Sprintf("%s - %s", a.Grade, a.Section),
		Date:    date,
		key:     key,
		at:      ParseRecordTime(date),
	}
}

func statusOrDefault(s string) string {
	if s == "" {
		return DefaultStatus
	}
	return s
}

func formatDay(t time.Time) string {
	if t.IsZero() {
		return "N/A"
	}
	return t.Format(detailDateLayout)
}

var recordTimeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseRecordTime parses the date formats the backend is known to emit.
// It returns the zero time for empty or unrecognised input.
func ParseRecordTime(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range recordTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
