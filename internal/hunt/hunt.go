package hunt

import (
	"fmt"
	"strings"
	"time"
)

// Status follows the persisted numeric codes: requests start Active, end up
// Reserved after a successful booking or Error after a policy violation.
type Status int

const (
	StatusActive   Status = 1
	StatusReserved Status = 2
	StatusError    Status = 99
)

func (s Status) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusReserved:
		return "reserved"
	case StatusError:
		return "error"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

const DefaultLookupDays = 14

// Query is the search filter of one hunt request. Empty allow-lists mean "any".
type Query struct {
	CityID             int    `json:"city_id"`
	ServiceID          int    `json:"service_id"`
	FacilityIDs        []int  `json:"facilities_ids"`
	DoctorIDs          []int  `json:"doctor_ids"`
	DoctorBlacklistIDs []int  `json:"doctor_blacklist_ids"`
	StartDate          string `json:"start_date,omitempty"` // YYYY-MM-DD, empty = today
	AfterHour          string `json:"after_hour,omitempty"` // HH:MM
	BeforeHour         string `json:"before_hour,omitempty"`
	LookupDays         int    `json:"lookup_time_days"`
}

// Window resolves the search date range: explicit start date or today,
// extended by the lookup length (default 14 days).
func (q Query) Window(now time.Time) (from, to time.Time, err error) {
	from = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	if q.StartDate != "" {
		from, err = time.ParseInLocation("2006-01-02", q.StartDate, now.Location())
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid start_date %q: %w", q.StartDate, err)
		}
	}
	days := q.LookupDays
	if days <= 0 {
		days = DefaultLookupDays
	}
	return from, from.AddDate(0, 0, days), nil
}

// Hours parses the optional time-of-day bounds. A zero time means no bound.
func (q Query) Hours() (after, before time.Time, err error) {
	if q.AfterHour != "" {
		after, err = time.Parse("15:04", q.AfterHour)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid after_hour %q: %w", q.AfterHour, err)
		}
	}
	if q.BeforeHour != "" {
		before, err = time.Parse("15:04", q.BeforeHour)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid before_hour %q: %w", q.BeforeHour, err)
		}
	}
	return after, before, nil
}

// Term is the snapshot of the slot a request was reserved with. Set exactly
// once, on the transition to Reserved.
type Term struct {
	ClinicID      int       `json:"clinicId"`
	Clinic        string    `json:"clinic,omitempty"`
	ClinicGroupID int       `json:"clinicGroupId"`
	RoomID        int       `json:"roomId"`
	ScheduleID    int       `json:"scheduleId"`
	ServiceID     int       `json:"serviceId"`
	DoctorID      int       `json:"doctorId"`
	DoctorName    string    `json:"doctorName"`
	Start         time.Time `json:"dateTimeFrom"`
	End           time.Time `json:"dateTimeTo"`
	Rescheduled   bool      `json:"rescheduled,omitempty"`
}

// Request is one standing instruction to find and book an appointment.
type Request struct {
	ID                string
	AccountEmail      string
	Status            Status
	Query             Query
	Comment           string
	NextCheckAt       int64 // epoch seconds; 0 = immediately due
	CheckFrequencySec int
	AllowRescheduling bool
	Term              *Term

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Due reports whether the request should be checked now. Reserved requests
// are never due, regardless of NextCheckAt.
func (r Request) Due(now time.Time) bool {
	return r.Status != StatusReserved && r.NextCheckAt <= now.Unix()
}

func (r Request) Validate() error {
	if strings.TrimSpace(r.AccountEmail) == "" {
		return fmt.Errorf("account_email required")
	}
	if r.Query.CityID < 1 {
		return fmt.Errorf("city_id required")
	}
	if r.Query.ServiceID < 1 {
		return fmt.Errorf("service_id required")
	}
	if r.CheckFrequencySec < 1 {
		return fmt.Errorf("check_frequency must be >= 1")
	}
	if _, _, err := r.Query.Window(time.Now()); err != nil {
		return err
	}
	if _, _, err := r.Query.Hours(); err != nil {
		return err
	}
	return nil
}

// Credentials is one portal account. The password is kept as supplied: the
// portal login needs it back in clear, so it cannot be hashed at rest.
type Credentials struct {
	Email    string
	Password string
}
