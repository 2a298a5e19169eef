package luxmed

import (
	"encoding/json"
	"strings"
	"time"
)

type Doctor struct {
	ID            int    `json:"id"`
	AcademicTitle string `json:"academicTitle"`
	FirstName     string `json:"firstName"`
	LastName      string `json:"lastName"`
}

// Name renders the display form used in notifications, e.g. "dr Jan Kowalski".
func (d Doctor) Name() string {
	parts := make([]string, 0, 3)
	for _, p := range []string{d.AcademicTitle, d.FirstName, d.LastName} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, " ")
}

// Slot is one bookable appointment returned by the term search. Transient:
// it lives for a single hunt cycle, except as the term snapshot on success.
type Slot struct {
	ClinicID      int
	Clinic        string
	ClinicGroupID int
	RoomID        int
	ScheduleID    int
	ServiceID     int
	Doctor        Doctor
	Start         time.Time
	End           time.Time
	CorrelationID string
}

// RelatedVisit is an existing booking on the account that the portal reports
// as overlapping the locked term.
type RelatedVisit struct {
	ReservationID int64  `json:"reservationId"`
	Date          string `json:"date,omitempty"`
	ServiceName   string `json:"serviceVariantName,omitempty"`
}

// Lock is a short-lived hold on a slot. Valuations are passed back to the
// confirm/change endpoints verbatim; their shape is the portal's business.
type Lock struct {
	TemporaryReservationID int64             `json:"temporaryReservationId"`
	Valuations             []json.RawMessage `json:"valuations"`
	RelatedVisits          []RelatedVisit    `json:"relatedVisits"`
}

// Reservation is the confirm/change response, kept opaque beyond the id.
type Reservation struct {
	ID  int64
	Raw json.RawMessage
}

// TermsQuery is the resolved server-side search filter. Allow-lists are passed
// through to the portal; the caller re-applies them on the result anyway.
type TermsQuery struct {
	CityID      int
	ServiceID   int
	FacilityIDs []int
	DoctorIDs   []int
	From        time.Time
	To          time.Time
	LookupDays  int
}

// RecentSearch is one entry of the account's manual search history. The
// upstream payload shape is not stable; fields are parsed best-effort.
type RecentSearch struct {
	Name        string `json:"searchName"`
	CityID      int    `json:"cityId"`
	ServiceID   int    `json:"serviceVariantId"`
	FacilityIDs []int  `json:"facilitiesIds"`
	DoctorIDs   []int  `json:"doctorsIds"`
	DateFrom    string `json:"searchDateFrom"`
	DatePreset  int    `json:"searchDatePreset"`
}
