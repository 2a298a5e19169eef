package hunter

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/luxmed-hunter/internal/hunt"
	"github.com/example/luxmed-hunter/internal/luxmed"
)

// Session is the slice of the portal client one hunt cycle needs. Token
// refresh is the client's business; the engine never checks expiry.
type Session interface {
	Terms(ctx context.Context, q luxmed.TermsQuery) ([]luxmed.Slot, error)
	LockTerm(ctx context.Context, s luxmed.Slot) (luxmed.Lock, error)
	Confirm(ctx context.Context, s luxmed.Slot, lock luxmed.Lock) (luxmed.Reservation, error)
	Reschedule(ctx context.Context, s luxmed.Slot, lock luxmed.Lock) (luxmed.Reservation, error)
}

// Outcome is the result of one hunt cycle. Changed reports whether the
// request must be persisted; Notification is non-nil after a reservation.
type Outcome struct {
	Request      hunt.Request
	Changed      bool
	Notification *Notification
}

type Notification struct {
	Subject string
	Body    string
}

// Engine drives the check/lock/reserve cycle for a single request.
type Engine struct {
	Log *slog.Logger
	Now func() time.Time
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// Hunt runs one cycle for r against the session. An error means the cycle
// failed transiently: r is returned unchanged so the natural schedule is
// kept (a lost lock race must not push the next check out).
func (e *Engine) Hunt(ctx context.Context, sess Session, r hunt.Request) (Outcome, error) {
	now := e.now()
	from, to, err := r.Query.Window(now)
	if err != nil {
		return Outcome{}, err
	}
	after, before, err := r.Query.Hours()
	if err != nil {
		return Outcome{}, err
	}

	slots, err := sess.Terms(ctx, luxmed.TermsQuery{
		CityID:      r.Query.CityID,
		ServiceID:   r.Query.ServiceID,
		FacilityIDs: r.Query.FacilityIDs,
		DoctorIDs:   r.Query.DoctorIDs,
		From:        from,
		To:          to,
		LookupDays:  lookupDays(r.Query),
	})
	if err != nil {
		return Outcome{}, err
	}

	// The portal filtered server-side; re-apply the full filter anyway.
	var qualifying []luxmed.Slot
	for _, s := range slots {
		if matches(s, r.Query, from, to, after, before) {
			qualifying = append(qualifying, s)
		}
	}

	if len(qualifying) == 0 {
		r.NextCheckAt = now.Add(time.Duration(r.CheckFrequencySec) * time.Second).Unix()
		e.Log.Info("no terms found", "request", r.ID, "comment", r.Comment,
			"next_check", time.Unix(r.NextCheckAt, 0))
		return Outcome{Request: r, Changed: true}, nil
	}

	chosen := earliest(qualifying)
	lock, err := sess.LockTerm(ctx, chosen)
	if err != nil {
		return Outcome{}, fmt.Errorf("lock term: %w", err)
	}

	switch decide(lock, r.AllowRescheduling) {
	case actionRefuse:
		e.Log.Error("request has an existing visit and rescheduling is not allowed, marking as error",
			"request", r.ID, "comment", r.Comment, "related_visits", len(lock.RelatedVisits))
		r.Status = hunt.StatusError
		r.NextCheckAt = 0
		return Outcome{Request: r, Changed: true}, nil

	case actionReschedule:
		if _, err := sess.Reschedule(ctx, chosen, lock); err != nil {
			return Outcome{}, fmt.Errorf("reschedule reservation: %w", err)
		}
		return e.reserved(r, chosen, true), nil

	default:
		if _, err := sess.Confirm(ctx, chosen, lock); err != nil {
			return Outcome{}, fmt.Errorf("confirm reservation: %w", err)
		}
		return e.reserved(r, chosen, false), nil
	}
}

func (e *Engine) reserved(r hunt.Request, s luxmed.Slot, rescheduled bool) Outcome {
	term := snapshot(s)
	term.Rescheduled = rescheduled
	r.Status = hunt.StatusReserved
	r.NextCheckAt = 0
	r.Term = &term

	e.Log.Info("reserved appointment term", "request", r.ID, "comment", r.Comment,
		"start", s.Start, "clinic", s.Clinic, "doctor", s.Doctor.Name(), "rescheduled", rescheduled)

	return Outcome{
		Request: r,
		Changed: true,
		Notification: &Notification{
			Subject: "Appointment Reserved",
			Body: fmt.Sprintf("Reserved appointment:\n\nWhen:   %s\nWhere:  %s\nDoctor: %s\n",
				s.Start.Format("2006-01-02 15:04"), s.Clinic, s.Doctor.Name()),
		},
	}
}

type action int

const (
	actionConfirm action = iota
	actionReschedule
	actionRefuse
)

// decide maps the lock outcome to the booking action: an overlapping visit
// either gets moved or, when rescheduling is disallowed, stops the hunt.
func decide(lock luxmed.Lock, allowRescheduling bool) action {
	if len(lock.RelatedVisits) == 0 {
		return actionConfirm
	}
	if allowRescheduling {
		return actionReschedule
	}
	return actionRefuse
}

// matches applies the request's full slot filter.
func matches(s luxmed.Slot, q hunt.Query, from, to, after, before time.Time) bool {
	if len(q.DoctorIDs) > 0 && !contains(q.DoctorIDs, s.Doctor.ID) {
		return false
	}
	if contains(q.DoctorBlacklistIDs, s.Doctor.ID) {
		return false
	}
	if len(q.FacilityIDs) > 0 && !contains(q.FacilityIDs, s.ClinicGroupID) {
		return false
	}
	if s.Start.Before(from) || s.Start.After(to) {
		return false
	}
	if !after.IsZero() && minuteOfDay(s.Start) < minuteOfDay(after) {
		return false
	}
	if !before.IsZero() && minuteOfDay(s.Start) > minuteOfDay(before) {
		return false
	}
	return true
}

// earliest picks the slot with the smallest start time; ties keep input order.
func earliest(slots []luxmed.Slot) luxmed.Slot {
	best := slots[0]
	for _, s := range slots[1:] {
		if s.Start.Before(best.Start) {
			best = s
		}
	}
	return best
}

func snapshot(s luxmed.Slot) hunt.Term {
	return hunt.Term{
		ClinicID:      s.ClinicID,
		Clinic:        s.Clinic,
		ClinicGroupID: s.ClinicGroupID,
		RoomID:        s.RoomID,
		ScheduleID:    s.ScheduleID,
		ServiceID:     s.ServiceID,
		DoctorID:      s.Doctor.ID,
		DoctorName:    s.Doctor.Name(),
		Start:         s.Start,
		End:           s.End,
	}
}

func lookupDays(q hunt.Query) int {
	if q.LookupDays > 0 {
		return q.LookupDays
	}
	return hunt.DefaultLookupDays
}

func minuteOfDay(t time.Time) int {
	return t.Hour()*60 + t.Minute()
}

func contains(ids []int, id int) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
