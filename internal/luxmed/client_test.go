package luxmed

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mintToken builds an unsigned JWT carrying only an exp claim; the client
// never verifies signatures, it just reads the lifetime.
func mintToken(exp time.Time) string {
	enc := func(v any) string {
		b, _ := json.Marshal(v)
		return base64.RawURLEncoding.EncodeToString(b)
	}
	header := enc(map[string]string{"alg": "HS256", "typ": "JWT"})
	claims := enc(map[string]int64{"exp": exp.Unix()})
	return header + "." + claims + ".sig"
}

type portalFake struct {
	mux        *http.ServeMux
	loginCount int
	tokenExp   time.Time
}

func newPortalFake(tokenExp time.Time) *portalFake {
	p := &portalFake{mux: http.NewServeMux(), tokenExp: tokenExp}
	p.mux.HandleFunc("/Account/LogIn", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Login    string `json:"login"`
			Password string `json:"password"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Password != "good" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		p.loginCount++
		fmt.Fprintf(w, `{"token":%q}`, mintToken(p.tokenExp))
	})
	p.mux.HandleFunc("/NewPortal/security/getforgerytoken", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"token":"xsrf-token"}`)
	})
	return p
}

func (p *portalFake) client(t *testing.T, password string) *Client {
	t.Helper()
	srv := httptest.NewServer(p.mux)
	t.Cleanup(srv.Close)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New("user@example.com", password, log, WithBaseURL(srv.URL))
}

func TestLogin(t *testing.T) {
	p := newPortalFake(time.Now().Add(time.Hour))
	c := p.client(t, "good")

	require.NoError(t, c.Login(context.Background()))
	assert.True(t, c.Valid())
	assert.Equal(t, 1, p.loginCount)
}

func TestLoginRejected(t *testing.T) {
	p := newPortalFake(time.Now().Add(time.Hour))
	c := p.client(t, "wrong")

	err := c.Login(context.Background())
	require.Error(t, err)
	var authErr *AuthError
	assert.ErrorAs(t, err, &authErr)
	assert.False(t, c.Valid())
}

const termsPayload = `{
	"correlationId": "corr-1",
	"termsForService": {
		"termsForDays": [
			{"day": "2026-09-01", "terms": [
				{"clinicId": 10, "clinic": "LX One", "clinicGroupId": 5, "roomId": 2,
				 "scheduleId": 77, "serviceId": 9242,
				 "dateTimeFrom": "2026-09-01T10:30:00", "dateTimeTo": "2026-09-01T10:50:00",
				 "doctor": {"id": 3, "academicTitle": "dr", "firstName": "Jan", "lastName": "Kowalski"}}
			]},
			{"day": "2026-09-02", "terms": [
				{"clinicId": 11, "clinic": "LX Two", "clinicGroupId": 6, "roomId": 1,
				 "scheduleId": 78, "serviceId": 9242,
				 "dateTimeFrom": "2026-09-02T09:00:00", "dateTimeTo": "2026-09-02T09:20:00",
				 "doctor": {"id": 4, "firstName": "Anna", "lastName": "Nowak"}}
			]}
		]
	}
}`

func TestTerms(t *testing.T) {
	p := newPortalFake(time.Now().Add(time.Hour))
	var gotQuery map[string]string
	p.mux.HandleFunc("/NewPortal/terms/index", func(w http.ResponseWriter, r *http.Request) {
		gotQuery = map[string]string{}
		for k := range r.URL.Query() {
			gotQuery[k] = r.URL.Query().Get(k)
		}
		assert.Contains(t, r.Header.Get("Authorization-Token"), "Bearer ")
		assert.Equal(t, "xsrf-token", r.Header.Get("XSRF-TOKEN"))
		io.WriteString(w, termsPayload)
	})
	c := p.client(t, "good")

	from := time.Date(2026, 9, 1, 0, 0, 0, 0, time.Local)
	slots, err := c.Terms(context.Background(), TermsQuery{
		CityID:      8,
		ServiceID:   9242,
		FacilityIDs: []int{5, 6},
		From:        from,
		To:          from.AddDate(0, 0, 14),
		LookupDays:  14,
	})
	require.NoError(t, err)

	require.Len(t, slots, 2)
	assert.Equal(t, "corr-1", slots[0].CorrelationID)
	assert.Equal(t, "dr Jan Kowalski", slots[0].Doctor.Name())
	assert.Equal(t, 10, slots[0].ClinicID)
	assert.Equal(t, time.Date(2026, 9, 1, 10, 30, 0, 0, time.Local), slots[0].Start)
	assert.Equal(t, "Anna Nowak", slots[1].Doctor.Name())

	assert.Equal(t, "8", gotQuery["searchPlace.id"])
	assert.Equal(t, "9242", gotQuery["serviceVariantId"])
	assert.Equal(t, "5,6", gotQuery["facilitiesIds"])
	assert.Equal(t, "2026-09-01", gotQuery["searchDateFrom"])
	assert.Equal(t, "2026-09-15", gotQuery["searchDateTo"])
}

func TestTermsErrorsArray(t *testing.T) {
	p := newPortalFake(time.Now().Add(time.Hour))
	p.mux.HandleFunc("/NewPortal/terms/index", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"errors":[{"message":"service unavailable"}]}`)
	})
	c := p.client(t, "good")

	_, err := c.Terms(context.Background(), TermsQuery{CityID: 8, ServiceID: 9242})
	require.Error(t, err)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Contains(t, apiErr.Messages, "service unavailable")
}

func TestLockTermPayload(t *testing.T) {
	p := newPortalFake(time.Now().Add(time.Hour))
	var got map[string]any
	p.mux.HandleFunc("/NewPortal/reservation/lockterm", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		io.WriteString(w, `{"value":{"temporaryReservationId":42,
			"valuations":[{"price":0}],
			"relatedVisits":[{"reservationId":555}]}}`)
	})
	c := p.client(t, "good")

	start := time.Date(2026, 9, 1, 10, 30, 0, 0, time.Local)
	slot := Slot{
		ClinicID:   10,
		RoomID:     2,
		ScheduleID: 77,
		ServiceID:  9242,
		Doctor:     Doctor{ID: 3},
		Start:      start,
		End:        start.Add(20 * time.Minute),
	}
	lock, err := c.LockTerm(context.Background(), slot)
	require.NoError(t, err)

	assert.EqualValues(t, 42, lock.TemporaryReservationID)
	require.Len(t, lock.RelatedVisits, 1)
	assert.EqualValues(t, 555, lock.RelatedVisits[0].ReservationID)

	// lockterm wants the clinic id under facilityId
	assert.EqualValues(t, 10, got["facilityId"])
	assert.EqualValues(t, 77, got["scheduleId"])
	assert.Equal(t, "10:30", got["timeFrom"])
	assert.Equal(t, "10:50", got["timeTo"])
}

func TestConfirmRequiresValuation(t *testing.T) {
	p := newPortalFake(time.Now().Add(time.Hour))
	c := p.client(t, "good")

	_, err := c.Confirm(context.Background(), Slot{}, Lock{})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
}

func TestRescheduleUsesFirstRelatedVisit(t *testing.T) {
	p := newPortalFake(time.Now().Add(time.Hour))
	var got map[string]any
	p.mux.HandleFunc("/NewPortal/reservation/changeterm", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		io.WriteString(w, `{"value":{"reservationId":900}}`)
	})
	c := p.client(t, "good")

	lock := Lock{
		TemporaryReservationID: 42,
		Valuations:             []json.RawMessage{json.RawMessage(`{"price":0}`)},
		RelatedVisits:          []RelatedVisit{{ReservationID: 555}, {ReservationID: 777}},
	}
	res, err := c.Reschedule(context.Background(), Slot{Start: time.Now(), End: time.Now()}, lock)
	require.NoError(t, err)
	assert.EqualValues(t, 900, res.ID)

	assert.EqualValues(t, 555, got["existingReservationId"])
	term, ok := got["term"].(map[string]any)
	require.True(t, ok)
	assert.EqualValues(t, 555, term["parentReservationId"])
}

func TestExpiredTokenTriggersReauth(t *testing.T) {
	p := newPortalFake(time.Now().Add(-time.Minute)) // tokens come back already expired
	p.mux.HandleFunc("/NewPortal/terms/index", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"termsForService":{"termsForDays":[]}}`)
	})
	c := p.client(t, "good")

	_, err := c.Terms(context.Background(), TermsQuery{CityID: 8, ServiceID: 9242})
	require.NoError(t, err)
	_, err = c.Terms(context.Background(), TermsQuery{CityID: 8, ServiceID: 9242})
	require.NoError(t, err)

	// one login per call: the expired token is refreshed transparently
	assert.Equal(t, 2, p.loginCount)
}
