// Package luxmed wraps the LuxMed patient portal API. The portal schema is
// undocumented, so everything wire-level stays behind this adapter: callers
// see Slots, Locks and Reservations, never raw payloads.
package luxmed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const DefaultBaseURL = "https://portalpacjenta.luxmed.pl/PatientPortal"

const (
	pathLogin          = "/Account/LogIn"
	pathForgeryToken   = "/NewPortal/security/getforgerytoken"
	pathUser           = "/NewPortal/UserProfile/GetUser"
	pathTerms          = "/NewPortal/terms/index"
	pathLockTerm       = "/NewPortal/reservation/lockterm"
	pathConfirm        = "/NewPortal/reservation/confirm"
	pathChangeTerm     = "/NewPortal/reservation/changeterm"
	pathRecentSearches = "/NewPortal/terms/recentsearches"
)

// searchLanguageID is the portal's language dictionary id for Polish.
const searchLanguageID = 10

// AuthError means the portal rejected the credentials or withheld a token.
type AuthError struct {
	Email string
	Err   error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("luxmed: authentication failed for %s: %v", e.Email, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// APIError is a non-auth portal failure: an HTTP error status or a payload
// carrying a non-empty errors array.
type APIError struct {
	Status   int
	Messages []string
}

func (e *APIError) Error() string {
	if len(e.Messages) > 0 {
		return fmt.Sprintf("luxmed: api error (status=%d): %s", e.Status, strings.Join(e.Messages, "; "))
	}
	return fmt.Sprintf("luxmed: api error (status=%d)", e.Status)
}

// Client is an authenticated portal session for one account. Re-authentication
// on token expiry is handled internally; callers just invoke operations.
// Not safe for concurrent use.
type Client struct {
	hc   *http.Client
	base string
	log  *slog.Logger

	email    string
	password string

	token     string
	xsrf      string
	expiresAt time.Time
}

type Option func(*Client)

// WithBaseURL points the client at a different portal root (tests).
func WithBaseURL(base string) Option {
	return func(c *Client) { c.base = strings.TrimRight(base, "/") }
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.hc = hc }
}

func New(email, password string, log *slog.Logger, opts ...Option) *Client {
	c := &Client{
		hc:       &http.Client{Timeout: 30 * time.Second},
		base:     DefaultBaseURL,
		log:      log,
		email:    email,
		password: password,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Client) Email() string { return c.email }

// Valid reports whether the session token exists and has not expired.
func (c *Client) Valid() bool {
	return c.token != "" && time.Now().Before(c.expiresAt)
}

// Login performs the portal login and captures the bearer and forgery tokens.
// Called implicitly by every operation when the token is missing or expired.
func (c *Client) Login(ctx context.Context) error {
	payload := map[string]string{"login": c.email, "password": c.password}
	status, body, err := c.do(ctx, http.MethodPost, pathLogin, nil, payload, false)
	if err != nil {
		return err
	}
	if status >= 400 {
		return &AuthError{Email: c.email, Err: fmt.Errorf("login rejected (status=%d)", status)}
	}
	var res struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(body, &res); err != nil || res.Token == "" {
		return &AuthError{Email: c.email, Err: fmt.Errorf("token not received")}
	}
	c.token = res.Token

	exp, err := tokenExpiration(res.Token)
	if err != nil {
		return &AuthError{Email: c.email, Err: err}
	}
	c.expiresAt = exp

	if err := c.fetchForgeryToken(ctx); err != nil {
		c.token = ""
		return err
	}
	c.log.Info("portal login ok", "account", c.email, "token_expires", exp)
	return nil
}

// tokenExpiration reads the exp claim without verifying the signature: the
// token came from the portal over TLS and is only inspected for its lifetime.
func tokenExpiration(token string) (time.Time, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, fmt.Errorf("decode session token: %w", err)
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, fmt.Errorf("session token has no expiration")
	}
	return exp.Time, nil
}

func (c *Client) fetchForgeryToken(ctx context.Context) error {
	status, body, err := c.do(ctx, http.MethodGet, pathForgeryToken, nil, nil, true)
	if err != nil {
		return err
	}
	if status >= 400 {
		return &APIError{Status: status, Messages: []string{"forgery token fetch failed"}}
	}
	var res struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(body, &res); err != nil || res.Token == "" {
		return &APIError{Status: status, Messages: []string{"forgery token not received"}}
	}
	c.xsrf = res.Token
	return nil
}

func (c *Client) ensureAuth(ctx context.Context) error {
	if c.Valid() {
		return nil
	}
	return c.Login(ctx)
}

// Terms searches for available slots. Allow-lists and the date window are
// passed to the portal; the response is flattened but deliberately not
// filtered here — the engine re-applies the full filter itself.
func (c *Client) Terms(ctx context.Context, q TermsQuery) ([]Slot, error) {
	params := url.Values{}
	params.Set("searchPlace.id", strconv.Itoa(q.CityID))
	params.Set("searchPlace.type", "0")
	params.Set("serviceVariantId", strconv.Itoa(q.ServiceID))
	params.Set("languageId", strconv.Itoa(searchLanguageID))
	params.Set("searchDateFrom", q.From.Format("2006-01-02"))
	params.Set("searchDateTo", q.To.Format("2006-01-02"))
	params.Set("searchDatePreset", strconv.Itoa(q.LookupDays))
	params.Set("delocalized", "false")
	if len(q.FacilityIDs) > 0 {
		params.Set("facilitiesIds", joinIDs(q.FacilityIDs))
	}
	if len(q.DoctorIDs) > 0 {
		params.Set("doctorsIds", joinIDs(q.DoctorIDs))
	}

	body, err := c.call(ctx, http.MethodGet, pathTerms, params, nil)
	if err != nil {
		return nil, err
	}

	var res termsResponse
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, fmt.Errorf("luxmed: decode terms response: %w", err)
	}

	var slots []Slot
	for _, day := range res.TermsForService.TermsForDays {
		for _, t := range day.Terms {
			start, err := parsePortalTime(t.DateTimeFrom)
			if err != nil {
				return nil, fmt.Errorf("luxmed: term %q: %w", t.DateTimeFrom, err)
			}
			end, err := parsePortalTime(t.DateTimeTo)
			if err != nil {
				return nil, fmt.Errorf("luxmed: term %q: %w", t.DateTimeTo, err)
			}
			slots = append(slots, Slot{
				ClinicID:      t.ClinicID,
				Clinic:        t.Clinic,
				ClinicGroupID: t.ClinicGroupID,
				RoomID:        t.RoomID,
				ScheduleID:    t.ScheduleID,
				ServiceID:     t.ServiceID,
				Doctor:        t.Doctor,
				Start:         start,
				End:           end,
				CorrelationID: res.CorrelationID,
			})
		}
	}
	return slots, nil
}

// LockTerm places a temporary hold on the slot. The hold is time-boxed
// upstream; an abandoned lock simply expires there.
func (c *Client) LockTerm(ctx context.Context, s Slot) (Lock, error) {
	payload := map[string]any{
		"serviceVariantId": s.ServiceID,
		"facilityId":       s.ClinicID,
		"roomId":           s.RoomID,
		"scheduleId":       s.ScheduleID,
		"date":             s.Start.UTC().Format("2006-01-02T15:04:05.000Z"),
		"timeFrom":         s.Start.Format("15:04"),
		"timeTo":           s.End.Format("15:04"),
		"doctorId":         s.Doctor.ID,
	}
	body, err := c.call(ctx, http.MethodPost, pathLockTerm, nil, payload)
	if err != nil {
		return Lock{}, err
	}
	var res struct {
		Value Lock `json:"value"`
	}
	if err := json.Unmarshal(body, &res); err != nil {
		return Lock{}, fmt.Errorf("luxmed: decode lock response: %w", err)
	}
	c.log.Debug("term locked", "account", c.email, "temporary_reservation_id", res.Value.TemporaryReservationID)
	return res.Value, nil
}

// Confirm turns a locked slot into a fresh reservation.
func (c *Client) Confirm(ctx context.Context, s Slot, lock Lock) (Reservation, error) {
	if len(lock.Valuations) == 0 {
		return Reservation{}, &APIError{Messages: []string{"lock has no valuations"}}
	}
	payload := map[string]any{
		"serviceVariantId":       s.ServiceID,
		"facilityId":             s.ClinicID,
		"roomId":                 s.RoomID,
		"scheduleId":             s.ScheduleID,
		"date":                   s.Start.UTC().Format("2006-01-02T15:04:05.000Z"),
		"timeFrom":               s.Start.Format("15:04"),
		"doctorId":               s.Doctor.ID,
		"temporaryReservationId": lock.TemporaryReservationID,
		"valuation":              lock.Valuations[0],
		"referralRequired":       false,
	}
	body, err := c.call(ctx, http.MethodPost, pathConfirm, nil, payload)
	if err != nil {
		return Reservation{}, err
	}
	return parseReservation(body)
}

// Reschedule moves the first related visit of the lock onto the locked slot.
func (c *Client) Reschedule(ctx context.Context, s Slot, lock Lock) (Reservation, error) {
	if len(lock.RelatedVisits) == 0 {
		return Reservation{}, &APIError{Messages: []string{"lock has no related visits to reschedule"}}
	}
	if len(lock.Valuations) == 0 {
		return Reservation{}, &APIError{Messages: []string{"lock has no valuations"}}
	}
	existing := lock.RelatedVisits[0].ReservationID
	payload := map[string]any{
		"existingReservationId": existing,
		"term": map[string]any{
			"serviceVariantId":       s.ServiceID,
			"facilityId":             s.ClinicID,
			"roomId":                 s.RoomID,
			"scheduleId":             s.ScheduleID,
			"date":                   s.Start.UTC().Format("2006-01-02T15:04:05.000Z"),
			"timeFrom":               s.Start.Format("15:04"),
			"doctorId":               s.Doctor.ID,
			"temporaryReservationId": lock.TemporaryReservationID,
			"valuation":              lock.Valuations[0],
			"referralRequired":       false,
			"parentReservationId":    existing,
		},
	}
	body, err := c.call(ctx, http.MethodPost, pathChangeTerm, nil, payload)
	if err != nil {
		return Reservation{}, err
	}
	return parseReservation(body)
}

// UserInfo fetches the portal profile of the logged-in account.
func (c *Client) UserInfo(ctx context.Context) (json.RawMessage, error) {
	return c.call(ctx, http.MethodGet, pathUser, nil, nil)
}

// RecentSearches returns the account's manual search history, newest first.
// Best effort: the upstream shape is not guaranteed stable.
func (c *Client) RecentSearches(ctx context.Context) ([]RecentSearch, error) {
	body, err := c.call(ctx, http.MethodGet, pathRecentSearches, nil, nil)
	if err != nil {
		return nil, err
	}
	var searches []RecentSearch
	if err := json.Unmarshal(body, &searches); err != nil {
		// some portal versions wrap the list
		var wrapped struct {
			Searches []RecentSearch `json:"searches"`
		}
		if err2 := json.Unmarshal(body, &wrapped); err2 != nil || len(wrapped.Searches) == 0 {
			return nil, fmt.Errorf("luxmed: unusable recent searches payload: %w", err)
		}
		searches = wrapped.Searches
	}
	return searches, nil
}

// call is the authenticated request path: it refreshes the session when
// needed and rejects error statuses and payload-level errors arrays.
func (c *Client) call(ctx context.Context, method, path string, query url.Values, payload any) ([]byte, error) {
	if err := c.ensureAuth(ctx); err != nil {
		return nil, err
	}
	status, body, err := c.do(ctx, method, path, query, payload, true)
	if err != nil {
		return nil, err
	}
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		return nil, &AuthError{Email: c.email, Err: fmt.Errorf("session rejected (status=%d)", status)}
	}
	if status >= 400 {
		return nil, &APIError{Status: status, Messages: payloadErrors(body)}
	}
	if msgs := payloadErrors(body); len(msgs) > 0 {
		return nil, &APIError{Status: status, Messages: msgs}
	}
	return body, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, payload any, authed bool) (int, []byte, error) {
	var rd io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return 0, nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if authed {
		req.Header.Set("Authorization-Token", "Bearer "+c.token)
		req.Header.Set("XSRF-TOKEN", c.xsrf)
	}
	if query != nil {
		req.URL.RawQuery = query.Encode()
	}

	res, err := c.hc.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("luxmed: %s %s: %w", method, path, err)
	}
	defer res.Body.Close()
	body, err := io.ReadAll(res.Body)
	if err != nil {
		return res.StatusCode, nil, fmt.Errorf("luxmed: read response: %w", err)
	}
	return res.StatusCode, body, nil
}

type termsResponse struct {
	CorrelationID   string `json:"correlationId"`
	TermsForService struct {
		TermsForDays []struct {
			Day   string        `json:"day"`
			Terms []termPayload `json:"terms"`
		} `json:"termsForDays"`
	} `json:"termsForService"`
}

type termPayload struct {
	ClinicID      int    `json:"clinicId"`
	Clinic        string `json:"clinic"`
	ClinicGroupID int    `json:"clinicGroupId"`
	RoomID        int    `json:"roomId"`
	ScheduleID    int    `json:"scheduleId"`
	ServiceID     int    `json:"serviceId"`
	DateTimeFrom  string `json:"dateTimeFrom"`
	DateTimeTo    string `json:"dateTimeTo"`
	Doctor        Doctor `json:"doctor"`
}

func parseReservation(body []byte) (Reservation, error) {
	var res struct {
		Value struct {
			ReservationID int64 `json:"reservationId"`
		} `json:"value"`
	}
	_ = json.Unmarshal(body, &res)
	return Reservation{ID: res.Value.ReservationID, Raw: body}, nil
}

// payloadErrors extracts the errors array many portal responses carry.
func payloadErrors(body []byte) []string {
	var res struct {
		Errors []json.RawMessage `json:"errors"`
	}
	if err := json.Unmarshal(body, &res); err != nil || len(res.Errors) == 0 {
		return nil
	}
	msgs := make([]string, 0, len(res.Errors))
	for _, e := range res.Errors {
		var m struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(e, &m) == nil && m.Message != "" {
			msgs = append(msgs, m.Message)
			continue
		}
		msgs = append(msgs, string(e))
	}
	return msgs
}

// parsePortalTime handles both offset-carrying and naive portal timestamps;
// naive ones are taken as local time, matching the portal's own rendering.
func parsePortalTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	t, err := time.ParseInLocation("2006-01-02T15:04:05", s, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time: %w", err)
	}
	return t, nil
}

func joinIDs(ids []int) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.Itoa(id)
	}
	return strings.Join(parts, ",")
}
