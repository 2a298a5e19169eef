// Package hunter holds the appointment-hunting core: the scheduler that
// decides which requests are due and the engine that runs the
// check/lock/reserve cycle for each.
package hunter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/luxmed-hunter/internal/hunt"
	"github.com/example/luxmed-hunter/internal/luxmed"
	"github.com/example/luxmed-hunter/internal/notify"
	"github.com/example/luxmed-hunter/internal/store"
)

// Store is the persistence the scheduler needs from the record store.
type Store interface {
	DueRequests(ctx context.Context, now time.Time) ([]hunt.Request, error)
	UpdateRequest(ctx context.Context, r hunt.Request) error
	CredentialsByEmail(ctx context.Context, email string) (hunt.Credentials, error)
}

// SessionFactory opens an authenticated portal session for an account.
type SessionFactory func(ctx context.Context, creds hunt.Credentials) (Session, error)

// Scheduler polls due hunt requests and drives one engine cycle per request.
// Cycles run sequentially; one failing request never stops the batch.
type Scheduler struct {
	Store  Store
	Sink   notify.Sink
	Log    *slog.Logger
	Engine *Engine

	// NewSession defaults to a real portal login.
	NewSession SessionFactory
	Now        func() time.Time

	sessions map[string]Session
}

func New(st Store, sink notify.Sink, log *slog.Logger) *Scheduler {
	s := &Scheduler{
		Store:  st,
		Sink:   sink,
		Log:    log,
		Engine: &Engine{Log: log},
	}
	s.NewSession = func(ctx context.Context, creds hunt.Credentials) (Session, error) {
		client := luxmed.New(creds.Email, creds.Password, log)
		if err := client.Login(ctx); err != nil {
			return nil, err
		}
		return client, nil
	}
	return s
}

// Run calls RunOnce immediately, then on every interval tick until the
// context is cancelled. A failing due-request scan halts the loop: the local
// store being unreadable is not a condition worth retrying blind.
func (s *Scheduler) Run(ctx context.Context, interval time.Duration) error {
	if err := s.RunOnce(ctx); err != nil {
		return err
	}

	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			if err := s.RunOnce(ctx); err != nil {
				return err
			}
		}
	}
}

// RunOnce processes every request due at scan time. Each request runs inside
// its own failure boundary: errors are logged and the batch moves on.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	now := s.now()
	due, err := s.Store.DueRequests(ctx, now)
	if err != nil {
		return fmt.Errorf("hunter: due request scan: %w", err)
	}
	s.Log.Info("found appointments to check", "count", len(due))

	for _, r := range due {
		if err := s.check(ctx, r); err != nil {
			s.logFailure(r, err)
		}
	}
	return nil
}

func (s *Scheduler) check(ctx context.Context, r hunt.Request) error {
	s.Log.Info("checking request", "request", r.ID, "account", r.AccountEmail, "comment", r.Comment)

	sess, err := s.session(ctx, r.AccountEmail)
	if err != nil {
		return err
	}

	out, err := s.Engine.Hunt(ctx, sess, r)
	if err != nil {
		return err
	}
	if out.Changed {
		if err := s.Store.UpdateRequest(ctx, out.Request); err != nil {
			return fmt.Errorf("persist request %s: %w", r.ID, err)
		}
	}
	if out.Notification != nil {
		if err := s.Sink.Notify(ctx, out.Notification.Subject, out.Notification.Body); err != nil {
			s.Log.Warn("notification failed", "request", r.ID, "error", err)
		}
	}
	return nil
}

// session returns the cached portal session for the account, creating and
// authenticating one on first use. Sessions live for the process lifetime;
// token refresh inside a session is the portal client's job.
func (s *Scheduler) session(ctx context.Context, email string) (Session, error) {
	if sess, ok := s.sessions[email]; ok {
		return sess, nil
	}
	creds, err := s.Store.CredentialsByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("no credentials stored for account %s", email)
	}
	if err != nil {
		return nil, err
	}
	sess, err := s.NewSession(ctx, creds)
	if err != nil {
		return nil, err
	}
	if s.sessions == nil {
		s.sessions = make(map[string]Session)
	}
	s.sessions[email] = sess
	return sess, nil
}

func (s *Scheduler) logFailure(r hunt.Request, err error) {
	var authErr *luxmed.AuthError
	if errors.As(err, &authErr) {
		s.Log.Error("portal authentication failed", "request", r.ID, "account", r.AccountEmail, "error", err)
		return
	}
	s.Log.Error("error reserving appointment", "request", r.ID, "account", r.AccountEmail,
		"comment", r.Comment, "error", err)
}

func (s *Scheduler) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}
