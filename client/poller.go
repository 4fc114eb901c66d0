// Package client is the consuming side of the status-polling contract: the
// waiting screen starts a poller against its invite token, owns the handle,
// and stops it on teardown.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"onboard-api/models"
)

var (
	// ErrNotFound: the server does not know the token. Fatal, not retried.
	ErrNotFound = errors.New("invitation not found")
	// ErrUnavailable: the transport failure budget ran out.
	ErrUnavailable = errors.New("status endpoint unavailable")
)

// Update is one observation of the invitation's status. Exactly one of View
// and Err is set; the update carrying a terminal status (or an error) is the
// last one before the channel closes.
type Update struct {
	View *models.InviteView
	Err  error
}

// Poller polls resolve on a fixed interval until it observes a status that
// is terminal for the visitor, its failure budget is exhausted, or the
// consumer stops it. A single transport failure is never surfaced; it is
// retry-next-tick until MaxFailures consecutive misses.
type Poller struct {
	BaseURL     string
	Token       string
	Interval    time.Duration
	MaxFailures int
	HTTPClient  *http.Client

	updates chan Update
	stop    chan struct{}
	cancel  context.CancelFunc
	once    sync.Once
}

func NewPoller(baseURL, token string) *Poller {
	return &Poller{
		BaseURL:     baseURL,
		Token:       token,
		Interval:    5 * time.Second,
		MaxFailures: 5,
		HTTPClient:  &http.Client{Timeout: 10 * time.Second},
		updates:     make(chan Update, 1),
		stop:        make(chan struct{}),
	}
}

// Updates delivers observations. The channel closes when polling ends for
// any reason.
func (p *Poller) Updates() <-chan Update {
	return p.updates
}

// Start begins polling with an immediate first fetch. The consumer owns the
// returned lifetime: cancel ctx or call Stop to tear down.
func (p *Poller) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	go p.run(ctx)
}

// Stop cancels polling, aborting any request still on the wire. Safe to
// call more than once, and safe to call after the poller already finished.
func (p *Poller) Stop() {
	p.once.Do(func() {
		close(p.stop)
		if p.cancel != nil {
			p.cancel()
		}
	})
}

func (p *Poller) run(ctx context.Context) {
	defer close(p.updates)

	ticker := time.NewTicker(p.Interval)
	defer ticker.Stop()

	failures := 0
	for {
		view, err := p.resolve(ctx)
		switch {
		case errors.Is(err, ErrNotFound):
			p.emit(ctx, Update{Err: err})
			return
		case err != nil:
			failures++
			if failures >= p.MaxFailures {
				p.emit(ctx, Update{Err: fmt.Errorf("%w: %v", ErrUnavailable, err)})
				return
			}
		default:
			failures = 0
			if !p.emit(ctx, Update{View: view}) {
				return
			}
			if terminal(view.Status) {
				return
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-p.stop:
			return
		case <-ticker.C:
		}
	}
}

// terminal statuses for the visitor: REJECTED still ends this viewing
// session (the visitor navigates back to the form for a new attempt).
func terminal(status string) bool {
	switch status {
	case models.StatusApproved, models.StatusRejected, models.StatusExpired:
		return true
	}
	return false
}

func (p *Poller) emit(ctx context.Context, u Update) bool {
	select {
	case p.updates <- u:
		return true
	case <-ctx.Done():
		return false
	case <-p.stop:
		return false
	}
}

func (p *Poller) resolve(ctx context.Context) (*models.InviteView, error) {
	url := fmt.Sprintf("%s/api/v1/invites/%s", p.BaseURL, p.Token)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := p.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrNotFound
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var view models.InviteView
	if err := json.NewDecoder(resp.Body).Decode(&view); err != nil {
		return nil, err
	}
	return &view, nil
}
