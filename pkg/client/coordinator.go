// Package client is the HTTP client side of the session API.
//
// Coordinator serializes token refreshes: when many in-flight requests see an
// expired access token at once, exactly one refresh runs and every request
// waits for it, then replays once. Client wraps an http.Client with a cookie
// jar and the session endpoints; Transport does the same for any
// http.RoundTripper.
package client

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"sync/atomic"

	"golang.org/x/sync/singleflight"
)

// RefreshFunc performs one refresh. The context it receives carries the values
// of the request that triggered it but not its cancellation.
type RefreshFunc func(ctx context.Context) error

// SendFunc issues (or re-issues) one request.
type SendFunc func(ctx context.Context) (*http.Response, error)

type Coordinator struct {
	refresh RefreshFunc
	expired func(*http.Response) bool
	group   singleflight.Group

	// gen counts successful refreshes; a request sent before the latest one
	// replays without starting another.
	gen       atomic.Uint64
	refreshes atomic.Int64
}

type Option func(*Coordinator)

// WithExpiredPredicate overrides what counts as an auth-expired response. Default: 401.
func WithExpiredPredicate(fn func(*http.Response) bool) Option {
	return func(c *Coordinator) { c.expired = fn }
}

func NewCoordinator(refresh RefreshFunc, opts ...Option) *Coordinator {
	c := &Coordinator{
		refresh: refresh,
		expired: func(r *http.Response) bool { return r.StatusCode == http.StatusUnauthorized },
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Refreshes reports how many refreshes have been started.
func (c *Coordinator) Refreshes() int64 { return c.refreshes.Load() }

// Do sends a request. On an auth-expired response it joins the in-flight
// refresh (or starts one) and replays send once when the refresh succeeds.
// If the refresh fails the original response is returned unchanged. If ctx is
// cancelled while waiting, Do returns ctx.Err() and the refresh carries on.
func (c *Coordinator) Do(ctx context.Context, send SendFunc) (*http.Response, error) {
	gen := c.gen.Load()
	resp, err := send(ctx)
	if err != nil || !c.expired(resp) {
		return resp, err
	}

	if c.gen.Load() == gen {
		if rerr := c.await(ctx, gen); rerr != nil {
			if cerr := ctx.Err(); cerr != nil {
				discard(resp)
				return nil, cerr
			}
			return resp, nil
		}
	}
	discard(resp)
	return send(ctx)
}

// flightKey scopes a refresh to the generation it replaces, so a waiter from a
// newer generation never joins a flight that skipped or already finished.
func flightKey(gen uint64) string { return "refresh:" + strconv.FormatUint(gen, 10) }

// await joins or starts the refresh. sentAt is the generation the expired
// request was sent under; a leader that finds it already superseded skips the refresh.
func (c *Coordinator) await(ctx context.Context, sentAt uint64) error {
	detached := context.WithoutCancel(ctx)
	ch := c.group.DoChan(flightKey(sentAt), func() (interface{}, error) {
		if c.gen.Load() != sentAt {
			return nil, nil
		}
		c.refreshes.Add(1)
		if err := c.refresh(detached); err != nil {
			return nil, err
		}
		c.gen.Add(1)
		return nil, nil
	})
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func discard(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}
