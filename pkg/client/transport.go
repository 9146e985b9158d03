package client

import (
	"context"
	"net/http"
)

// Transport is an http.RoundTripper that routes every request through a Coordinator.
//
// When Jar is set the Cookie header of a replayed request is rebuilt from it,
// since the http.Client attached the pre-refresh cookies. When Token is set its
// value is sent as a bearer Authorization header on every attempt.
type Transport struct {
	Base        http.RoundTripper
	Coordinator *Coordinator
	Jar         http.CookieJar
	Token       func() string
}

// NewTransport wraps base (http.DefaultTransport when nil).
func NewTransport(base http.RoundTripper, coord *Coordinator) *Transport {
	return &Transport{Base: base, Coordinator: coord}
}

func (t *Transport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}

func (t *Transport) authorize(r *http.Request) {
	if t.Token != nil {
		if tok := t.Token(); tok != "" {
			r.Header.Set("Authorization", "Bearer "+tok)
		}
	}
}

// RoundTrip sends req, refreshing and replaying once on an auth-expired
// response. A request whose body cannot be rewound is sent once, unguarded.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Body != nil && req.Body != http.NoBody && req.GetBody == nil {
		r := req.Clone(req.Context())
		t.authorize(r)
		return t.base().RoundTrip(r)
	}
	attempt := 0
	return t.Coordinator.Do(req.Context(), func(ctx context.Context) (*http.Response, error) {
		attempt++
		r := req.Clone(ctx)
		if attempt > 1 {
			if req.GetBody != nil {
				body, err := req.GetBody()
				if err != nil {
					return nil, err
				}
				r.Body = body
			}
			if t.Jar != nil {
				r.Header.Del("Cookie")
				for _, c := range t.Jar.Cookies(r.URL) {
					r.AddCookie(c)
				}
			}
		}
		t.authorize(r)
		return t.base().RoundTrip(r)
	})
}
