package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"
)

// APIError is a non-success envelope returned by the server.
type APIError struct {
	Status  int
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%d %s: %s", e.Status, e.Code, e.Message)
}

type User struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

// Session is the data of a register, login or refresh response.
type Session struct {
	User            User      `json:"user"`
	AccessToken     string    `json:"accessToken"`
	AccessExpiresAt time.Time `json:"accessExpiresAt"`
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *APIError       `json:"error"`
}

// Client talks to the session API. Cookies live in the http.Client's jar; in
// bearer mode the access token from the latest session response is also sent
// as an Authorization header.
type Client struct {
	base   *url.URL
	http   *http.Client
	coord  *Coordinator
	bearer bool

	mu     sync.RWMutex
	access string
}

type ClientOption func(*clientOptions)

type clientOptions struct {
	httpClient *http.Client
	bearer     bool
	coordOpts  []Option
}

// WithHTTPClient uses hc for every call. A cookie jar is attached when hc has none.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(o *clientOptions) { o.httpClient = hc }
}

// WithBearer sends the access token as a bearer header in addition to the cookie.
func WithBearer() ClientOption {
	return func(o *clientOptions) { o.bearer = true }
}

func WithCoordinatorOptions(opts ...Option) ClientOption {
	return func(o *clientOptions) { o.coordOpts = append(o.coordOpts, opts...) }
}

func New(baseURL string, opts ...ClientOption) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("client: parse base url: %w", err)
	}
	var o clientOptions
	for _, opt := range opts {
		opt(&o)
	}
	hc := o.httpClient
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	if hc.Jar == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, fmt.Errorf("client: cookie jar: %w", err)
		}
		hc.Jar = jar
	}
	c := &Client{base: u, http: hc, bearer: o.bearer}
	c.coord = NewCoordinator(c.Refresh, o.coordOpts...)
	return c, nil
}

func (c *Client) Coordinator() *Coordinator { return c.coord }

// Refreshes reports how many refreshes the client has started.
func (c *Client) Refreshes() int64 { return c.coord.Refreshes() }

// AccessToken returns the access token of the latest session response.
func (c *Client) AccessToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.access
}

func (c *Client) setAccess(tok string) {
	c.mu.Lock()
	c.access = tok
	c.mu.Unlock()
}

func (c *Client) url(path string) string {
	return c.base.String() + path
}

// NewRequest builds a request against the base URL. A non-nil body is JSON-encoded.
func (c *Client) NewRequest(ctx context.Context, method, path string, body interface{}) (*http.Request, error) {
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("client: encode body: %w", err)
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.url(path), rdr)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func (c *Client) send(req *http.Request) (*http.Response, error) {
	if c.bearer {
		if tok := c.AccessToken(); tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}
	return c.http.Do(req)
}

// Do sends req through the coordinator: an expired access token triggers one
// shared refresh and a single replay. Bodies must be rewindable (GetBody) to be replayed.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	attempt := 0
	return c.coord.Do(req.Context(), func(ctx context.Context) (*http.Response, error) {
		attempt++
		r := req.Clone(ctx)
		if attempt > 1 && req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return nil, err
			}
			r.Body = body
		}
		return c.send(r)
	})
}

func decodeEnvelope(resp *http.Response, out interface{}) error {
	defer resp.Body.Close()
	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("client: %s: decode response (status %d): %w", resp.Request.URL.Path, resp.StatusCode, err)
	}
	if !env.Success {
		if env.Error == nil {
			env.Error = &APIError{Code: "UNKNOWN", Message: http.StatusText(resp.StatusCode)}
		}
		env.Error.Status = resp.StatusCode
		return env.Error
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	return json.Unmarshal(env.Data, out)
}

func (c *Client) postSession(ctx context.Context, path string, body interface{}) (*Session, error) {
	req, err := c.NewRequest(ctx, http.MethodPost, path, body)
	if err != nil {
		return nil, err
	}
	resp, err := c.send(req)
	if err != nil {
		return nil, err
	}
	var s Session
	if err := decodeEnvelope(resp, &s); err != nil {
		return nil, err
	}
	c.setAccess(s.AccessToken)
	return &s, nil
}

func (c *Client) Register(ctx context.Context, name, email, password string) (*Session, error) {
	return c.postSession(ctx, "/auth/register", map[string]string{"name": name, "email": email, "password": password})
}

func (c *Client) Login(ctx context.Context, email, password string) (*Session, error) {
	return c.postSession(ctx, "/auth/login", map[string]string{"email": email, "password": password})
}

// Refresh rotates the session using the refresh cookie. It is never itself
// guarded, so a failed refresh surfaces as an *APIError.
func (c *Client) Refresh(ctx context.Context) error {
	_, err := c.postSession(ctx, "/auth/refresh", nil)
	return err
}

// Logout revokes the current refresh token and forgets the access token.
func (c *Client) Logout(ctx context.Context) error {
	req, err := c.NewRequest(ctx, http.MethodPost, "/auth/logout", nil)
	if err != nil {
		return err
	}
	resp, err := c.send(req)
	if err != nil {
		return err
	}
	c.setAccess("")
	return decodeEnvelope(resp, nil)
}

// LogoutAll revokes every session of the current user.
func (c *Client) LogoutAll(ctx context.Context) (int64, error) {
	req, err := c.NewRequest(ctx, http.MethodPost, "/auth/logout-all", nil)
	if err != nil {
		return 0, err
	}
	resp, err := c.Do(req)
	if err != nil {
		return 0, err
	}
	var out struct {
		Revoked int64 `json:"revoked"`
	}
	if err := decodeEnvelope(resp, &out); err != nil {
		return 0, err
	}
	c.setAccess("")
	return out.Revoked, nil
}

func (c *Client) Me(ctx context.Context) (*User, error) {
	req, err := c.NewRequest(ctx, http.MethodGet, "/auth/me", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.Do(req)
	if err != nil {
		return nil, err
	}
	var u User
	if err := decodeEnvelope(resp, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// Transport returns a RoundTripper that shares this client's coordinator and jar,
// for plugging the refresh behaviour into another http.Client.
func (c *Client) Transport(base http.RoundTripper) *Transport {
	t := &Transport{Base: base, Coordinator: c.coord, Jar: c.http.Jar}
	if c.bearer {
		t.Token = c.AccessToken
	}
	return t
}
