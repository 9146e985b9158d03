// Command authprobe exercises a running auth service from the client side: it
// signs in, optionally waits out the access token, then fires concurrent
// authenticated calls and reports how many refreshes they cost.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/gogotex/authsession/pkg/client"
	"github.com/gogotex/authsession/pkg/logger"
	"golang.org/x/sync/errgroup"
)

type options struct {
	email, password, name string
	concurrency           int
	wait                  time.Duration
}

type report struct {
	session   *client.Session
	ok        int64
	refreshes int64
	elapsed   time.Duration
}

// signIn logs in, registering the account first if the credentials are unknown.
func signIn(ctx context.Context, c *client.Client, o options) (*client.Session, error) {
	sess, err := c.Login(ctx, o.email, o.password)
	var apiErr *client.APIError
	if errors.As(err, &apiErr) && apiErr.Code == "INVALID_CREDENTIALS" {
		logger.Infof("login failed, registering %s", o.email)
		sess, err = c.Register(ctx, o.name, o.email, o.password)
	}
	if err != nil {
		return nil, fmt.Errorf("sign in: %w", err)
	}
	return sess, nil
}

// burst issues n concurrent /auth/me calls and counts the successful ones.
func burst(ctx context.Context, c *client.Client, n int) (int64, error) {
	var ok atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		g.Go(func() error {
			if _, err := c.Me(gctx); err != nil {
				return err
			}
			ok.Add(1)
			return nil
		})
	}
	err := g.Wait()
	return ok.Load(), err
}

func run(ctx context.Context, c *client.Client, o options) (report, error) {
	var rep report
	if o.concurrency <= 0 {
		return rep, errors.New("concurrency must be > 0")
	}
	sess, err := signIn(ctx, c, o)
	if err != nil {
		return rep, err
	}
	rep.session = sess
	logger.Infof("signed in as %s (%s), access token expires %s", sess.User.Email, sess.User.ID, sess.AccessExpiresAt.Format(time.RFC3339))

	if o.wait > 0 {
		logger.Infof("waiting %s", o.wait)
		select {
		case <-time.After(o.wait):
		case <-ctx.Done():
			return rep, fmt.Errorf("wait: %w", ctx.Err())
		}
	}

	start := time.Now()
	rep.ok, err = burst(ctx, c, o.concurrency)
	rep.elapsed = time.Since(start)
	rep.refreshes = c.Refreshes()
	if err != nil {
		return rep, fmt.Errorf("burst: %w", err)
	}
	return rep, nil
}

func main() {
	var (
		o       options
		baseURL = flag.String("url", "http://localhost:5001", "auth service base URL")
		bearer  = flag.Bool("bearer", false, "send the access token as a bearer header")
		format  = flag.String("log-format", "text", "text | json")
	)
	flag.StringVar(&o.email, "email", "probe@example.com", "account email")
	flag.StringVar(&o.password, "password", "Pr0be!pass", "account password")
	flag.StringVar(&o.name, "name", "Probe", "display name used when registering")
	flag.IntVar(&o.concurrency, "concurrency", 16, "number of concurrent /auth/me calls")
	flag.DurationVar(&o.wait, "wait", 0, "sleep before the burst, e.g. the access token TTL")
	flag.Parse()
	logger.Init(os.Getenv("LOG_LEVEL"))
	logger.SetFormat(*format)

	if o.concurrency <= 0 {
		fmt.Fprintln(os.Stderr, "concurrency must be > 0")
		os.Exit(2)
	}

	var opts []client.ClientOption
	if *bearer {
		opts = append(opts, client.WithBearer())
	}
	c, err := client.New(*baseURL, opts...)
	if err != nil {
		logger.Fatalf("client: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), o.wait+time.Minute)
	defer cancel()

	rep, err := run(ctx, c, o)
	if rep.session != nil {
		logger.Infof("burst: %d/%d ok in %s, refreshes=%d", rep.ok, o.concurrency, rep.elapsed.Round(time.Millisecond), rep.refreshes)
	}
	if err != nil {
		logger.Fatalf("%v", err)
	}
}
