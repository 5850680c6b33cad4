// Package probe performs per-tick service health checks.
package probe

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/adarena/engine/internal/model"
)

// Prober checks one service and reports UP (true) or DOWN (false).
// Injectable for testing, like the probe fetcher seam elsewhere in the tree.
type Prober func(ctx context.Context, c model.Container) bool

// New returns a Prober honoring the per-probe deadline. HTTP checks expect
// the template's declared status; TCP checks count a completed connection
// within the deadline as UP, anything else as DOWN.
func New(timeout time.Duration) Prober {
	client := &http.Client{
		// Redirects are not followed: the declared status is matched as-is.
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	return func(ctx context.Context, c model.Container) bool {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		switch c.HealthCheck.Kind {
		case model.HealthCheckTCP:
			return probeTCP(ctx, c)
		default:
			return probeHTTP(ctx, client, c)
		}
	}
}

func probeTCP(ctx context.Context, c model.Container) bool {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(c.Address, strconv.Itoa(c.Port)))
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

func probeHTTP(ctx context.Context, client *http.Client, c model.Container) bool {
	path := c.HealthCheck.Path
	if path == "" {
		path = "/"
	}
	url := fmt.Sprintf("http://%s%s", net.JoinHostPort(c.Address, strconv.Itoa(c.Port)), path)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	expected := c.HealthCheck.ExpectedStatus
	if expected == 0 {
		expected = http.StatusOK
	}
	return resp.StatusCode == expected
}
