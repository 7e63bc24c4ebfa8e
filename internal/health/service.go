package health

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// ServiceChecker checks liveness of local services
type ServiceChecker struct {
	client *retryablehttp.Client
	host   string
}

// NewServiceChecker creates a checker against host with a per-attempt timeout
func NewServiceChecker(host string, timeout time.Duration) *ServiceChecker {
	client := retryablehttp.NewClient()
	client.RetryMax = 2
	client.RetryWaitMin = 200 * time.Millisecond
	client.RetryWaitMax = time.Second
	client.Logger = nil
	client.HTTPClient.Timeout = timeout

	if host == "" {
		host = "localhost"
	}
	return &ServiceChecker{client: client, host: host}
}

// CheckService reports whether GET http://host:port/endpoint answers 200
func (c *ServiceChecker) CheckService(ctx context.Context, port int, endpoint string) bool {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, c.url(port, endpoint), nil)
	if err != nil {
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// CheckPort reports whether a TCP connection to host:port can be opened
func (c *ServiceChecker) CheckPort(ctx context.Context, port int) bool {
	dialer := net.Dialer{Timeout: c.client.HTTPClient.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(c.host, strconv.Itoa(port)))
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

func (c *ServiceChecker) url(port int, endpoint string) string {
	if !strings.HasPrefix(endpoint, "/") {
		endpoint = "/" + endpoint
	}
	return fmt.Sprintf("http://%s%s", net.JoinHostPort(c.host, strconv.Itoa(port)), endpoint)
}
