package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/oblink/outbound-relay/api"
	"github.com/oblink/outbound-relay/metrics"
)

// ErrTimeout is returned when a relayed request exceeds the total request
// budget. The caller may retry; the relay itself never does.
var ErrTimeout = errors.New("relay request timed out")

// DefaultTimeout is the total per-request budget covering connection
// setup, TLS handshake, request write and response read.
const DefaultTimeout = 60 * time.Second

// maxRedirects matches the standard client redirect limit.
const maxRedirects = 10

// Relay forwards fully-described requests to third-party endpoints.
// Instances are safe for concurrent use; every call builds its own TLS
// configuration and connection.
type Relay struct {
	builder   *TLSBuilder
	formatter WireFormatter
	timeout   time.Duration
	log       *slog.Logger
}

// New creates a relay with the default wire formatter and timeout.
func New(builder *TLSBuilder, log *slog.Logger) *Relay {
	return &Relay{
		builder:   builder,
		formatter: Latin1Formatter{},
		timeout:   DefaultTimeout,
		log:       log,
	}
}

// WithTimeout returns a copy of the relay using the given total request
// budget.
func (r *Relay) WithTimeout(timeout time.Duration) *Relay {
	relay := *r
	relay.timeout = timeout
	return &relay
}

// Do relays one request and returns the normalized result.
//
// Response-level failures that still carry a status, message and headers
// are folded into the RelayResult; an error return means the request
// never produced anything resembling a response: configuration or
// certificate problems, header injection, timeout, connection failure.
func (r *Relay) Do(ctx context.Context, req *api.RelayRequest, followRedirects bool) (*api.RelayResult, error) {
	start := time.Now()
	defer func() {
		metrics.RelayDuration.Observe(time.Since(start).Seconds())
	}()

	tlsConfig, err := r.builder.Build(req.TLS)
	if err != nil {
		metrics.RelayRequests.WithLabelValues("error").Inc()
		return nil, err
	}

	targetURL, err := buildURL(req)
	if err != nil {
		metrics.RelayRequests.WithLabelValues("error").Inc()
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, targetURL, strings.NewReader(req.Body))
	if err != nil {
		metrics.RelayRequests.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	for name, value := range req.Headers {
		httpReq.Header.Set(name, value)
	}

	r.log.Debug("relaying request",
		slog.String("method", req.Method),
		slog.String("url", targetURL),
		slog.Bool("mtls", req.TLS != nil),
		slog.Bool("followRedirects", followRedirects))

	client := &http.Client{
		Transport: &Transport{TLSConfig: tlsConfig, Formatter: r.formatter},
	}
	if followRedirects {
		client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return &api.ResponseError{
					Status:  req.Response.StatusCode,
					Message: fmt.Sprintf("stopped after %d redirects", maxRedirects),
					Headers: headerList(req.Response.Header),
				}
			}
			return nil
		}
	} else {
		client.CheckRedirect = func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return r.normalizeError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return r.normalizeError(err)
	}

	if resp.Header.Get("Content-Type") == "application/octet-stream" {
		body = r.unwrapArchive(body)
	}

	metrics.RelayRequests.WithLabelValues(metrics.StatusClass(resp.StatusCode)).Inc()
	return &api.RelayResult{
		Status:   resp.StatusCode,
		Response: string(body),
		Headers:  headerList(resp.Header),
	}, nil
}

// normalizeError maps a transport failure either into a RelayResult (for
// response-level errors carrying status/message/headers) or into a
// distinct error for timeouts and everything else.
func (r *Relay) normalizeError(err error) (*api.RelayResult, error) {
	var respErr *api.ResponseError
	if errors.As(err, &respErr) {
		r.log.Debug("normalized response-level error",
			slog.Int("status", respErr.Status),
			slog.String("message", respErr.Message))
		metrics.RelayRequests.WithLabelValues("normalized").Inc()
		return &api.RelayResult{
			Status:   respErr.Status,
			Response: respErr.Message,
			Headers:  respErr.Headers,
		}, nil
	}

	metrics.RelayRequests.WithLabelValues("error").Inc()

	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return nil, fmt.Errorf("%w after %s", ErrTimeout, r.timeout)
	}
	return nil, fmt.Errorf("relay request failed: %w", err)
}

// buildURL composes origin + path + encoded query.
func buildURL(req *api.RelayRequest) (string, error) {
	raw := req.Origin + req.Path
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid request URL %q: %w", raw, err)
	}

	if len(req.Query) > 0 {
		values := u.Query()
		for name, value := range req.Query {
			values.Set(name, value)
		}
		u.RawQuery = values.Encode()
	}
	return u.String(), nil
}

// headerList flattens a header map into name/value pairs. Names are
// emitted in sorted order since Go's header map does not retain wire
// order across names; duplicate values of one name keep their received
// order.
func headerList(headers http.Header) []api.Header {
	names := make([]string, 0, len(headers))
	for name := range headers {
		names = append(names, name)
	}
	sort.Strings(names)

	list := make([]api.Header, 0, len(headers))
	for _, name := range names {
		for _, value := range headers[name] {
			list = append(list, api.Header{Name: name, Value: value})
		}
	}
	return list
}
