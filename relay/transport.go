package relay

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/oblink/outbound-relay/api"
)

// bodyMethods are the methods that get a default Content-Type when the
// caller did not set one.
var bodyMethods = map[string]bool{
	http.MethodPost:  true,
	http.MethodPut:   true,
	http.MethodPatch: true,
}

// Transport is an http.RoundTripper that writes the request line and
// headers through a WireFormatter instead of the standard serializer.
// Each round trip dials a fresh connection; there is no pooling, matching
// the one-shot nature of relayed calls.
type Transport struct {
	// TLSConfig is used for https destinations. Required for https.
	TLSConfig *tls.Config

	// Formatter serializes the status line and headers.
	Formatter WireFormatter

	// ViaProxy marks the request as sent through a forward proxy, which
	// switches non-TLS requests to absolute-form targets.
	ViaProxy bool

	// Dialer overrides the default dialer, mainly for tests.
	Dialer *net.Dialer
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()

	dialer := t.Dialer
	if dialer == nil {
		dialer = &net.Dialer{}
	}

	conn, err := dialer.DialContext(ctx, "tcp", canonicalAddr(req))
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", canonicalAddr(req), err)
	}

	if req.URL.Scheme == "https" {
		cfg := t.TLSConfig.Clone()
		if cfg.ServerName == "" {
			cfg.ServerName = req.URL.Hostname()
		}
		tlsConn := tls.Client(conn, cfg)
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			conn.Close()
			return nil, fmt.Errorf("TLS handshake with %s: %w", req.URL.Host, err)
		}
		conn = tlsConn
	}

	// Abort in-flight I/O promptly when the surrounding call is
	// cancelled or times out.
	stopWatch := context.AfterFunc(ctx, func() {
		conn.Close()
	})

	// A cancelled context closes the connection under us, so any I/O
	// error that follows is really the context's.
	fail := func(err error) (*http.Response, error) {
		stopWatch()
		conn.Close()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, err
	}

	target := t.Formatter.RequestTarget(req, t.ViaProxy)
	statusLine := fmt.Sprintf("%s %s HTTP/1.1", req.Method, target)

	var head bytes.Buffer
	if err := t.Formatter.AppendHeaders(&head, statusLine, wireHeaders(req)); err != nil {
		return fail(err)
	}
	if _, err := conn.Write(head.Bytes()); err != nil {
		return fail(fmt.Errorf("write request headers: %w", err))
	}

	if req.Body != nil {
		if _, err := io.Copy(conn, req.Body); err != nil {
			req.Body.Close()
			return fail(fmt.Errorf("write request body: %w", err))
		}
		req.Body.Close()
	}

	resp, err := http.ReadResponse(bufio.NewReader(conn), req)
	if err != nil {
		return fail(&api.ResponseError{Message: fmt.Sprintf("malformed response from %s: %v", req.URL.Host, err)})
	}

	resp.Body = &bodyCloser{ReadCloser: resp.Body, conn: conn, stopWatch: stopWatch}
	return resp, nil
}

// wireHeaders assembles the header block to serialize: the caller's
// headers plus Host, Content-Length and default Content-Type framing.
func wireHeaders(req *http.Request) http.Header {
	headers := req.Header.Clone()
	if headers == nil {
		headers = make(http.Header)
	}

	if headers.Get("Host") == "" {
		host := req.Host
		if host == "" {
			host = req.URL.Host
		}
		headers.Set("Host", host)
	}

	if req.ContentLength > 0 || (req.Body != nil && bodyMethods[req.Method]) {
		headers.Set("Content-Length", strconv.FormatInt(req.ContentLength, 10))
	}

	if bodyMethods[req.Method] && headers.Get("Content-Type") == "" {
		headers.Set("Content-Type", "application/octet-stream")
	}

	// HTTP/1.1 defaults to keep-alive, so no Connection header is
	// emitted unless the request asks for close.
	if req.Close && headers.Get("Connection") == "" {
		headers.Set("Connection", "close")
	}

	return headers
}

// canonicalAddr returns host:port of the request URL with the port
// defaulted from the scheme.
func canonicalAddr(req *http.Request) string {
	host := req.URL.Hostname()
	port := req.URL.Port()
	if port == "" {
		if req.URL.Scheme == "https" {
			port = "443"
		} else {
			port = "80"
		}
	}
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	return host + ":" + port
}

// bodyCloser closes the underlying connection together with the response
// body and releases the context watcher.
type bodyCloser struct {
	io.ReadCloser
	conn      net.Conn
	stopWatch func() bool
}

func (b *bodyCloser) Close() error {
	b.stopWatch()
	err := b.ReadCloser.Close()
	if cerr := b.conn.Close(); err == nil {
		err = cerr
	}
	return err
}
