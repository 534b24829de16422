package relay

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"strings"
)

// ErrHeaderInjection is returned when a header name or value contains a
// carriage return or line feed. Requests failing this check are never
// sent.
var ErrHeaderInjection = errors.New("newline or carriage return detected in headers, potential header injection attack")

// WireFormatter composes the request target and serializes the status
// line and headers for one outbound request. It is pluggable so the
// transport stays independent of the exact header encoding.
type WireFormatter interface {
	// RequestTarget returns the request-target for the status line,
	// following forward-proxy rules: authority form for CONNECT,
	// absolute form for requests sent through a non-TLS forward proxy,
	// origin form otherwise.
	RequestTarget(req *http.Request, viaProxy bool) string

	// AppendHeaders writes the status line and header block, terminated
	// by an empty line, into buf.
	AppendHeaders(buf *bytes.Buffer, statusLine string, headers http.Header) error
}

// Latin1Formatter serializes headers as Latin-1, one byte per character,
// with a strict CR/LF injection guard. Header values are deliberately not
// UTF-8 encoded.
type Latin1Formatter struct{}

// RequestTarget implements WireFormatter.
func (Latin1Formatter) RequestTarget(req *http.Request, viaProxy bool) string {
	if req.Method == http.MethodConnect {
		host := req.URL.Hostname()
		if ip := net.ParseIP(host); ip != nil && ip.To4() == nil {
			host = "[" + host + "]"
		}
		return host + ":" + urlPort(req)
	}

	if viaProxy && req.URL.Scheme != "https" {
		return req.URL.String()
	}

	target := req.URL.EscapedPath()
	if target == "" {
		target = "/"
	}
	if req.URL.RawQuery != "" {
		target += "?" + req.URL.RawQuery
	}
	return target
}

// AppendHeaders implements WireFormatter. Header names are emitted in
// sorted order with all values of a name kept in insertion order.
func (Latin1Formatter) AppendHeaders(buf *bytes.Buffer, statusLine string, headers http.Header) error {
	if err := writeLatin1(buf, statusLine); err != nil {
		return err
	}
	buf.WriteString("\r\n")

	names := make([]string, 0, len(headers))
	for name := range headers {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if err := safeHeader(name); err != nil {
			return err
		}
		for _, value := range headers[name] {
			if err := safeHeader(value); err != nil {
				return err
			}
			if err := writeLatin1(buf, name+": "+value); err != nil {
				return err
			}
			buf.WriteString("\r\n")
		}
	}
	buf.WriteString("\r\n")
	return nil
}

// safeHeader rejects strings containing CR or LF.
func safeHeader(s string) error {
	if strings.ContainsAny(s, "\r\n") {
		return fmt.Errorf("%w: %q", ErrHeaderInjection, s)
	}
	return nil
}

// writeLatin1 writes s one byte per rune. Runes above U+00FF cannot be
// represented and are an error.
func writeLatin1(buf *bytes.Buffer, s string) error {
	for _, r := range s {
		if r > 0xFF {
			return fmt.Errorf("header line not latin-1 encodable: %q", s)
		}
		buf.WriteByte(byte(r))
	}
	return nil
}

// urlPort returns the port of the request URL, defaulting from the scheme.
func urlPort(req *http.Request) string {
	if port := req.URL.Port(); port != "" {
		return port
	}
	if req.URL.Scheme == "https" {
		return "443"
	}
	return "80"
}
