package probe

import (
	"context"
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"

	ztls "github.com/zmap/zcrypto/tls"

	"github.com/Y0oshi/deepfocus/internal/errors"
)

const httpUserAgent = "DeepFocus/1.0"

// maxHTTPRead caps how much of a response we pull; enough for the status
// line, headers and the page title.
const maxHTTPRead = 4096

var titleRe = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)

// HTTPResponse is the parsed slice of an HTTP exchange the probes care
// about. The fingerprint engine consumes it as evidence.
type HTTPResponse struct {
	StatusCode int
	StatusLine string
	Headers    map[string]string
	Body       string
	Title      string
}

// HTTPProber issues a minimal GET and classifies the endpoint from the
// status line, the Server header and the page title.
type HTTPProber struct{}

func (p *HTTPProber) Protocol() Protocol { return ProtocolHTTP }

func (p *HTTPProber) Probe(ctx context.Context, d *Dialer, target Target) (*Result, error) {
	conn, err := d.Dial(ctx, target)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	return httpExchange(d, conn, target, ProtocolHTTP)
}

// HTTPSProber wraps the connection in a lenient TLS client before the HTTP
// exchange. Embedded devices ship expired and self-signed certificates as
// a matter of course, so verification is disabled and legacy parameters
// are tolerated.
type HTTPSProber struct{}

func (p *HTTPSProber) Protocol() Protocol { return ProtocolHTTPS }

func (p *HTTPSProber) Probe(ctx context.Context, d *Dialer, target Target) (*Result, error) {
	raw, err := d.Dial(ctx, target)
	if err != nil {
		return nil, err
	}
	defer raw.Close()

	tlsConn := ztls.Client(raw, &ztls.Config{
		InsecureSkipVerify: true,
		MinVersion:         ztls.VersionSSL30,
	})
	d.step(raw)
	if err := tlsConn.Handshake(); err != nil {
		// not TLS; the dispatcher routes the port to the plaintext path
		return nil, errors.WrapProbeError(errors.CodeProtocolMismatch,
			"tls handshake failed", target.Addr(), err)
	}

	result, err := httpExchange(d, tlsConn, target, ProtocolHTTPS)
	if err != nil {
		return nil, err
	}

	// surface the certificate subject when the server presented one
	state := tlsConn.ConnectionState()
	if len(state.PeerCertificates) > 0 {
		cn := state.PeerCertificates[0].Subject.CommonName
		if cn != "" {
			result.Banner = result.Banner + " cert=" + cn
		}
	}
	return result, nil
}

func httpExchange(d *Dialer, conn net.Conn, target Target, proto Protocol) (*Result, error) {
	req := fmt.Sprintf("GET / HTTP/1.1\r\nHost: %s\r\nUser-Agent: %s\r\nConnection: close\r\n\r\n",
		target.IP.String(), httpUserAgent)
	if err := d.writeStep(conn, []byte(req)); err != nil {
		return nil, err
	}

	buf := make([]byte, maxHTTPRead)
	n, err := d.readStep(conn, buf)
	if err != nil {
		return nil, err
	}
	raw := string(buf[:n])

	resp, ok := ParseHTTPResponse(raw)
	if !ok {
		return nil, errors.ErrProtocolMismatch(target.Addr())
	}

	banner := resp.StatusLine
	if server := resp.Headers["server"]; server != "" {
		banner += " Server: " + server
	}
	if resp.Title != "" {
		banner += " Title: " + resp.Title
	}

	return &Result{
		Protocol: proto,
		Service:  string(proto),
		Banner:   banner,
		Auth:     httpAuthLabel(resp.StatusCode),
		HTTP:     resp,
	}, nil
}

func httpAuthLabel(status int) string {
	switch {
	case status == 401:
		return "Auth Required"
	case status == 403:
		return "Forbidden"
	case status >= 200 && status < 400:
		return "No Auth Required (OPEN)"
	default:
		return AuthUnknown
	}
}

// ParseHTTPResponse splits a raw response into status line, headers, body
// and title. ok is false when the payload is not HTTP at all.
func ParseHTTPResponse(raw string) (*HTTPResponse, bool) {
	if !strings.HasPrefix(raw, "HTTP/") {
		return nil, false
	}

	head := raw
	body := ""
	if idx := strings.Index(raw, "\r\n\r\n"); idx >= 0 {
		head = raw[:idx]
		body = raw[idx+4:]
	}

	lines := strings.Split(head, "\r\n")
	resp := &HTTPResponse{
		StatusLine: lines[0],
		Headers:    make(map[string]string),
		Body:       body,
	}

	fields := strings.SplitN(lines[0], " ", 3)
	if len(fields) >= 2 {
		if code, err := strconv.Atoi(fields[1]); err == nil {
			resp.StatusCode = code
		}
	}
	if resp.StatusCode == 0 {
		return nil, false
	}

	for _, line := range lines[1:] {
		if k, v, found := strings.Cut(line, ":"); found {
			resp.Headers[strings.ToLower(strings.TrimSpace(k))] = strings.TrimSpace(v)
		}
	}

	if m := titleRe.FindStringSubmatch(body); m != nil {
		resp.Title = strings.TrimSpace(m[1])
	}
	return resp, true
}
