// Package probe implements the protocol handshakes deepfocus speaks when a
// port answers. Each prober performs the smallest exchange that yields a
// service name, a banner and an authentication posture, then disconnects.
// Probers never authenticate with real credentials; the anonymous FTP login
// and the MQTT empty-credential connect are the only login attempts made,
// both with well-known throwaway identities.
package probe

import (
	"bufio"
	"context"
	"net"
	"strconv"
	"strings"
	"syscall"
	"time"
	"unicode"

	stderrors "errors"

	"github.com/Y0oshi/deepfocus/internal/errors"
)

// Protocol identifies the service family a prober speaks.
type Protocol string

const (
	ProtocolHTTP    Protocol = "http"
	ProtocolHTTPS   Protocol = "https"
	ProtocolSSH     Protocol = "ssh"
	ProtocolFTP     Protocol = "ftp"
	ProtocolVNC     Protocol = "vnc"
	ProtocolRTSP    Protocol = "rtsp"
	ProtocolRDP     Protocol = "rdp"
	ProtocolTelnet  Protocol = "telnet"
	ProtocolMQTT    Protocol = "mqtt"
	ProtocolSNMP    Protocol = "snmp"
	ProtocolUnknown Protocol = "unknown"
)

// Service states recorded in the result store.
const (
	StateOpen        = "open"
	StateUnreachable = "unreachable"
	StateUnknown     = "unknown"
)

// AuthUnknown is recorded when a probe cannot determine the
// authentication posture.
const AuthUnknown = "Unknown"

// Target is the endpoint a prober is pointed at.
type Target struct {
	IP   net.IP
	Port int
}

// Addr returns the dial address.
func (t Target) Addr() string {
	return net.JoinHostPort(t.IP.String(), strconv.Itoa(t.Port))
}

// Result is the outcome of a successful probe.
type Result struct {
	IP       string        `json:"ip" db:"ip"`
	Port     int           `json:"port" db:"port"`
	Protocol Protocol      `json:"protocol" db:"protocol"`
	Service  string        `json:"service" db:"service"`
	Banner   string        `json:"banner" db:"banner"`
	Auth     string        `json:"auth" db:"auth"`
	State    string        `json:"state" db:"state"`
	Vendor   string        `json:"vendor,omitempty" db:"vendor"`
	Hostname string        `json:"hostname,omitempty" db:"hostname"`
	RTT      time.Duration `json:"rtt" db:"rtt"`
	SeenAt   time.Time     `json:"seen_at" db:"seen_at"`

	// HTTP carries the parsed response for fingerprinting; not persisted.
	HTTP *HTTPResponse `json:"-" db:"-"`
}

// Prober performs one protocol handshake against a target.
type Prober interface {
	// Protocol names the family this prober speaks.
	Protocol() Protocol

	// Probe dials the target and runs the handshake. A nil result with a
	// CodeProtocolMismatch error tells the dispatcher to try the next
	// prober for the port.
	Probe(ctx context.Context, d *Dialer, target Target) (*Result, error)
}

// Dialer dials targets with the configured step budget and converts dial
// failures into the typed errors the engine dispatches on.
type Dialer struct {
	// StepTimeout bounds each connect, read or write within a handshake.
	StepTimeout time.Duration

	// TotalTimeout bounds the whole probe; set as the connection deadline
	// ceiling so a slow-drip server cannot hold a worker.
	TotalTimeout time.Duration
}

// NewDialer returns a dialer with the given budgets.
func NewDialer(step, total time.Duration) *Dialer {
	return &Dialer{StepTimeout: step, TotalTimeout: total}
}

// Dial opens a TCP connection to the target. Refusals and timeouts come
// back as typed probe errors.
func (d *Dialer) Dial(ctx context.Context, target Target) (net.Conn, error) {
	return d.DialNet(ctx, "tcp", target)
}

// DialNet opens a connection on the given network.
func (d *Dialer) DialNet(ctx context.Context, network string, target Target) (net.Conn, error) {
	nd := net.Dialer{Timeout: d.StepTimeout}
	conn, err := nd.DialContext(ctx, network, target.Addr())
	if err != nil {
		return nil, classifyDialError(target.Addr(), err)
	}
	// hard ceiling for the whole exchange
	_ = conn.SetDeadline(time.Now().Add(d.TotalTimeout))
	return conn, nil
}

func classifyDialError(addr string, err error) error {
	if stderrors.Is(err, syscall.ECONNREFUSED) {
		return errors.ErrRefused(addr, err)
	}
	var nerr net.Error
	if stderrors.As(err, &nerr) && nerr.Timeout() {
		return errors.ErrProbeTimeout(addr, err)
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return errors.ErrProbeTimeout(addr, err)
	}
	return errors.ErrProbeIO(addr, err)
}

// step arms the per-step deadline on a live connection.
func (d *Dialer) step(conn net.Conn) {
	_ = conn.SetDeadline(time.Now().Add(d.StepTimeout))
}

// writeStep writes the full buffer under a step deadline.
func (d *Dialer) writeStep(conn net.Conn, buf []byte) error {
	d.step(conn)
	if _, err := conn.Write(buf); err != nil {
		return classifyDialError(conn.RemoteAddr().String(), err)
	}
	return nil
}

// readStep reads up to len(buf) bytes under a step deadline.
func (d *Dialer) readStep(conn net.Conn, buf []byte) (int, error) {
	d.step(conn)
	n, err := conn.Read(buf)
	if err != nil && n == 0 {
		return 0, classifyDialError(conn.RemoteAddr().String(), err)
	}
	return n, nil
}

// readLineStep reads one CRLF-terminated line under a step deadline.
func (d *Dialer) readLineStep(conn net.Conn, r *bufio.Reader) (string, error) {
	d.step(conn)
	line, err := r.ReadString('\n')
	if err != nil && line == "" {
		return "", classifyDialError(conn.RemoteAddr().String(), err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// readFullStep reads exactly len(buf) bytes under a step deadline.
func (d *Dialer) readFullStep(conn net.Conn, buf []byte) error {
	d.step(conn)
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		if err != nil {
			return classifyDialError(conn.RemoteAddr().String(), err)
		}
		total += n
	}
	return nil
}

// Dispatcher maps ports to prober priority lists and runs the first prober
// that recognizes the service.
type Dispatcher struct {
	byPort   map[int][]Prober
	fallback []Prober
}

// NewDispatcher builds the standard dispatch table. Well-known ports try
// their native protocol first; everything falls back to a generic banner
// grab so unfamiliar services still get recorded.
func NewDispatcher() *Dispatcher {
	httpP := &HTTPProber{}
	httpsP := &HTTPSProber{}
	sshP := &SSHProber{}
	ftpP := &FTPProber{}
	vncP := &VNCProber{}
	rtspP := &RTSPProber{}
	rdpP := &RDPProber{}
	telnetP := &TelnetProber{}
	mqttP := &MQTTProber{}
	snmpP := &SNMPProber{}
	genericP := &GenericProber{}

	return &Dispatcher{
		byPort: map[int][]Prober{
			80:   {httpP},
			8080: {httpP},
			8000: {httpP},
			8888: {httpP},
			// a failed TLS handshake falls through to the plaintext prober
			// so HTTP servers parked on TLS ports still classify
			443:  {httpsP, httpP},
			8443: {httpsP, httpP},
			22:   {sshP},
			2222: {sshP},
			21:   {ftpP},
			23:   {telnetP},
			5900: {vncP},
			5901: {vncP},
			554:  {rtspP},
			8554: {rtspP},
			3389: {rdpP},
			1883: {mqttP},
			161:  {snmpP},
		},
		fallback: []Prober{genericP},
	}
}

// ProbersFor returns the prober priority list for a port.
func (disp *Dispatcher) ProbersFor(port int) []Prober {
	if probers, ok := disp.byPort[port]; ok {
		return append(append([]Prober(nil), probers...), disp.fallback...)
	}
	return disp.fallback
}

// Run probes a target, trying each prober for the port until one produces
// a classification. A protocol mismatch falls through to the next prober;
// refusals and timeouts abort immediately since further attempts would
// fail the same way.
func (disp *Dispatcher) Run(ctx context.Context, d *Dialer, target Target) (*Result, error) {
	start := time.Now()
	var lastErr error

	for _, p := range disp.ProbersFor(target.Port) {
		if err := ctx.Err(); err != nil {
			return nil, errors.WrapProbeError(errors.CodeCanceled, "probe canceled", target.Addr(), err)
		}

		result, err := p.Probe(ctx, d, target)
		if err == nil && result != nil {
			result.IP = target.IP.String()
			result.Port = target.Port
			result.RTT = time.Since(start)
			result.SeenAt = time.Now().UTC()
			if result.State == "" {
				result.State = StateOpen
			}
			if result.Auth == "" {
				result.Auth = AuthUnknown
			}
			result.Banner = SanitizeBanner(result.Banner)
			return result, nil
		}

		if errors.IsCode(err, errors.CodeProtocolMismatch) {
			lastErr = err
			continue
		}
		return nil, err
	}

	// every prober including the generic one refused to classify
	if lastErr == nil {
		lastErr = errors.ErrProtocolMismatch(target.Addr())
	}
	return nil, lastErr
}

// SanitizeBanner normalizes a raw banner for storage: control characters
// and newlines become spaces, runs of whitespace collapse, and the result
// is trimmed. Length truncation happens at export time.
func SanitizeBanner(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	lastSpace := false
	for _, r := range s {
		if r == '\r' || r == '\n' || r == '\t' || unicode.IsControl(r) || !unicode.IsPrint(r) {
			r = ' '
		}
		if r == ' ' {
			if lastSpace {
				continue
			}
			lastSpace = true
		} else {
			lastSpace = false
		}
		b.WriteRune(r)
	}
	return strings.TrimSpace(b.String())
}
