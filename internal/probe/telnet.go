package probe

import (
	"context"
)

// TelnetProber grabs the login banner. Many routers and IoT devices dump a
// prompt immediately; IAC negotiation bytes are stripped by the banner
// sanitizer rather than answered.
type TelnetProber struct{}

func (p *TelnetProber) Protocol() Protocol { return ProtocolTelnet }

func (p *TelnetProber) Probe(ctx context.Context, d *Dialer, target Target) (*Result, error) {
	conn, err := d.Dial(ctx, target)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	buf := make([]byte, 1024)
	n, err := d.readStep(conn, buf)
	if err != nil {
		return nil, err
	}

	return &Result{
		Protocol: ProtocolTelnet,
		Service:  "telnet",
		Banner:   stripNonASCII(string(buf[:n])),
		Auth:     AuthUnknown,
	}, nil
}

// stripNonASCII keeps printable ASCII only, dropping telnet IAC sequences
// and terminal control bytes.
func stripNonASCII(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x20 && s[i] <= 0x7e {
			out = append(out, s[i])
		}
	}
	return string(out)
}
