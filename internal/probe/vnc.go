package probe

import (
	"context"
	"fmt"
	"strings"

	"github.com/Y0oshi/deepfocus/internal/errors"
)

// VNC security-type labels keyed by the RFB type code. Classification uses
// the advertised codes, never banner text.
const (
	VNCAuthNone     = "None (OPEN)"
	VNCAuthPassword = "VNC Auth"
	VNCAuthTight    = "TightVNC"
	VNCAuthVeNCrypt = "VeNCrypt (TLS)"
)

// VNCProber performs the RFB 3.x handshake far enough to learn the
// advertised security types, then disconnects without authenticating.
type VNCProber struct{}

func (p *VNCProber) Protocol() Protocol { return ProtocolVNC }

func (p *VNCProber) Probe(ctx context.Context, d *Dialer, target Target) (*Result, error) {
	conn, err := d.Dial(ctx, target)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	// server leads with its 12-byte version string, e.g. "RFB 003.008\n"
	version := make([]byte, 12)
	if err := d.readFullStep(conn, version); err != nil {
		return nil, err
	}
	versionStr := strings.TrimSpace(string(version))
	if !strings.HasPrefix(versionStr, "RFB ") {
		return nil, errors.ErrProtocolMismatch(target.Addr())
	}

	// echo the version back to accept it
	if err := d.writeStep(conn, version); err != nil {
		return nil, err
	}

	// 3.7+ security negotiation: count byte then one code per type
	countBuf := make([]byte, 1)
	if err := d.readFullStep(conn, countBuf); err != nil {
		return nil, err
	}
	numTypes := int(countBuf[0])

	if numTypes == 0 {
		// server refused; a reason string follows
		reason := make([]byte, 100)
		n, _ := d.readStep(conn, reason)
		return &Result{
			Protocol: ProtocolVNC,
			Service:  "vnc",
			Banner:   fmt.Sprintf("%s (Connect Failed: %s)", versionStr, strings.TrimSpace(string(reason[:n]))),
			Auth:     AuthUnknown,
		}, nil
	}

	types := make([]byte, numTypes)
	if err := d.readFullStep(conn, types); err != nil {
		return nil, err
	}

	labels := make([]string, 0, numTypes)
	for _, t := range types {
		labels = append(labels, vncSecurityLabel(t))
	}

	return &Result{
		Protocol: ProtocolVNC,
		Service:  "vnc",
		Banner:   versionStr,
		Auth:     strings.Join(labels, ", "),
	}, nil
}

func vncSecurityLabel(code byte) string {
	switch code {
	case 1:
		return VNCAuthNone
	case 2:
		return VNCAuthPassword
	case 16:
		return VNCAuthTight
	case 19:
		return VNCAuthVeNCrypt
	default:
		return fmt.Sprintf("Type(%d)", code)
	}
}
