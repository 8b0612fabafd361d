package probe

import (
	"context"
	"strings"

	"github.com/Y0oshi/deepfocus/internal/errors"
)

// SSHProber reads the version banner and classifies the device family.
// Passive only; no key exchange is started.
type SSHProber struct{}

func (p *SSHProber) Protocol() Protocol { return ProtocolSSH }

func (p *SSHProber) Probe(ctx context.Context, d *Dialer, target Target) (*Result, error) {
	conn, err := d.Dial(ctx, target)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	buf := make([]byte, 256)
	n, err := d.readStep(conn, buf)
	if err != nil {
		return nil, err
	}
	banner := strings.TrimSpace(string(buf[:n]))

	if !strings.HasPrefix(banner, "SSH-") {
		return nil, errors.ErrProtocolMismatch(target.Addr())
	}

	return &Result{
		Protocol: ProtocolSSH,
		Service:  "ssh",
		Banner:   banner,
		Auth:     AuthUnknown,
		Hostname: "",
		Vendor:   classifySSHDevice(banner),
	}, nil
}

// classifySSHDevice maps banner substrings to a device family. Dropbear is
// the strongest IoT signal; the vendor names pin router platforms.
func classifySSHDevice(banner string) string {
	b := strings.ToLower(banner)
	switch {
	case strings.Contains(b, "dropbear"):
		return "Dropbear (Embedded/IoT)"
	case strings.Contains(b, "cisco"):
		return "Cisco IOS"
	case strings.Contains(b, "mikrotik"):
		return "MikroTik Router"
	case strings.Contains(b, "openssh"):
		return "OpenSSH"
	default:
		return "SSH Service"
	}
}
