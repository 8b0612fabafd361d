package probe

import (
	"context"
	"encoding/binary"

	"github.com/Y0oshi/deepfocus/internal/errors"
)

// RDPProber sends an X.224 Connection Request and reads the Connection
// Confirm. Identification stops at the transport layer; no credential or
// CredSSP negotiation is attempted.
type RDPProber struct{}

func (p *RDPProber) Protocol() Protocol { return ProtocolRDP }

// x224ConnectionRequest is a minimal TPKT-framed CR TPDU with an RDP
// negotiation request asking for standard security.
var x224ConnectionRequest = []byte{
	0x03, 0x00, 0x00, 0x13, // TPKT header, length 19
	0x0e, 0xe0, 0x00, 0x00, 0x00, 0x00, 0x00, // X.224 CR
	0x01, 0x00, 0x08, 0x00, 0x00, 0x00, 0x00, 0x00, // RDP_NEG_REQ
}

func (p *RDPProber) Probe(ctx context.Context, d *Dialer, target Target) (*Result, error) {
	conn, err := d.Dial(ctx, target)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if err := d.writeStep(conn, x224ConnectionRequest); err != nil {
		return nil, err
	}

	header := make([]byte, 4)
	if err := d.readFullStep(conn, header); err != nil {
		return nil, err
	}
	// TPKT version byte
	if header[0] != 0x03 {
		return nil, errors.ErrProtocolMismatch(target.Addr())
	}
	length := int(binary.BigEndian.Uint16(header[2:4]))
	if length < 7 || length > 512 {
		return nil, errors.ErrProtocolMismatch(target.Addr())
	}

	rest := make([]byte, length-4)
	if err := d.readFullStep(conn, rest); err != nil {
		return nil, err
	}
	// X.224 CC TPDU code in the upper nibble
	if len(rest) < 2 || rest[1]&0xf0 != 0xd0 {
		return nil, errors.ErrProtocolMismatch(target.Addr())
	}

	banner := "X.224 Connection Confirm"
	if proto := rdpSelectedProtocol(rest); proto != "" {
		banner += " (" + proto + ")"
	}

	return &Result{
		Protocol: ProtocolRDP,
		Service:  "rdp",
		Banner:   banner,
		Auth:     AuthUnknown,
	}, nil
}

// rdpSelectedProtocol decodes the RDP_NEG_RSP appended to the CC TPDU when
// the server answers the negotiation request.
func rdpSelectedProtocol(cc []byte) string {
	// CC TPDU is 7 bytes; negotiation response is 8 more
	if len(cc) < 15 || cc[7] != 0x02 {
		return ""
	}
	switch binary.LittleEndian.Uint32(cc[11:15]) {
	case 0:
		return "Standard RDP Security"
	case 1:
		return "TLS"
	case 2:
		return "CredSSP/NLA"
	case 8:
		return "CredSSP with Early User Auth"
	default:
		return ""
	}
}
