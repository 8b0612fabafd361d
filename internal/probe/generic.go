package probe

import (
	"context"
)

// GenericProber is the fallback for ports with no native handler: confirm
// the port accepts connections and grab whatever greeting it volunteers.
// A silent server is still an open service.
type GenericProber struct{}

func (p *GenericProber) Protocol() Protocol { return ProtocolUnknown }

func (p *GenericProber) Probe(ctx context.Context, d *Dialer, target Target) (*Result, error) {
	conn, err := d.Dial(ctx, target)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	banner := ""
	buf := make([]byte, 1024)
	if n, err := d.readStep(conn, buf); err == nil && n > 0 {
		banner = string(buf[:n])
	}

	return &Result{
		Protocol: ProtocolUnknown,
		Service:  "tcp",
		Banner:   banner,
		Auth:     AuthUnknown,
	}, nil
}
