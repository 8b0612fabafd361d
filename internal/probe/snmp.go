package probe

import (
	"context"
	"fmt"

	"github.com/gosnmp/gosnmp"

	"github.com/Y0oshi/deepfocus/internal/errors"
)

// SNMPOpen is recorded when a device answers the default read community.
const SNMPOpen = "Community 'public' (OPEN)"

const oidSysDescr = "1.3.6.1.2.1.1.1.0"

// SNMPProber asks for sysDescr with the default "public" community over
// UDP. A reply means the device leaks its identity to anyone; silence is
// treated as no service since UDP gives no refusal signal.
type SNMPProber struct {
	// Community overrides the default read community when set.
	Community string
}

func (p *SNMPProber) Protocol() Protocol { return ProtocolSNMP }

func (p *SNMPProber) Probe(ctx context.Context, d *Dialer, target Target) (*Result, error) {
	community := p.Community
	if community == "" {
		community = "public"
	}

	client := &gosnmp.GoSNMP{
		Target:    target.IP.String(),
		Port:      uint16(target.Port),
		Community: community,
		Version:   gosnmp.Version2c,
		Timeout:   d.StepTimeout,
		Retries:   0,
		Context:   ctx,
	}

	if err := client.Connect(); err != nil {
		return nil, errors.ErrProbeIO(target.Addr(), err)
	}
	defer client.Conn.Close()

	packet, err := client.Get([]string{oidSysDescr})
	if err != nil {
		// no answer on UDP; nothing to record
		return nil, errors.ErrProbeTimeout(target.Addr(), err)
	}

	banner := ""
	for _, v := range packet.Variables {
		if v.Type == gosnmp.OctetString {
			if b, ok := v.Value.([]byte); ok {
				banner = string(b)
			}
		}
	}
	if banner == "" {
		banner = fmt.Sprintf("SNMP v2c reply (%d variables)", len(packet.Variables))
	}

	return &Result{
		Protocol: ProtocolSNMP,
		Service:  "snmp",
		Banner:   banner,
		Auth:     SNMPOpen,
	}, nil
}
