package probe

import (
	"context"
	"fmt"

	"github.com/Y0oshi/deepfocus/internal/errors"
)

// MQTTAllowed is recorded when a broker accepts a connect with no
// credentials at all.
const MQTTAllowed = "Access ALLOWED (No Auth)"

// mqttConnect is a complete MQTT 3.1.1 CONNECT packet: clean session,
// 60s keepalive, client id "test", no username or password.
var mqttConnect = []byte{
	0x10, 0x10, // CONNECT, remaining length 16
	0x00, 0x04, 'M', 'Q', 'T', 'T', // protocol name
	0x04,       // protocol level 4 (3.1.1)
	0x02,       // clean session
	0x00, 0x3c, // keepalive 60s
	0x00, 0x04, 't', 'e', 's', 't', // client id
}

// MQTTProber sends an anonymous CONNECT and reads the CONNACK return code
// to learn whether the broker requires credentials.
type MQTTProber struct{}

func (p *MQTTProber) Protocol() Protocol { return ProtocolMQTT }

func (p *MQTTProber) Probe(ctx context.Context, d *Dialer, target Target) (*Result, error) {
	conn, err := d.Dial(ctx, target)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if err := d.writeStep(conn, mqttConnect); err != nil {
		return nil, err
	}

	connack := make([]byte, 4)
	if err := d.readFullStep(conn, connack); err != nil {
		return nil, err
	}
	if connack[0] != 0x20 {
		return nil, errors.ErrProtocolMismatch(target.Addr())
	}

	auth := mqttConnackLabel(connack[3])

	return &Result{
		Protocol: ProtocolMQTT,
		Service:  "mqtt",
		Banner:   fmt.Sprintf("MQTT 3.1.1 CONNACK code %d", connack[3]),
		Auth:     auth,
	}, nil
}

func mqttConnackLabel(code byte) string {
	switch code {
	case 0x00:
		return MQTTAllowed
	case 0x01:
		return "Refused: Protocol Version"
	case 0x02:
		return "Refused: ID Rejected"
	case 0x03:
		return "Refused: Server Unavailable"
	case 0x04:
		return "Refused: Bad User/Pass"
	case 0x05:
		return "Refused: Not Authorized"
	default:
		return fmt.Sprintf("Refused: Code %d", code)
	}
}
