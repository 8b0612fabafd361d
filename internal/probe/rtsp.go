package probe

import (
	"context"
	"fmt"
	"strings"

	"github.com/Y0oshi/deepfocus/internal/errors"
)

// RTSP auth posture labels.
const (
	RTSPOpen      = "No Auth Required (OPEN)"
	RTSPAuth      = "Auth Required"
	RTSPForbidden = "Forbidden"
)

// cameraVendors are matched case-insensitively against the whole response.
var cameraVendors = []string{
	"hikvision", "dahua", "axis", "foscam", "amcrest", "reolink", "ubiquiti",
}

// RTSPProber sends an OPTIONS request and classifies the camera by status
// code and vendor substrings in the response.
type RTSPProber struct{}

func (p *RTSPProber) Protocol() Protocol { return ProtocolRTSP }

func (p *RTSPProber) Probe(ctx context.Context, d *Dialer, target Target) (*Result, error) {
	conn, err := d.Dial(ctx, target)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	req := fmt.Sprintf("OPTIONS rtsp://%s/ RTSP/1.0\r\nCSeq: 1\r\nUser-Agent: DeepFocus\r\n\r\n", target.Addr())
	if err := d.writeStep(conn, []byte(req)); err != nil {
		return nil, err
	}

	buf := make([]byte, 1024)
	n, err := d.readStep(conn, buf)
	if err != nil {
		return nil, err
	}
	response := string(buf[:n])

	if !strings.Contains(response, "RTSP/1.0") {
		return nil, errors.ErrProtocolMismatch(target.Addr())
	}

	auth := AuthUnknown
	switch {
	case strings.Contains(response, "RTSP/1.0 200"):
		auth = RTSPOpen
	case strings.Contains(response, "RTSP/1.0 401"):
		auth = RTSPAuth
	case strings.Contains(response, "RTSP/1.0 403"):
		auth = RTSPForbidden
	}

	vendor := "RTSP Camera"
	lower := strings.ToLower(response)
	for _, brand := range cameraVendors {
		if strings.Contains(lower, brand) {
			vendor = strings.ToUpper(brand[:1]) + brand[1:]
			break
		}
	}

	return &Result{
		Protocol: ProtocolRTSP,
		Service:  "rtsp",
		Banner:   vendor,
		Vendor:   vendor,
		Auth:     auth,
	}, nil
}
