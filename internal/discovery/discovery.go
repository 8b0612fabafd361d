// Package discovery runs an optional nmap ping sweep ahead of a scan so
// probe workers only visit hosts that answered. Large ranges full of dead
// addresses burn most of their time in connect timeouts; a ping pass
// trades one nmap invocation for all of them.
package discovery

import (
	"context"
	"net"
	"time"

	"github.com/Ullaakut/nmap/v3"

	"github.com/Y0oshi/deepfocus/internal/errors"
	"github.com/Y0oshi/deepfocus/internal/logging"
)

// Pinger finds responsive hosts in a CIDR range.
type Pinger struct {
	logger  *logging.Logger
	timeout time.Duration
}

// NewPinger builds a pinger with an overall sweep timeout.
func NewPinger(timeout time.Duration, logger *logging.Logger) *Pinger {
	if logger == nil {
		logger = logging.NewDefault().WithComponent("discovery")
	}
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &Pinger{logger: logger, timeout: timeout}
}

// Sweep ping-scans the range and returns the addresses that answered.
// Callers should treat a failure as "prefilter unavailable" and fall back
// to probing the whole range.
func (p *Pinger) Sweep(ctx context.Context, cidr string) ([]net.IP, error) {
	sweepCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	scanner, err := nmap.NewScanner(
		sweepCtx,
		nmap.WithTargets(cidr),
		nmap.WithPingScan(),
		nmap.WithTimingTemplate(nmap.TimingAggressive),
	)
	if err != nil {
		return nil, errors.WrapProbeError(errors.CodeIO, "failed to build ping sweep", cidr, err)
	}

	result, warnings, err := scanner.Run()
	if warnings != nil && len(*warnings) > 0 {
		p.logger.Warn("Ping sweep warnings", "warnings", *warnings)
	}
	if err != nil {
		return nil, errors.WrapProbeError(errors.CodeIO, "ping sweep failed", cidr, err)
	}

	alive := make([]net.IP, 0, len(result.Hosts))
	for _, host := range result.Hosts {
		if host.Status.State != "up" {
			continue
		}
		for _, addr := range host.Addresses {
			if ip := net.ParseIP(addr.Addr); ip != nil && ip.To4() != nil {
				alive = append(alive, ip)
				break
			}
		}
	}

	p.logger.Info("Ping sweep complete", "network", cidr, "alive", len(alive))
	return alive, nil
}
