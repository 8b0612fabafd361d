package scan

import (
	"context"
	"net"
	"strings"
	"sync"

	"github.com/miekg/dns"
)

// Resolver answers PTR lookups for hosts with live services. Lookups are
// best effort: failures leave the hostname empty and never fail a probe.
// Answers are cached per scan since a host usually exposes several ports.
type Resolver struct {
	client *dns.Client
	server string

	mu    sync.Mutex
	cache map[string]string
}

// NewResolver builds a resolver against the given DNS server (host:port).
func NewResolver(server string) *Resolver {
	return &Resolver{
		client: new(dns.Client),
		server: server,
		cache:  make(map[string]string),
	}
}

// Reverse resolves the PTR name for an address, or "" when the host has
// no reverse record.
func (r *Resolver) Reverse(ctx context.Context, ip net.IP) string {
	key := ip.String()

	r.mu.Lock()
	if name, ok := r.cache[key]; ok {
		r.mu.Unlock()
		return name
	}
	r.mu.Unlock()

	name := r.lookup(ctx, key)

	r.mu.Lock()
	r.cache[key] = name
	r.mu.Unlock()
	return name
}

func (r *Resolver) lookup(ctx context.Context, addr string) string {
	arpa, err := dns.ReverseAddr(addr)
	if err != nil {
		return ""
	}

	msg := new(dns.Msg)
	msg.SetQuestion(arpa, dns.TypePTR)
	msg.RecursionDesired = true

	resp, _, err := r.client.ExchangeContext(ctx, msg, r.server)
	if err != nil || resp == nil || resp.Rcode != dns.RcodeSuccess {
		return ""
	}

	for _, ans := range resp.Answer {
		if ptr, ok := ans.(*dns.PTR); ok {
			return strings.TrimSuffix(ptr.Ptr, ".")
		}
	}
	return ""
}
