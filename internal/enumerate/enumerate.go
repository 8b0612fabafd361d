// Package enumerate expands a CIDR range and port list into the ordered
// stream of probe targets a scan walks through. Expansion is lazy: a /8
// with a dozen ports is close to 200 million targets, so the iterator
// computes addresses on demand instead of materializing the list.
package enumerate

import (
	"encoding/binary"
	"fmt"
	"net"
	"sort"
	"sync"

	"github.com/Y0oshi/deepfocus/internal/errors"
)

// MinPrefixLen mirrors the configuration cap; ranges wider than a /8 are
// rejected at construction time as well so callers bypassing config
// validation still cannot enumerate the whole internet.
const MinPrefixLen = 8

// Target is a single (address, port) pair to probe.
type Target struct {
	IP   net.IP
	Port int
}

// String returns the dial address for the target.
func (t Target) String() string {
	return net.JoinHostPort(t.IP.String(), fmt.Sprintf("%d", t.Port))
}

// Iterator walks a CIDR x ports cross product in host-major order: every
// port of a host is yielded before the next host. All addresses in the
// block are included; the network and broadcast addresses are probed like
// any other since small subnets routinely assign them.
type Iterator struct {
	mu sync.Mutex

	base  uint32 // first address in the block
	count uint64 // number of addresses
	ports []int

	pos uint64 // next target index
}

// New builds an iterator over an IPv4 CIDR and a port list. The port list
// is deduplicated but its caller-given order is preserved, so probe
// priorities (well-known ports first) survive enumeration.
func New(cidr string, ports []int) (*Iterator, error) {
	ip, ipnet, err := net.ParseCIDR(cidr)
	if err != nil {
		return nil, errors.WrapRangeError(cidr, "invalid CIDR notation", err)
	}
	v4 := ip.To4()
	if v4 == nil {
		return nil, errors.NewRangeError(cidr, "only IPv4 ranges are supported")
	}
	ones, bits := ipnet.Mask.Size()
	if bits != 32 {
		return nil, errors.NewRangeError(cidr, "only IPv4 ranges are supported")
	}
	if ones < MinPrefixLen {
		return nil, errors.NewRangeError(cidr, fmt.Sprintf("range wider than /%d is not allowed", MinPrefixLen))
	}
	if len(ports) == 0 {
		return nil, errors.NewRangeError(cidr, "port list is empty")
	}

	seen := make(map[int]bool, len(ports))
	deduped := make([]int, 0, len(ports))
	for _, p := range ports {
		if p < 1 || p > 65535 {
			return nil, errors.NewRangeError(cidr, fmt.Sprintf("port %d out of range", p))
		}
		if !seen[p] {
			seen[p] = true
			deduped = append(deduped, p)
		}
	}

	base := binary.BigEndian.Uint32(ipnet.IP.To4())
	count := uint64(1) << uint(bits-ones)

	return &Iterator{
		base:  base,
		count: count,
		ports: deduped,
	}, nil
}

// Next returns the next target. ok is false once the range is exhausted.
// Safe for concurrent use; workers pull from a shared iterator.
func (it *Iterator) Next() (Target, bool) {
	it.mu.Lock()
	defer it.mu.Unlock()

	if it.pos >= it.total() {
		return Target{}, false
	}

	hostIdx := it.pos / uint64(len(it.ports))
	portIdx := it.pos % uint64(len(it.ports))
	it.pos++

	addr := it.base + uint32(hostIdx)
	ip := make(net.IP, 4)
	binary.BigEndian.PutUint32(ip, addr)

	return Target{IP: ip, Port: it.ports[portIdx]}, true
}

// Reset rewinds the iterator to the first target.
func (it *Iterator) Reset() {
	it.mu.Lock()
	it.pos = 0
	it.mu.Unlock()
}

// Total returns the number of targets in the range.
func (it *Iterator) Total() uint64 {
	return it.total()
}

// Remaining returns how many targets have not been yielded yet.
func (it *Iterator) Remaining() uint64 {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.total() - it.pos
}

// Hosts returns the number of addresses in the range.
func (it *Iterator) Hosts() uint64 {
	return it.count
}

// Ports returns a copy of the deduplicated port list.
func (it *Iterator) Ports() []int {
	out := make([]int, len(it.ports))
	copy(out, it.ports)
	return out
}

func (it *Iterator) total() uint64 {
	return it.count * uint64(len(it.ports))
}

// RestrictHosts narrows the iterator to the given addresses, keeping only
// hosts inside the original block. Used by the discovery prefilter to
// probe responsive hosts only. The surviving hosts are probed in address
// order. Returns a RestrictedIterator over the kept hosts crossed with
// the port list.
func (it *Iterator) RestrictHosts(alive []net.IP) *RestrictedIterator {
	inBlock := make([]uint32, 0, len(alive))
	for _, ip := range alive {
		v4 := ip.To4()
		if v4 == nil {
			continue
		}
		n := binary.BigEndian.Uint32(v4)
		if uint64(n)-uint64(it.base) < it.count {
			inBlock = append(inBlock, n)
		}
	}
	sort.Slice(inBlock, func(i, j int) bool { return inBlock[i] < inBlock[j] })

	return &RestrictedIterator{addrs: inBlock, ports: it.Ports()}
}

// RestrictedIterator walks an explicit host list crossed with the port
// list, in the same host-major order as Iterator.
type RestrictedIterator struct {
	mu    sync.Mutex
	addrs []uint32
	ports []int
	pos   uint64
}

// Next returns the next target from the restricted set.
func (r *RestrictedIterator) Next() (Target, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	total := uint64(len(r.addrs)) * uint64(len(r.ports))
	if r.pos >= total {
		return Target{}, false
	}
	hostIdx := r.pos / uint64(len(r.ports))
	portIdx := r.pos % uint64(len(r.ports))
	r.pos++

	ip := make(net.IP, 4)
	binary.BigEndian.PutUint32(ip, r.addrs[hostIdx])
	return Target{IP: ip, Port: r.ports[portIdx]}, true
}

// Total returns the number of targets in the restricted set.
func (r *RestrictedIterator) Total() uint64 {
	return uint64(len(r.addrs)) * uint64(len(r.ports))
}

// Remaining returns how many targets have not been yielded yet.
func (r *RestrictedIterator) Remaining() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Total() - r.pos
}

// Reset rewinds the restricted iterator.
func (r *RestrictedIterator) Reset() {
	r.mu.Lock()
	r.pos = 0
	r.mu.Unlock()
}

// Source is the target stream consumed by the scan engine. Both iterator
// flavors satisfy it.
type Source interface {
	Next() (Target, bool)
	Total() uint64
	Remaining() uint64
	Reset()
}
