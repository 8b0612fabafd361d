package enumerate

import (
	"net"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Y0oshi/deepfocus/internal/errors"
)

func collect(it Source) []Target {
	var out []Target
	for {
		t, ok := it.Next()
		if !ok {
			return out
		}
		out = append(out, t)
	}
}

func TestNewRejectsBadRanges(t *testing.T) {
	tests := []struct {
		name  string
		cidr  string
		ports []int
	}{
		{"garbage", "not-a-range", []int{80}},
		{"bare ip", "10.0.0.1", []int{80}},
		{"ipv6", "2001:db8::/64", []int{80}},
		{"wider than /8", "0.0.0.0/4", []int{80}},
		{"empty ports", "10.0.0.0/24", nil},
		{"port zero", "10.0.0.0/24", []int{0}},
		{"port too high", "10.0.0.0/24", []int{80, 70000}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cidr, tt.ports)
			require.Error(t, err)
			var rerr *errors.RangeError
			assert.ErrorAs(t, err, &rerr)
		})
	}
}

func TestIteratorOrder(t *testing.T) {
	it, err := New("192.168.5.0/30", []int{80, 22})
	require.NoError(t, err)

	targets := collect(it)
	require.Len(t, targets, 8)

	// host-major: both ports of .0 before .1
	assert.Equal(t, "192.168.5.0", targets[0].IP.String())
	assert.Equal(t, 80, targets[0].Port)
	assert.Equal(t, "192.168.5.0", targets[1].IP.String())
	assert.Equal(t, 22, targets[1].Port)
	assert.Equal(t, "192.168.5.1", targets[2].IP.String())

	// network and broadcast addresses are included
	assert.Equal(t, "192.168.5.3", targets[7].IP.String())
}

func TestIteratorCountsAndReset(t *testing.T) {
	it, err := New("10.1.0.0/28", []int{80, 443, 22})
	require.NoError(t, err)

	assert.Equal(t, uint64(16), it.Hosts())
	assert.Equal(t, uint64(48), it.Total())
	assert.Equal(t, uint64(48), it.Remaining())

	_, ok := it.Next()
	require.True(t, ok)
	assert.Equal(t, uint64(47), it.Remaining())

	it.Reset()
	assert.Equal(t, uint64(48), it.Remaining())
	assert.Len(t, collect(it), 48)
}

func TestPortDeduplicationPreservesOrder(t *testing.T) {
	it, err := New("10.0.0.0/32", []int{443, 80, 443, 22, 80})
	require.NoError(t, err)

	assert.Equal(t, []int{443, 80, 22}, it.Ports())
	assert.Equal(t, uint64(3), it.Total())
}

func TestSingleHostRange(t *testing.T) {
	it, err := New("172.16.3.7/32", []int{5900})
	require.NoError(t, err)

	targets := collect(it)
	require.Len(t, targets, 1)
	assert.Equal(t, "172.16.3.7:5900", targets[0].String())
}

func TestBaseAddressMasked(t *testing.T) {
	// a host bit set in the notation must not shift the block
	it, err := New("192.168.1.77/24", []int{80})
	require.NoError(t, err)

	first, ok := it.Next()
	require.True(t, ok)
	assert.Equal(t, "192.168.1.0", first.IP.String())
	assert.Equal(t, uint64(256), it.Hosts())
}

func TestConcurrentNextYieldsEveryTargetOnce(t *testing.T) {
	it, err := New("10.9.0.0/26", []int{80, 22})
	require.NoError(t, err)

	var mu sync.Mutex
	seen := make(map[string]int)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				tgt, ok := it.Next()
				if !ok {
					return
				}
				mu.Lock()
				seen[tgt.String()]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, 128)
	for addr, n := range seen {
		assert.Equal(t, 1, n, "target %s yielded more than once", addr)
	}
}

func TestRestrictHosts(t *testing.T) {
	it, err := New("192.168.1.0/24", []int{80, 22})
	require.NoError(t, err)

	alive := []net.IP{
		net.ParseIP("192.168.1.40"),
		net.ParseIP("192.168.1.7"),
		net.ParseIP("10.0.0.1"), // outside the block, dropped
	}
	restricted := it.RestrictHosts(alive)

	assert.Equal(t, uint64(4), restricted.Total())
	targets := collect(restricted)
	require.Len(t, targets, 4)
	// sorted by address regardless of input order
	assert.Equal(t, "192.168.1.7", targets[0].IP.String())
	assert.Equal(t, "192.168.1.40", targets[2].IP.String())
}
