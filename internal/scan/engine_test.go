package scan

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Y0oshi/deepfocus/internal/config"
	"github.com/Y0oshi/deepfocus/internal/enumerate"
	"github.com/Y0oshi/deepfocus/internal/probe"
)

// memorySink collects saved results.
type memorySink struct {
	mu      sync.Mutex
	results []*probe.Result
}

func (m *memorySink) SaveResult(_ context.Context, r *probe.Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results = append(m.results, r)
	return nil
}

func (m *memorySink) all() []*probe.Result {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*probe.Result(nil), m.results...)
}

// staticSource feeds an explicit target list.
type staticSource struct {
	mu      sync.Mutex
	targets []enumerate.Target
	pos     int
}

func (s *staticSource) Next() (enumerate.Target, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pos >= len(s.targets) {
		return enumerate.Target{}, false
	}
	t := s.targets[s.pos]
	s.pos++
	return t, true
}

func (s *staticSource) Total() uint64     { return uint64(len(s.targets)) }
func (s *staticSource) Remaining() uint64 { return uint64(len(s.targets) - s.pos) }
func (s *staticSource) Reset()            { s.pos = 0 }

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Scanning.ThreadCount = 100
	cfg.Scanning.StepTimeout = time.Second
	cfg.Scanning.ProbeTimeout = 2 * time.Second
	cfg.Governor.SampleInterval = time.Hour // keep the governor quiet
	return cfg
}

// ftpListener fakes an FTP server answering the anonymous login with the
// given final code.
func ftpListener(t *testing.T, passCode string) enumerate.Target {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				c.Write([]byte("220 Test FTP ready\r\n"))
				buf := make([]byte, 64)
				c.Read(buf)
				c.Write([]byte("331 Password required\r\n"))
				c.Read(buf)
				c.Write([]byte(passCode + "\r\n"))
			}(conn)
		}
	}()

	addr := ln.Addr().(*net.TCPAddr)
	return enumerate.Target{IP: addr.IP, Port: addr.Port}
}

func closedPort(t *testing.T) enumerate.Target {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().(*net.TCPAddr)
	ln.Close()
	return enumerate.Target{IP: addr.IP, Port: addr.Port}
}

func TestEngineRecordsOpenAndSkipsRefused(t *testing.T) {
	allowed := ftpListener(t, "230 Logged in")
	denied := ftpListener(t, "530 Login incorrect")
	refused := closedPort(t)

	source := &staticSource{targets: []enumerate.Target{allowed, denied, refused}}
	sink := &memorySink{}
	engine := NewEngine(testConfig(), sink, nil)

	session, err := engine.Start(context.Background(), source, "127.0.0.0/8")
	require.NoError(t, err)
	engine.Wait()

	assert.Equal(t, SessionComplete, session.State())
	assert.Equal(t, uint64(3), session.Completed())

	results := sink.all()
	require.Len(t, results, 2) // refused leaves no record

	byPort := map[int]*probe.Result{}
	for _, r := range results {
		byPort[r.Port] = r
	}
	require.Contains(t, byPort, allowed.Port)
	require.Contains(t, byPort, denied.Port)
	assert.NotContains(t, byPort, refused.Port)

	// note: tcp-level classification, both classified by the generic
	// prober since the listeners sit on ephemeral ports
	assert.Equal(t, probe.StateOpen, byPort[allowed.Port].State)
	assert.Equal(t, probe.StateOpen, byPort[denied.Port].State)
}

// blockingSource parks every caller until released, keeping a scan alive.
type blockingSource struct {
	release chan struct{}
}

func (b *blockingSource) Next() (enumerate.Target, bool) {
	<-b.release
	return enumerate.Target{}, false
}
func (b *blockingSource) Total() uint64     { return 1 }
func (b *blockingSource) Remaining() uint64 { return 1 }
func (b *blockingSource) Reset()            {}

func TestEngineRejectsConcurrentScan(t *testing.T) {
	source := &blockingSource{release: make(chan struct{})}
	engine := NewEngine(testConfig(), &memorySink{}, nil)

	_, err := engine.Start(context.Background(), source, "127.0.0.0/8")
	require.NoError(t, err)

	_, err = engine.Start(context.Background(), &staticSource{}, "127.0.0.0/8")
	assert.Error(t, err)

	close(source.release)
	engine.Wait()
}

func TestEngineStopPreservesRecords(t *testing.T) {
	open := ftpListener(t, "230 Logged in")
	targets := make([]enumerate.Target, 500)
	for i := range targets {
		targets[i] = open
	}
	source := &staticSource{targets: targets}
	sink := &memorySink{}

	cfg := testConfig()
	cfg.Scanning.ThreadCount = 100
	engine := NewEngine(cfg, sink, nil)

	session, err := engine.Start(context.Background(), source, "127.0.0.0/8")
	require.NoError(t, err)

	// let some probes land, then stop mid-scan
	deadline := time.Now().Add(2 * time.Second)
	for len(sink.all()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	engine.Stop()

	state := session.State()
	assert.Contains(t, []string{SessionStopped, SessionComplete}, state)
	assert.NotEmpty(t, sink.all(), "records from before the stop must survive")

	// a new scan can start after a stop
	_, err = engine.Start(context.Background(), &staticSource{}, "127.0.0.0/8")
	assert.NoError(t, err)
	engine.Wait()
}

// slowListener accepts and holds the connection for delay before sending
// a banner, keeping a probe in flight while the test stops the engine.
func slowListener(t *testing.T, delay time.Duration) enumerate.Target {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				time.Sleep(delay)
				c.Write([]byte("220 slowpoke service\r\n"))
				buf := make([]byte, 64)
				c.Read(buf)
			}(conn)
		}
	}()

	addr := ln.Addr().(*net.TCPAddr)
	return enumerate.Target{IP: addr.IP, Port: addr.Port}
}

func TestEngineStopLetsInFlightProbeFinish(t *testing.T) {
	target := slowListener(t, 300*time.Millisecond)
	source := &staticSource{targets: []enumerate.Target{target}}
	sink := &memorySink{}

	cfg := testConfig()
	cfg.Scanning.ThreadCount = 1
	engine := NewEngine(cfg, sink, nil)

	session, err := engine.Start(context.Background(), source, "127.0.0.0/8")
	require.NoError(t, err)

	// give the worker time to dial and park on the banner read
	time.Sleep(50 * time.Millisecond)
	engine.Stop()

	assert.Equal(t, SessionStopped, session.State())

	// the stop ends dispatch but not the probe already on the wire; its
	// banner arrives well inside the step timeout and the record lands
	results := sink.all()
	require.Len(t, results, 1)
	assert.Equal(t, target.Port, results[0].Port)
	assert.Equal(t, probe.StateOpen, results[0].State)
	assert.Contains(t, results[0].Banner, "slowpoke")
}

func TestEngineStatusIdleBeforeStart(t *testing.T) {
	engine := NewEngine(testConfig(), &memorySink{}, nil)
	assert.Equal(t, SessionIdle, engine.Status().State)
}

func TestEngineOnResultCallback(t *testing.T) {
	open := ftpListener(t, "230 Logged in")
	source := &staticSource{targets: []enumerate.Target{open}}
	engine := NewEngine(testConfig(), &memorySink{}, nil)

	var mu sync.Mutex
	var seen []*probe.Result
	engine.OnResult = func(r *probe.Result) {
		mu.Lock()
		seen = append(seen, r)
		mu.Unlock()
	}

	_, err := engine.Start(context.Background(), source, "127.0.0.0/8")
	require.NoError(t, err)
	engine.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 1)
	assert.Equal(t, open.IP.String(), seen[0].IP)
}

func TestEngineRecordsUnreachableTombstone(t *testing.T) {
	sink := &memorySink{}
	engine := NewEngine(testConfig(), sink, nil)
	session := NewSession("127.0.0.0/8", 1)

	target := probe.Target{IP: net.ParseIP("127.0.0.1"), Port: 9}
	engine.recordUnreachable(context.Background(), target, session)

	results := sink.all()
	require.Len(t, results, 1)
	assert.Equal(t, "127.0.0.1", results[0].IP)
	assert.Equal(t, 9, results[0].Port)
	assert.Equal(t, probe.StateUnreachable, results[0].State)
	assert.Equal(t, probe.AuthUnknown, results[0].Auth)
	assert.False(t, results[0].SeenAt.IsZero())
}

func TestEngineOnCompleteCallback(t *testing.T) {
	open := ftpListener(t, "230 Logged in")
	source := &staticSource{targets: []enumerate.Target{open}}
	engine := NewEngine(testConfig(), &memorySink{}, nil)

	done := make(chan Progress, 1)
	engine.OnComplete = func(p Progress) { done <- p }

	_, err := engine.Start(context.Background(), source, "127.0.0.0/8")
	require.NoError(t, err)
	engine.Wait()

	select {
	case p := <-done:
		assert.Equal(t, SessionComplete, p.State)
		assert.Equal(t, uint64(1), p.Completed)
	default:
		t.Fatal("completion hook did not fire")
	}
}

func TestSessionSnapshot(t *testing.T) {
	s := NewSession("10.0.0.0/24", 512)
	s.setState(SessionRunning)
	s.addCompleted()
	s.addCompleted()
	s.addFound()

	snap := s.Snapshot()
	assert.NotEmpty(t, snap.ID)
	assert.Equal(t, "10.0.0.0/24", snap.Network)
	assert.Equal(t, uint64(512), snap.Total)
	assert.Equal(t, uint64(2), snap.Completed)
	assert.Equal(t, uint64(1), snap.Found)
	assert.InDelta(t, 0.39, snap.Percent, 0.01)
	assert.True(t, snap.EndedAt.IsZero())

	s.setState(SessionComplete)
	assert.False(t, s.Snapshot().EndedAt.IsZero())
}
