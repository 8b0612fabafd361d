package export

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Y0oshi/deepfocus/internal/store"
)

func sampleRecords() []store.ServiceRecord {
	return []store.ServiceRecord{
		{
			IP:      "192.168.1.10",
			Port:    21,
			Service: "ftp",
			Banner:  "220 Test FTP ready",
			Auth:    "Anonymous Access ALLOWED",
			State:   "open",
		},
		{
			IP:      "192.168.1.20",
			Port:    5900,
			Service: "vnc",
			Banner:  "RFB 003.008",
			Auth:    "None (OPEN)",
			State:   "open",
		},
	}
}

func TestExportFormat(t *testing.T) {
	dir := t.TempDir()
	e := New(dir, nil)
	e.now = func() time.Time { return time.Unix(1700000000, 0) }

	path, err := e.Export(sampleRecords())
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "deep_focus_export_1700000000.txt"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	want := "IP: 192.168.1.10\n" +
		"Port: 21\n" +
		"Service: ftp\n" +
		"banner: 220 Test FTP ready | Auth: [Anonymous Access ALLOWED]\n" +
		"--------------------\n" +
		"IP: 192.168.1.20\n" +
		"Port: 5900\n" +
		"Service: vnc\n" +
		"banner: RFB 003.008 | Auth: [None (OPEN)]\n" +
		"--------------------\n"
	assert.Equal(t, want, string(data))
}

func TestExportEmptyStore(t *testing.T) {
	dir := t.TempDir()
	e := New(dir, nil)

	path, err := e.Export(nil)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Empty(t, data)
}

func TestExportCreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "exports")
	e := New(dir, nil)

	_, err := e.Export(sampleRecords())
	require.NoError(t, err)
}

func TestExportLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	e := New(dir, nil)

	_, err := e.Export(sampleRecords())
	require.NoError(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, strings.HasPrefix(entries[0].Name(), "deep_focus_export_"))
}

func TestBannerCleaning(t *testing.T) {
	recs := []store.ServiceRecord{{
		IP:      "10.0.0.1",
		Port:    22,
		Service: "ssh",
		Banner:  "line one\r\nline two",
		Auth:    "Unknown",
	}}

	dir := t.TempDir()
	e := New(dir, nil)
	path, err := e.Export(recs)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "banner: line one  line two |")
}

func TestBannerTruncation(t *testing.T) {
	long := strings.Repeat("x", 300)
	recs := []store.ServiceRecord{{
		IP: "10.0.0.1", Port: 80, Service: "http", Banner: long, Auth: "Unknown",
	}}

	dir := t.TempDir()
	e := New(dir, nil)
	path, err := e.Export(recs)
	require.NoError(t, err)

	entries, err := ParseFile(path)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Len(t, entries[0].Banner, 120)
}

func TestBannerTruncationKeepsRunesWhole(t *testing.T) {
	// place a three-byte rune straddling the 120-byte cutoff
	banner := strings.Repeat("x", 119) + strings.Repeat("バ", 40)
	got := cleanBanner(banner)

	assert.True(t, utf8.ValidString(got))
	assert.LessOrEqual(t, len(got), 120)
	assert.Equal(t, strings.Repeat("x", 119), got)
}

func TestRoundTrip(t *testing.T) {
	records := sampleRecords()

	dir := t.TempDir()
	e := New(dir, nil)
	path, err := e.Export(records)
	require.NoError(t, err)

	entries, err := ParseFile(path)
	require.NoError(t, err)
	require.Len(t, entries, len(records))

	for i, rec := range records {
		assert.Equal(t, rec.IP, entries[i].IP)
		assert.Equal(t, rec.Port, entries[i].Port)
		assert.Equal(t, rec.Service, entries[i].Service)
		assert.Equal(t, rec.Auth, entries[i].Auth)
		assert.Equal(t, rec.Banner, entries[i].Banner)
	}
}

func TestParseBannerContainingPipe(t *testing.T) {
	// a banner with the field delimiter inside still parses, anchored on
	// the last auth marker
	recs := []store.ServiceRecord{{
		IP: "10.0.0.1", Port: 80, Service: "http",
		Banner: "left | right | Auth-ish text",
		Auth:   "Auth Required",
	}}

	dir := t.TempDir()
	e := New(dir, nil)
	path, err := e.Export(recs)
	require.NoError(t, err)

	entries, err := ParseFile(path)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "left | right | Auth-ish text", entries[0].Banner)
	assert.Equal(t, "Auth Required", entries[0].Auth)
}

func TestParseRejectsIncompleteBlock(t *testing.T) {
	input := "IP: 10.0.0.1\nService: http\n--------------------\n"
	_, err := Parse(strings.NewReader(input))
	assert.Error(t, err)
}

func TestParseBadPort(t *testing.T) {
	input := "IP: 10.0.0.1\nPort: abc\n--------------------\n"
	_, err := Parse(strings.NewReader(input))
	assert.Error(t, err)
}

func TestParseTrailingUnterminatedBlock(t *testing.T) {
	input := "IP: 10.0.0.1\nPort: 80\nService: http\nbanner: x | Auth: [Unknown]\n"
	entries, err := Parse(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 80, entries[0].Port)
}
