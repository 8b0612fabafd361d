package fingerprint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Y0oshi/deepfocus/internal/probe"
)

func httpResult(banner string, headers map[string]string, body string) *probe.Result {
	resp := &probe.HTTPResponse{Headers: headers, Body: body}
	if headers == nil {
		resp.Headers = map[string]string{}
	}
	return &probe.Result{
		Protocol: probe.ProtocolHTTP,
		Service:  "http",
		Banner:   banner,
		HTTP:     resp,
	}
}

func TestAnalyzeApacheWithVersion(t *testing.T) {
	e := NewEngine()
	result := httpResult(
		"HTTP/1.1 200 OK Server: Apache/2.4.62",
		map[string]string{"server": "Apache/2.4.62 (Debian)"},
		"",
	)

	m := e.Analyze(result)
	require.NotNil(t, m)
	assert.Equal(t, "Apache", m.Rule.Name)
	assert.Equal(t, 100, m.Confidence) // 40+60+30 capped
	assert.Equal(t, "2.4.62", m.Version)
}

func TestAnalyzeHikvisionBeatsGenericHTTP(t *testing.T) {
	e := NewEngine()
	result := httpResult(
		"HTTP/1.1 401 Unauthorized",
		map[string]string{"server": "App-webs/"},
		"<html><title>Hikvision</title></html>",
	)

	m := e.Analyze(result)
	require.NotNil(t, m)
	assert.Equal(t, "Hikvision", m.Rule.Name)
	assert.Contains(t, m.Rule.Tags, "surveillance")
}

func TestAnalyzeOpenSSHVersion(t *testing.T) {
	e := NewEngine()
	result := &probe.Result{
		Protocol: probe.ProtocolSSH,
		Service:  "ssh",
		Banner:   "SSH-2.0-OpenSSH_9.6p1",
	}

	m := e.Analyze(result)
	require.NotNil(t, m)
	assert.Equal(t, "OpenSSH", m.Rule.Name)
	assert.Equal(t, "9.6p1", m.Version)
	assert.Equal(t, 100, m.Confidence)
}

func TestAnalyzeVNCBanner(t *testing.T) {
	e := NewEngine()
	result := &probe.Result{
		Protocol: probe.ProtocolVNC,
		Service:  "vnc",
		Banner:   "RFB 003.008",
	}

	m := e.Analyze(result)
	require.NotNil(t, m)
	assert.Equal(t, "VNC", m.Rule.Name)
	assert.Equal(t, 100, m.Confidence)
}

func TestAnalyzeFTPServers(t *testing.T) {
	e := NewEngine()

	m := e.Analyze(&probe.Result{Service: "ftp", Banner: "220 ProFTPD 1.3.8 Server ready"})
	require.NotNil(t, m)
	assert.Equal(t, "FTP", m.Rule.Name)

	// vsftpd hits both the greeting pattern and the product name; capped
	m = e.Analyze(&probe.Result{Service: "ftp", Banner: "220 (vsFTPd 3.0.5)"})
	require.NotNil(t, m)
	assert.Equal(t, "FTP", m.Rule.Name)
	assert.Equal(t, 100, m.Confidence)
}

func TestAnalyzeNoMatch(t *testing.T) {
	e := NewEngine()
	m := e.Analyze(&probe.Result{Service: "tcp", Banner: "random service greeting"})
	assert.Nil(t, m)
}

func TestAnalyzeHomeAssistantTitle(t *testing.T) {
	e := NewEngine()
	result := httpResult("HTTP/1.1 200 OK", nil, "<html><title>Home Assistant</title></html>")
	result.HTTP.Title = "Home Assistant"

	m := e.Analyze(result)
	require.NotNil(t, m)
	assert.Equal(t, "Home Assistant", m.Rule.Name)
}

func TestEnrichSetsVendorAndVersion(t *testing.T) {
	e := NewEngine()
	result := httpResult(
		"HTTP/1.1 200 OK Server: nginx/1.25.3",
		map[string]string{"server": "nginx/1.25.3"},
		"",
	)

	m := e.Enrich(result)
	require.NotNil(t, m)
	assert.Equal(t, "Nginx", result.Vendor)
	assert.Contains(t, result.Banner, "version=1.25.3")
}

func TestEnrichKeepsProbeVendor(t *testing.T) {
	e := NewEngine()
	result := &probe.Result{
		Protocol: probe.ProtocolRTSP,
		Service:  "rtsp",
		Banner:   "RTSP/1.0 401 response from Dahua device",
		Vendor:   "Dahua",
	}

	e.Enrich(result)
	assert.Equal(t, "Dahua", result.Vendor)
}
