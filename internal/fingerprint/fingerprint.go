// Package fingerprint identifies products behind probed services using
// weighted regex evidence. Each rule accumulates scores from independent
// signals (banner, body, specific headers, page title); the best-scoring
// rule wins and may contribute an extracted version string.
package fingerprint

import (
	"regexp"
	"strings"

	"github.com/Y0oshi/deepfocus/internal/probe"
)

// Evidence locations.
const (
	LocBanner = "banner"
	LocBody   = "body"
	LocTitle  = "title"
	// header evidence uses "header:<name>"
	headerPrefix = "header:"
)

// Evidence is one weighted signal within a rule.
type Evidence struct {
	Location string
	Pattern  *regexp.Regexp
	Weight   int
}

// Rule identifies one product. Scores cap at 100.
type Rule struct {
	Name     string
	Type     string
	Vendor   string
	Product  string
	Tags     []string
	Evidence []Evidence
}

// Match is the outcome of evaluating a rule against a result.
type Match struct {
	Rule       *Rule
	Confidence int
	Version    string
	Matched    []string
}

// evidence compiles a case-insensitive pattern onto the rule.
func (r *Rule) evidence(location, pattern string, weight int) *Rule {
	r.Evidence = append(r.Evidence, Evidence{
		Location: location,
		Pattern:  regexp.MustCompile("(?i)" + pattern),
		Weight:   weight,
	})
	return r
}

// Evaluate scores a rule against a probe result. The first capture group
// of any matching pattern is kept as a version candidate.
func (r *Rule) Evaluate(result *probe.Result) Match {
	m := Match{Rule: r}

	for _, ev := range r.Evidence {
		text := evidenceText(result, ev.Location)
		if text == "" {
			continue
		}
		sm := ev.Pattern.FindStringSubmatch(text)
		if sm == nil {
			continue
		}
		m.Confidence += ev.Weight
		m.Matched = append(m.Matched, "matched "+ev.Location)
		if len(sm) > 1 && sm[1] != "" {
			m.Version = sm[1]
		}
	}

	if m.Confidence > 100 {
		m.Confidence = 100
	}
	return m
}

func evidenceText(result *probe.Result, location string) string {
	switch {
	case location == LocBanner:
		return result.Banner
	case location == LocBody:
		if result.HTTP != nil {
			return result.HTTP.Body
		}
	case location == LocTitle:
		if result.HTTP != nil {
			return result.HTTP.Title
		}
	case strings.HasPrefix(location, headerPrefix):
		if result.HTTP != nil {
			return result.HTTP.Headers[strings.TrimPrefix(location, headerPrefix)]
		}
	}
	return ""
}

// Engine holds the rule set and classifies results.
type Engine struct {
	rules []*Rule
}

// NewEngine returns an engine loaded with the built-in rules.
func NewEngine() *Engine {
	return &Engine{rules: builtinRules()}
}

// Analyze runs every rule and returns the best match, or nil when nothing
// scored.
func (e *Engine) Analyze(result *probe.Result) *Match {
	var best *Match
	for _, rule := range e.rules {
		m := rule.Evaluate(result)
		if m.Confidence > 0 && (best == nil || m.Confidence > best.Confidence) {
			cp := m
			best = &cp
		}
	}
	return best
}

// Enrich applies the best match back onto the result: vendor and, when
// known, product and version appended to the service description. Results
// that already carry a vendor from their probe keep it unless the match is
// more confident than a substring guess.
func (e *Engine) Enrich(result *probe.Result) *Match {
	m := e.Analyze(result)
	if m == nil {
		return nil
	}
	if result.Vendor == "" || result.Vendor == "RTSP Camera" || result.Vendor == "SSH Service" {
		result.Vendor = m.Rule.Vendor
	}
	if m.Version != "" {
		result.Banner = result.Banner + " version=" + m.Version
	}
	return m
}

func builtinRules() []*Rule {
	apache := &Rule{Name: "Apache", Type: "http", Vendor: "Apache", Product: "HTTP Server"}
	apache.evidence(LocBanner, `Apache`, 40).
		evidence(LocBanner, `Apache/([\d\.]+)`, 60).
		evidence(headerPrefix+"server", `Apache`, 30)

	nginx := &Rule{Name: "Nginx", Type: "http", Vendor: "Nginx", Product: "Nginx"}
	nginx.evidence(LocBanner, `nginx`, 40).
		evidence(LocBanner, `nginx/([\d\.]+)`, 60).
		evidence(headerPrefix+"server", `nginx`, 30)

	caddy := &Rule{Name: "Caddy", Type: "http", Vendor: "Caddy", Product: "Caddy Web Server"}
	caddy.evidence(headerPrefix+"server", `Caddy`, 100)

	hikvision := &Rule{Name: "Hikvision", Type: "camera", Vendor: "Hikvision", Product: "IP Camera",
		Tags: []string{"iot", "surveillance"}}
	hikvision.evidence(LocBanner, `Hikvision`, 50).
		evidence(LocBody, `<title>Hikvision</title>`, 60).
		evidence(headerPrefix+"server", `Hikvision`, 50).
		evidence(headerPrefix+"server", `App-webs`, 30)

	dahua := &Rule{Name: "Dahua", Type: "camera", Vendor: "Dahua", Product: "IP Camera",
		Tags: []string{"iot", "surveillance"}}
	dahua.evidence(LocBanner, `Dahua`, 60).
		evidence(headerPrefix+"server", `Dahua`, 60).
		evidence(LocBody, `dahua`, 40)

	openssh := &Rule{Name: "OpenSSH", Type: "ssh", Vendor: "OpenBSD", Product: "OpenSSH"}
	openssh.evidence(LocBanner, `OpenSSH`, 50).
		evidence(LocBanner, `OpenSSH_([\w\.]+)`, 50)

	homeAssistant := &Rule{Name: "Home Assistant", Type: "iot", Vendor: "Home Assistant",
		Product: "Home Assistant", Tags: []string{"smart_home"}}
	homeAssistant.evidence(LocBody, `Home Assistant`, 80).
		evidence(LocTitle, `Home Assistant`, 80)

	genericHTTP := &Rule{Name: "Generic HTTP", Type: "http", Vendor: "unknown", Product: "HTTP Server"}
	genericHTTP.evidence(LocBanner, `HTTP/\d\.\d`, 30).
		evidence(LocBanner, `Server:`, 20).
		evidence(LocBody, `<html`, 40)

	genericRTSP := &Rule{Name: "Generic RTSP", Type: "rtsp", Vendor: "unknown", Product: "RTSP Server"}
	genericRTSP.evidence(LocBanner, `RTSP/\d\.\d`, 50)

	vnc := &Rule{Name: "VNC", Type: "vnc", Vendor: "RealVNC", Product: "VNC Server",
		Tags: []string{"remote_desktop"}}
	vnc.evidence(LocBanner, `^RFB \d{3}\.\d{3}`, 100)

	ftp := &Rule{Name: "FTP", Type: "ftp", Vendor: "unknown", Product: "FTP Server",
		Tags: []string{"file_transfer"}}
	ftp.evidence(LocBanner, `^220.*FTP`, 80).
		evidence(LocBanner, `vsftpd`, 90).
		evidence(LocBanner, `ProFTPD`, 90)

	return []*Rule{
		apache, nginx, caddy, hikvision, dahua, openssh,
		homeAssistant, genericHTTP, genericRTSP, vnc, ftp,
	}
}
