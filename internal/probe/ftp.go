package probe

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"
)

// FTP auth posture labels. Fixed strings; downstream log parsers match on
// them verbatim.
const (
	FTPAnonAllowed       = "Anonymous Access ALLOWED"
	FTPAnonAllowedNoPass = "Anonymous Access ALLOWED (No Pass)"
	FTPAnonDenied        = "Anonymous Access DENIED (530)"
	FTPUserRejected      = "Anonymous User Rejected"
	FTPEncryptionNeeded  = "Encryption Required (AUTH TLS)"
)

// FTPProber reads the greeting and attempts an anonymous login. Only the
// well-known anonymous identity is tried; no credential guessing.
type FTPProber struct{}

func (p *FTPProber) Protocol() Protocol { return ProtocolFTP }

func (p *FTPProber) Probe(ctx context.Context, d *Dialer, target Target) (*Result, error) {
	conn, err := d.Dial(ctx, target)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	r := bufio.NewReader(conn)

	greeting, err := d.readLineStep(conn, r)
	if err != nil {
		return nil, err
	}

	auth := AuthUnknown
	if strings.HasPrefix(greeting, "220") {
		auth, err = p.anonymousLogin(d, conn, r)
		if err != nil {
			return nil, err
		}
	}

	return &Result{
		Protocol: ProtocolFTP,
		Service:  "ftp",
		Banner:   greeting,
		Auth:     auth,
	}, nil
}

func (p *FTPProber) anonymousLogin(d *Dialer, conn net.Conn, r *bufio.Reader) (string, error) {
	if err := d.writeStep(conn, []byte("USER anonymous\r\n")); err != nil {
		return "", err
	}
	userResp, err := d.readLineStep(conn, r)
	if err != nil {
		return "", err
	}

	switch {
	case strings.HasPrefix(userResp, "331"):
		if err := d.writeStep(conn, []byte("PASS anonymous@\r\n")); err != nil {
			return "", err
		}
		passResp, err := d.readLineStep(conn, r)
		if err != nil {
			return "", err
		}
		switch {
		case strings.HasPrefix(passResp, "230"):
			return FTPAnonAllowed, nil
		case strings.HasPrefix(passResp, "530"):
			return FTPAnonDenied, nil
		default:
			return fmt.Sprintf("Login Failed Code: %s", code(passResp)), nil
		}
	case strings.HasPrefix(userResp, "230"):
		return FTPAnonAllowedNoPass, nil
	case strings.HasPrefix(userResp, "530"):
		return FTPUserRejected, nil
	case strings.HasPrefix(userResp, "500"),
		strings.Contains(strings.ToLower(userResp), "auth"):
		return FTPEncryptionNeeded, nil
	default:
		return fmt.Sprintf("Handshake Error: %s", code(userResp)), nil
	}
}

func code(resp string) string {
	if len(resp) >= 3 {
		return resp[:3]
	}
	return resp
}
