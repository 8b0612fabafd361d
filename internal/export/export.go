// Package export writes the result store's open services to timestamped
// text files and parses those files back. The block layout is a fixed
// contract: downstream tooling greps these files, so field labels, the
// auth bracket and the separator line never change shape.
package export

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/Y0oshi/deepfocus/internal/errors"
	"github.com/Y0oshi/deepfocus/internal/logging"
	"github.com/Y0oshi/deepfocus/internal/store"
)

const (
	filePrefix = "deep_focus_export_"
	fileSuffix = ".txt"

	// separator closes every record block
	separator = "--------------------"

	// banners are truncated to keep blocks grep-friendly
	maxBannerLen = 120
)

// Exporter writes export files into a directory.
type Exporter struct {
	dir    string
	logger *logging.Logger

	// now is swapped in tests to pin filenames
	now func() time.Time
}

// New creates an exporter targeting dir.
func New(dir string, logger *logging.Logger) *Exporter {
	if logger == nil {
		logger = logging.NewDefault().WithComponent("export")
	}
	return &Exporter{dir: dir, logger: logger, now: time.Now}
}

// Export writes the records to a new timestamped file and returns its
// path. The write is atomic: content lands in a temp file first and is
// renamed into place, so readers never observe a partial export.
func (e *Exporter) Export(records []store.ServiceRecord) (string, error) {
	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return "", errors.WrapExportError(e.dir, "failed to create export directory", err)
	}

	name := fmt.Sprintf("%s%d%s", filePrefix, e.now().Unix(), fileSuffix)
	path := filepath.Join(e.dir, name)

	var b strings.Builder
	for _, rec := range records {
		writeBlock(&b, &rec)
	}

	if err := writeAtomic(path, []byte(b.String())); err != nil {
		return "", errors.WrapExportError(path, "failed to write export file", err)
	}

	e.logger.Info("Export written", "path", path, "records", len(records))
	return path, nil
}

func writeBlock(b *strings.Builder, rec *store.ServiceRecord) {
	fmt.Fprintf(b, "IP: %s\n", rec.IP)
	fmt.Fprintf(b, "Port: %d\n", rec.Port)
	fmt.Fprintf(b, "Service: %s\n", rec.Service)
	fmt.Fprintf(b, "banner: %s | Auth: [%s]\n", cleanBanner(rec.Banner), rec.Auth)
	fmt.Fprintln(b, separator)
}

// cleanBanner flattens newlines and truncates. The stored banner is
// already sanitized; this guards exports of records written by older
// versions.
func cleanBanner(s string) string {
	s = strings.ReplaceAll(s, "\r", " ")
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.TrimSpace(s)
	if len(s) > maxBannerLen {
		cut := maxBannerLen
		// back up to a rune boundary so the cut never splits a
		// multibyte character
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		s = s[:cut]
	}
	return s
}

// writeAtomic writes data to path via a temp file and rename.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".export-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}

// Entry is one parsed export block.
type Entry struct {
	IP      string
	Port    int
	Service string
	Banner  string
	Auth    string
}

// Parse reads an export stream back into entries. It tolerates a trailing
// unterminated block but rejects blocks missing required fields.
func Parse(r io.Reader) ([]Entry, error) {
	var (
		entries []Entry
		cur     Entry
		open    bool
	)

	flush := func() error {
		if !open {
			return nil
		}
		if cur.IP == "" || cur.Port == 0 {
			return fmt.Errorf("block missing ip or port")
		}
		entries = append(entries, cur)
		cur = Entry{}
		open = false
		return nil
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 64*1024)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == separator:
			if err := flush(); err != nil {
				return nil, err
			}
		case strings.HasPrefix(line, "IP: "):
			cur.IP = strings.TrimPrefix(line, "IP: ")
			open = true
		case strings.HasPrefix(line, "Port: "):
			port, err := strconv.Atoi(strings.TrimPrefix(line, "Port: "))
			if err != nil {
				return nil, fmt.Errorf("bad port line %q: %w", line, err)
			}
			cur.Port = port
			open = true
		case strings.HasPrefix(line, "Service: "):
			cur.Service = strings.TrimPrefix(line, "Service: ")
			open = true
		case strings.HasPrefix(line, "banner: "):
			rest := strings.TrimPrefix(line, "banner: ")
			const marker = " | Auth: ["
			if idx := strings.LastIndex(rest, marker); idx >= 0 && strings.HasSuffix(rest, "]") {
				cur.Banner = rest[:idx]
				cur.Auth = rest[idx+len(marker) : len(rest)-1]
			} else {
				cur.Banner = rest
			}
			open = true
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return entries, nil
}

// ParseFile parses an export file from disk.
func ParseFile(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.WrapExportError(path, "failed to open export file", err)
	}
	defer f.Close()
	return Parse(f)
}
