package app

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ledongthuc/pdf"

	"foundersforum/pkg/domain"
)

const (
	pdfContentType = "application/pdf"
	pdfMagic       = "%PDF-"
	fallbackName   = "pitch.pdf"
)

// KeyFunc turns an original filename into a storage key.
type KeyFunc func(filename string) string

// NewPitchKeyFunc returns the default key scheme:
// "<unix millis>_<8 hex chars>_<sanitized name>". The random segment keeps
// keys apart when two applicants upload the same filename in the same
// millisecond.
func NewPitchKeyFunc(now func() time.Time) KeyFunc {
	if now == nil {
		now = time.Now
	}
	return func(filename string) string {
		return buildPitchKey(now(), uuid.NewString()[:8], filename)
	}
}

func buildPitchKey(at time.Time, suffix, filename string) string {
	name := sanitizeFilename(filepath.Base(filename))
	if strings.Trim(name, ".") == "" || strings.EqualFold(name, ".pdf") {
		name = fallbackName
	}
	return fmt.Sprintf("%d_%s_%s", at.UnixMilli(), suffix, name)
}

// sanitizeFilename keeps ASCII letters, digits, '.', '-' and '_' and collapses
// every other run into a single '_'.
func sanitizeFilename(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(name))
	lastUnderscore := false
	for _, r := range name {
		if r <= 0x7f {
			if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '.' || r == '-' || r == '_' {
				b.WriteRune(r)
				lastUnderscore = r == '_'
				continue
			}
		}
		if !lastUnderscore {
			b.WriteByte('_')
			lastUnderscore = true
		}
	}
	return strings.Trim(b.String(), "_")
}

// pitchFileProblem reports why a pitch file is unacceptable, or "" when it is
// fine. maxBytes <= 0 disables the size check.
func pitchFileProblem(f *domain.PitchFile, maxBytes int64) string {
	switch {
	case f == nil:
		return "missing"
	case len(f.Content) == 0:
		return "empty"
	case maxBytes > 0 && f.Size() > maxBytes:
		return "too large"
	case !strings.EqualFold(filepath.Ext(f.Filename), ".pdf"):
		return "not a pdf"
	case !bytes.HasPrefix(f.Content, []byte(pdfMagic)):
		return "not a pdf"
	}
	return ""
}

// countPDFPages parses the document and returns its page count. The parser
// panics on some malformed inputs, so panics are turned into errors.
func countPDFPages(data []byte) (pages int, err error) {
	defer func() {
		if r := recover(); r != nil {
			pages, err = 0, fmt.Errorf("parse pdf: %v", r)
		}
	}()
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return 0, fmt.Errorf("parse pdf: %w", err)
	}
	return reader.NumPage(), nil
}
