// Package transcript renders chat sessions as plain-text logs and writes them
// to a log directory.
package transcript

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/RichardoC/goblin/internal/models"
)

const (
	timeLayout = "2006-01-02T15:04:05"
	fileLayout = "20060102_150405"
)

// Writer saves transcripts as text files in Dir.
type Writer struct {
	Dir string
	// PersonaDir resolves persona names to absolute paths in the header.
	PersonaDir string
}

// maxNameAttempts bounds the numeric suffixes tried when a log name is taken.
const maxNameAttempts = 100

// FileName is the log file name for tr: its start time plus the tail of the
// session id, so sessions started in the same second get distinct files.
func FileName(tr models.Transcript) string {
	stamp := tr.StartedAt.Format(fileLayout)
	if id := shortID(tr.ID); id != "" {
		return fmt.Sprintf("goblin_chat_%s_%s.txt", stamp, id)
	}
	return fmt.Sprintf("goblin_chat_%s.txt", stamp)
}

// shortID keeps the last 8 hex digits of a session id. UUIDv7 ids share
// their leading digits within a minute; the tail is random.
func shortID(id string) string {
	id = strings.ReplaceAll(id, "-", "")
	if len(id) > 8 {
		id = id[len(id)-8:]
	}
	return id
}

// Save writes tr to a new file and returns its absolute path. An existing
// file is never overwritten; a numeric suffix is added instead.
func (w *Writer) Save(tr models.Transcript) (string, error) {
	if err := os.MkdirAll(w.Dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create log dir: %w", err)
	}

	name := FileName(tr)
	base := strings.TrimSuffix(name, ".txt")
	for i := 1; i <= maxNameAttempts; i++ {
		if i > 1 {
			name = fmt.Sprintf("%s_%d.txt", base, i)
		}
		path := filepath.Join(w.Dir, name)
		err := writeNew(path, []byte(Format(tr, w.PersonaDir)))
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("failed to write transcript: %w", err)
		}
		if abs, err := filepath.Abs(path); err == nil {
			path = abs
		}
		return path, nil
	}
	return "", fmt.Errorf("failed to write transcript: no free file name for %s", FileName(tr))
}

func writeNew(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	_, err = f.Write(data)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return err
}

// Format renders the header and every message, numbered from 000.
func Format(tr models.Transcript, personaDir string) string {
	rule := strings.Repeat("=", 28)
	sep := strings.Repeat("-", 28)

	var b strings.Builder
	b.WriteString("=== Goblin Chat Log ===\n")
	fmt.Fprintf(&b, "Model: %s\n", orUnknown(tr.Model))
	switch len(tr.Personas) {
	case 0:
		b.WriteString("PersonaXML: None\n")
	case 1:
		fmt.Fprintf(&b, "PersonaXML: %s\n", personaPath(personaDir, tr.Personas[0]))
	default:
		b.WriteString("PersonaXMLs:\n")
		for _, p := range tr.Personas {
			fmt.Fprintf(&b, "  - %s\n", personaPath(personaDir, p))
		}
	}
	fmt.Fprintf(&b, "StartedAt: %s\n", tr.StartedAt.Format(timeLayout))
	fmt.Fprintf(&b, "EndedAt:   %s\n", tr.EndedAt.Format(timeLayout))
	b.WriteString(rule + "\n\n")

	for i, m := range tr.Messages {
		fmt.Fprintf(&b, "[%03d] Role: %s\n", i, orUnknown(string(m.Role)))
		b.WriteString(m.Content + "\n")
		b.WriteString(sep + "\n")
	}
	return b.String()
}

func personaPath(dir, name string) string {
	p := filepath.Join(dir, filepath.FromSlash(name))
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return p
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
