package persona_test

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/RichardoC/goblin/internal/persona"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLibrary_Scan(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "goblin.xml"), "<goblin/>")
	writeFile(t, filepath.Join(dir, "extra", "tone.xml"), "<tone/>")
	writeFile(t, filepath.Join(dir, "notes.txt"), "ignored")

	got, err := persona.NewLibrary(dir).Scan()
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	want := []string{"extra/tone.xml", "goblin.xml"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestLibrary_Scan_MissingDir(t *testing.T) {
	got, err := persona.NewLibrary(filepath.Join(t.TempDir(), "nope")).Scan()
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("got %v, want none", got)
	}
}

func TestLibrary_Merge(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.xml"), "<a/>")
	writeFile(t, filepath.Join(dir, "b.xml"), "<b/>")
	lib := persona.NewLibrary(dir)

	got, err := lib.Merge([]string{"b.xml", "a.xml"})
	if err != nil {
		t.Fatalf("Merge failed: %v", err)
	}
	if !strings.HasPrefix(got, "<!--\n  Multiple persona XML merged.") {
		t.Errorf("missing merge header: %q", got)
	}
	b := strings.Index(got, "<!-- BEGIN: b.xml -->\n<b/>\n<!-- END: b.xml -->")
	a := strings.Index(got, "<!-- BEGIN: a.xml -->\n<a/>\n<!-- END: a.xml -->")
	if a < 0 || b < 0 {
		t.Fatalf("missing persona blocks: %q", got)
	}
	if b > a {
		t.Error("personas should keep selection order")
	}
}

func TestLibrary_Merge_Empty(t *testing.T) {
	got, err := persona.NewLibrary(t.TempDir()).Merge(nil)
	if err != nil || got != "" {
		t.Errorf("got %q, %v; want empty", got, err)
	}
}

func TestLibrary_Merge_Missing(t *testing.T) {
	_, err := persona.NewLibrary(t.TempDir()).Merge([]string{"missing.xml"})
	if !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("got %v, want fs.ErrNotExist", err)
	}
}

func TestLibrary_Load_RejectsEscape(t *testing.T) {
	lib := persona.NewLibrary(t.TempDir())
	for _, name := range []string{"../secret.xml", "/etc/passwd", ""} {
		if _, err := lib.Load(name); err == nil {
			t.Errorf("Load(%q) should fail", name)
		}
	}
}
