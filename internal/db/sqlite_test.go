package db_test

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/RichardoC/goblin/internal/db"
	"github.com/RichardoC/goblin/internal/models"
)

func newDB(t *testing.T) *db.Database {
	t.Helper()
	database, err := db.New(filepath.Join(t.TempDir(), "goblin.db"))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return database
}

func transcriptFixture(id string, started time.Time, msgs ...models.Message) models.Transcript {
	return models.Transcript{
		ID:        id,
		Model:     "hunyuan-a13b",
		Personas:  []string{"goblin.xml"},
		StartedAt: started,
		EndedAt:   started.Add(time.Minute),
		Messages:  msgs,
		Path:      "/tmp/" + id + ".txt",
	}
}

func TestDatabase_SaveAndGet(t *testing.T) {
	database := newDB(t)
	started := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	tr := transcriptFixture("s1", started,
		models.Message{Role: models.RoleSystem, Content: "<goblin/>"},
		models.Message{Role: models.RoleUser, Content: "Hello"},
		models.Message{Role: models.RoleAssistant, Content: "Hi there"},
	)

	if err := database.SaveTranscript(tr); err != nil {
		t.Fatalf("SaveTranscript failed: %v", err)
	}

	got, err := database.GetTranscript("s1")
	if err != nil {
		t.Fatalf("GetTranscript failed: %v", err)
	}
	if got.Model != tr.Model || got.Path != tr.Path {
		t.Errorf("got model %q path %q", got.Model, got.Path)
	}
	if !got.StartedAt.Equal(started) {
		t.Errorf("got started %v, want %v", got.StartedAt, started)
	}
	if len(got.Personas) != 1 || got.Personas[0] != "goblin.xml" {
		t.Errorf("got personas %v", got.Personas)
	}
	if len(got.Messages) != 3 {
		t.Fatalf("got %d messages, want 3", len(got.Messages))
	}
	for i, m := range tr.Messages {
		if got.Messages[i] != m {
			t.Errorf("message %d = %+v, want %+v", i, got.Messages[i], m)
		}
	}
}

func TestDatabase_SaveTranscript_Replaces(t *testing.T) {
	database := newDB(t)
	started := time.Now().UTC()

	first := transcriptFixture("s1", started, models.Message{Role: models.RoleUser, Content: "one"})
	if err := database.SaveTranscript(first); err != nil {
		t.Fatal(err)
	}
	second := transcriptFixture("s1", started,
		models.Message{Role: models.RoleUser, Content: "one"},
		models.Message{Role: models.RoleAssistant, Content: "two"},
	)
	if err := database.SaveTranscript(second); err != nil {
		t.Fatal(err)
	}

	got, err := database.GetTranscript("s1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Messages) != 2 {
		t.Errorf("got %d messages, want 2", len(got.Messages))
	}

	list, err := database.GetTranscripts()
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 {
		t.Errorf("got %d transcripts, want 1", len(list))
	}
}

func TestDatabase_GetTranscripts_NewestFirst(t *testing.T) {
	database := newDB(t)
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, id := range []string{"old", "new"} {
		if err := database.SaveTranscript(transcriptFixture(id, base.Add(time.Duration(i)*time.Hour))); err != nil {
			t.Fatal(err)
		}
	}

	list, err := database.GetTranscripts()
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 || list[0].ID != "new" || list[1].ID != "old" {
		t.Errorf("got %+v, want new then old", list)
	}
}

func TestDatabase_SearchTranscripts(t *testing.T) {
	database := newDB(t)
	started := time.Now().UTC()

	if err := database.SaveTranscript(transcriptFixture("s1", started,
		models.Message{Role: models.RoleUser, Content: "tell me about treasure maps"},
		models.Message{Role: models.RoleAssistant, Content: "Goblins hoard shiny things"},
	)); err != nil {
		t.Fatal(err)
	}
	if err := database.SaveTranscript(transcriptFixture("s2", started,
		models.Message{Role: models.RoleUser, Content: "what is the weather"},
	)); err != nil {
		t.Fatal(err)
	}

	results, err := database.SearchTranscripts("treasure", 10)
	if err != nil {
		t.Fatalf("SearchTranscripts failed: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	if results[0].TranscriptID != "s1" || results[0].Role != models.RoleUser {
		t.Errorf("got %+v", results[0])
	}

	// porter stemming matches the singular form
	results, err = database.SearchTranscripts("goblin", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].Role != models.RoleAssistant {
		t.Errorf("got %+v, want one assistant hit", results)
	}
}

func TestDatabase_SearchTranscripts_InvalidQuery(t *testing.T) {
	database := newDB(t)
	if err := database.SaveTranscript(transcriptFixture("s1", time.Now().UTC(),
		models.Message{Role: models.RoleUser, Content: "tell me about treasure maps"},
	)); err != nil {
		t.Fatal(err)
	}

	for _, q := range []string{`"`, `"treasure`} {
		_, err := database.SearchTranscripts(q, 10)
		if !errors.Is(err, db.ErrInvalidQuery) {
			t.Errorf("query %q: got %v, want ErrInvalidQuery", q, err)
		}
	}
}

func TestDatabase_DeleteTranscript(t *testing.T) {
	database := newDB(t)
	if err := database.SaveTranscript(transcriptFixture("s1", time.Now().UTC(),
		models.Message{Role: models.RoleUser, Content: "searchable words"},
	)); err != nil {
		t.Fatal(err)
	}

	if err := database.DeleteTranscript("s1"); err != nil {
		t.Fatalf("DeleteTranscript failed: %v", err)
	}
	if _, err := database.GetTranscript("s1"); !errors.Is(err, db.ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
	results, err := database.SearchTranscripts("searchable", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 0 {
		t.Errorf("got %d results after delete, want 0", len(results))
	}
	if err := database.DeleteTranscript("s1"); !errors.Is(err, db.ErrNotFound) {
		t.Errorf("second delete got %v, want ErrNotFound", err)
	}
}
