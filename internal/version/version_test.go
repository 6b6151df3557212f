package version

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestInfo_String(t *testing.T) {
	info := Info{GitVersion: "v1.2.3"}
	if got := info.String(); got != "v1.2.3" {
		t.Errorf("got %q, want v1.2.3", got)
	}
	info.GitTreeState = "dirty"
	if got := info.String(); got != "v1.2.3-dirty" {
		t.Errorf("got %q, want v1.2.3-dirty", got)
	}
}

func TestInfo_ToJSON(t *testing.T) {
	s, err := Get().ToJSON()
	if err != nil {
		t.Fatalf("ToJSON failed: %v", err)
	}
	var decoded Info
	if err := json.Unmarshal([]byte(s), &decoded); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if decoded.GoVersion == "" || decoded.Platform == "" {
		t.Errorf("got %+v, want runtime fields set", decoded)
	}
}

func TestInfo_Text(t *testing.T) {
	text := Get().Text()
	for _, want := range []string{"gitVersion:", "gitCommit:", "buildDate:", "goVersion:", "platform:"} {
		if !strings.Contains(text, want) {
			t.Errorf("Text() missing %q:\n%s", want, text)
		}
	}
	if strings.Contains(text, "gitTreeState:") {
		t.Error("empty tree state should be omitted")
	}
}
