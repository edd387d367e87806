package history

import (
	"reflect"
	"strings"
	"testing"

	"github.com/corvid-labs/rook/pkg/models"
)

func TestSlimKeepsShortResults(t *testing.T) {
	s := NewSlimmer(200)
	blocks := []models.ContentBlock{models.ToolResultBlock("c1", `{"ok":true}`, false)}
	got := s.Slim(models.RoleTool, blocks)
	if got[0].Content != `{"ok":true}` {
		t.Errorf("short result should be untouched, got %q", got[0].Content)
	}
}

func TestSlimReplacesLongResults(t *testing.T) {
	s := NewSlimmer(200)
	long := strings.Repeat("line of output\n", 100)
	got := s.Slim(models.RoleTool, []models.ContentBlock{models.ToolResultBlock("c1", long, false)})
	if !strings.HasPrefix(got[0].Content, slimmedPrefix) {
		t.Errorf("expected summary, got %q", got[0].Content)
	}
	if len(got[0].Content) > 300 {
		t.Errorf("summary too long: %d chars", len(got[0].Content))
	}
}

func TestSlimAlwaysSlimsResultsWithArtifactPath(t *testing.T) {
	s := NewSlimmer(200)
	// Under threshold, but carries an artifact path: slimmed unconditionally.
	short := `{"ok":true,"output_path":"/data/cli_outputs/run-1.txt"}`
	got := s.Slim(models.RoleTool, []models.ContentBlock{models.ToolResultBlock("c1", short, false)})
	if !strings.HasPrefix(got[0].Content, slimmedPrefix) {
		t.Fatalf("expected slimming for artifact-backed result, got %q", got[0].Content)
	}
	if !strings.Contains(got[0].Content, "/data/cli_outputs/run-1.txt") {
		t.Errorf("summary should reference artifact path: %q", got[0].Content)
	}
}

func TestSlimIdempotent(t *testing.T) {
	s := NewSlimmer(200)
	blocks := []models.ContentBlock{
		models.TextBlock("hello"),
		models.ImageBlock("image/png", strings.Repeat("A", 1000)),
		models.ToolResultBlock("c1", strings.Repeat("x", 500), true),
	}
	once := s.Slim(models.RoleTool, blocks)
	twice := s.Slim(models.RoleTool, once)
	if !reflect.DeepEqual(once, twice) {
		t.Errorf("slimming is not idempotent:\nonce:  %+v\ntwice: %+v", once, twice)
	}
}

func TestSlimReplacesImagesWithMarker(t *testing.T) {
	s := NewSlimmer(200)
	got := s.Slim(models.RoleUser, []models.ContentBlock{models.ImageBlock("image/jpeg", "base64data")})
	if got[0].Type != models.BlockText || got[0].Text != imageMarker {
		t.Errorf("expected fixed image marker, got %+v", got[0])
	}
	if got[0].Data != "" {
		t.Error("image payload should be dropped at persistence")
	}
}

func TestSlimMarksErrorStatus(t *testing.T) {
	s := NewSlimmer(10)
	got := s.Slim(models.RoleTool, []models.ContentBlock{
		models.ToolResultBlock("c1", "something went quite wrong here", true),
	})
	if !strings.Contains(got[0].Content, "error result") {
		t.Errorf("expected error status in summary: %q", got[0].Content)
	}
}
