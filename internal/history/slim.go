package history

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/corvid-labs/rook/pkg/models"
)

// DefaultSlimThreshold is the serialized size above which a tool result is
// replaced by a summary when the turn is persisted.
const DefaultSlimThreshold = 200

const (
	slimmedPrefix = "[slimmed]"
	imageMarker   = "[image attachment]"
)

// Slimmer rewrites completed turns before persistence. It is idempotent:
// slimming an already-slimmed turn is a no-op.
type Slimmer struct {
	Threshold int
}

// NewSlimmer returns a Slimmer with the given threshold; zero or negative
// selects the default.
func NewSlimmer(threshold int) *Slimmer {
	if threshold <= 0 {
		threshold = DefaultSlimThreshold
	}
	return &Slimmer{Threshold: threshold}
}

// Slim is the persist-time hook. Assistant text is kept verbatim; tool
// results above the threshold, or carrying an artifact path, are reduced to
// a one-line summary; non-text blocks collapse to fixed markers.
func (s *Slimmer) Slim(role models.Role, blocks []models.ContentBlock) []models.ContentBlock {
	out := make([]models.ContentBlock, 0, len(blocks))
	for _, b := range blocks {
		switch b.Type {
		case models.BlockImage:
			out = append(out, models.TextBlock(imageMarker))
		case models.BlockToolResult:
			out = append(out, s.slimResult(b))
		default:
			out = append(out, b)
		}
	}
	return out
}

func (s *Slimmer) slimResult(b models.ContentBlock) models.ContentBlock {
	if strings.HasPrefix(b.Content, slimmedPrefix) {
		return b
	}
	path := artifactPath(b.Content)
	if path == "" && len(b.Content) <= s.Threshold {
		return b
	}
	b.Content = summarize(b.Content, path, b.IsError)
	return b
}

// artifactPath extracts the output_path field from a JSON tool result, if
// one exists. Delegated-process results always carry one.
func artifactPath(content string) string {
	var payload struct {
		OutputPath string `json:"output_path"`
	}
	if err := json.Unmarshal([]byte(content), &payload); err != nil {
		return ""
	}
	return payload.OutputPath
}

// summarize builds the deterministic one-line replacement. No model call is
// involved; the rule is size plus status plus artifact reference.
func summarize(content, path string, isError bool) string {
	status := "ok"
	if isError {
		status = "error"
	}
	head := firstLine(content)
	if len(head) > 80 {
		head = head[:80] + "..."
	}
	if path != "" {
		return fmt.Sprintf("%s %s result (%d chars): %s (full output: %s)",
			slimmedPrefix, status, len(content), head, path)
	}
	return fmt.Sprintf("%s %s result (%d chars): %s", slimmedPrefix, status, len(content), head)
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
