package notifier

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRenderMarkdown(t *testing.T) {
	msg := StructuredMessage{
		Icon:  "⚠️",
		Title: "Position mismatch",
		Sections: []MessageSection{
			{Title: "Details", Lines: []string{"tracked long 1.0", "exchange reports long 0.5", "  ", ""}},
		},
		Footer:    "bot: bot-1",
		Timestamp: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	body := msg.RenderMarkdown()
	assert.Contains(t, body, "Position mismatch")
	assert.Contains(t, body, "- tracked long 1.0")
	assert.Contains(t, body, "bot: bot-1")
	assert.Contains(t, body, "Time: 2026-03-01")
	// blank lines are dropped
	assert.NotContains(t, body, "- \n")
}

func TestRenderMarkdownEscapesFences(t *testing.T) {
	msg := StructuredMessage{
		Title: "Alert",
		Sections: []MessageSection{
			{Lines: []string{"payload ``` injection"}},
		},
	}
	assert.Contains(t, msg.RenderMarkdown(), "''' ")
}

func TestRenderMarkdownTruncates(t *testing.T) {
	long := strings.Repeat("x", 5000)
	msg := StructuredMessage{Title: "Big", Sections: []MessageSection{{Lines: []string{long}}}}
	body := msg.RenderMarkdown()
	assert.LessOrEqual(t, len(body), maxStructuredMessageLen+3)
	assert.True(t, strings.HasSuffix(body, "..."))
}
