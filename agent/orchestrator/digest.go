package orchestrator

import (
	"strconv"
	"strings"

	"github.com/mottych/purposepath-ai/agent/session"
)

// maxDigestTurns bounds the resume digest to the last N user+assistant turn
// pairs, keeping the resume prompt's size independent of conversation
// length.
const maxDigestTurns = 6

// buildResumeDigest produces a deterministic, bounded-length summary of the
// prior conversation for the resume template's conversation-summary
// parameter. It does not invoke the model (spec.md 4.5: "does not itself
// require an LLM call"): it is the last N user and assistant turns,
// verbatim, role-prefixed.
func buildResumeDigest(messages []session.Message) string {
	var turns []session.Message
	for _, m := range messages {
		if m.Role == session.RoleUser || m.Role == session.RoleAssistant {
			turns = append(turns, m)
		}
	}
	if len(turns) > maxDigestTurns*2 {
		turns = turns[len(turns)-maxDigestTurns*2:]
	}

	var b strings.Builder
	for _, m := range turns {
		b.WriteString(strings.ToUpper(string(m.Role)))
		if m.Turn > 0 {
			b.WriteString(" (turn ")
			b.WriteString(strconv.Itoa(m.Turn))
			b.WriteString(")")
		}
		b.WriteString(": ")
		b.WriteString(m.Content)
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// serializeTranscript produces the deterministic, role-prefixed,
// chronological serialization of the full conversation used as the
// extraction call's user message (spec.md 4.5 step 1).
func serializeTranscript(messages []session.Message) string {
	var b strings.Builder
	for _, m := range messages {
		b.WriteString(strings.ToUpper(string(m.Role)))
		b.WriteString(": ")
		b.WriteString(m.Content)
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
