package agent

import "github.com/everydev1618/pmc/llm"

// Window returns the most recent messages, at most maxMessages of them,
// dropping any leading assistant messages so the window opens on a user turn.
// maxMessages <= 0 keeps everything.
func Window(messages []llm.Message, maxMessages int) []llm.Message {
	if maxMessages > 0 && len(messages) > maxMessages {
		messages = messages[len(messages)-maxMessages:]
	}
	for len(messages) > 0 && messages[0].Role != llm.RoleUser {
		messages = messages[1:]
	}
	out := make([]llm.Message, len(messages))
	copy(out, messages)
	return out
}
