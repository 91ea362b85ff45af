package handoff

import (
	"strings"
)

// MessageFilter rewrites the message history sent with a handoff. Filters
// never modify their input slice.
type MessageFilter func([]Message) []Message

// KeepLastN keeps only the trailing n messages.
func KeepLastN(n int) MessageFilter {
	return func(msgs []Message) []Message {
		if n <= 0 {
			return []Message{}
		}
		if len(msgs) > n {
			msgs = msgs[len(msgs)-n:]
		}
		return append([]Message(nil), msgs...)
	}
}

// RemoveToolMessages drops tool results and assistant tool calls.
func RemoveToolMessages() MessageFilter {
	return func(msgs []Message) []Message {
		out := make([]Message, 0, len(msgs))
		for _, m := range msgs {
			if m.Role == RoleTool || (m.Role == RoleAssistant && m.ToolName != "") {
				continue
			}
			out = append(out, m)
		}
		return out
	}
}

// WithSystemContext prepends a system message for the receiving agent.
func WithSystemContext(text string) MessageFilter {
	return func(msgs []Message) []Message {
		out := make([]Message, 0, len(msgs)+1)
		out = append(out, Message{Role: RoleSystem, Content: text})
		return append(out, msgs...)
	}
}

// Chain applies filters in order.
func Chain(filters ...MessageFilter) MessageFilter {
	return func(msgs []Message) []Message {
		out := append([]Message(nil), msgs...)
		for _, f := range filters {
			if f != nil {
				out = f(out)
			}
		}
		return out
	}
}

const (
	transferPrefix = "transfer_to_"
	transferSuffix = "_agent"
)

// TransferToolName returns the tool name announcing a transfer to agent,
// e.g. "transfer_to_script_agent".
func TransferToolName(agent string) string {
	return transferPrefix + agent + transferSuffix
}

// ParseTransferToolName extracts the target agent from a transfer tool name.
func ParseTransferToolName(name string) (string, bool) {
	if !strings.HasPrefix(name, transferPrefix) || !strings.HasSuffix(name, transferSuffix) {
		return "", false
	}
	agent := strings.TrimSuffix(strings.TrimPrefix(name, transferPrefix), transferSuffix)
	if agent == "" {
		return "", false
	}
	return agent, true
}
