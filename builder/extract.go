package builder

import "strings"

var sessionKeys = []string{"sessionId", "sessionID", "session_id", "id", "chatId", "chatID"}

// SessionID finds the session identifier in a decoded chat response. It
// checks the known keys in order, then descends into "data".
func SessionID(payload any) string {
	record, ok := payload.(map[string]any)
	if !ok {
		return ""
	}
	for _, k := range sessionKeys {
		if v, ok := record[k].(string); ok {
			if v = strings.TrimSpace(v); v != "" {
				return v
			}
		}
	}
	if nested, ok := record["data"]; ok && nested != nil {
		return SessionID(nested)
	}
	return ""
}

var messageKeys = []string{"agent_message", "message", "reply", "response", "content"}

var messageLists = []string{"messages", "replies", "responses"}

// AgentMessage finds the agent's reply in a decoded chat response: a bare
// string, one of the known keys, "data", or the first usable element of a
// message list.
func AgentMessage(payload any) string {
	switch v := payload.(type) {
	case string:
		return strings.TrimSpace(v)
	case map[string]any:
		for _, k := range messageKeys {
			if s, ok := v[k].(string); ok {
				if s = strings.TrimSpace(s); s != "" {
					return s
				}
			}
		}
		if nested, ok := v["data"]; ok && nested != nil {
			if s := AgentMessage(nested); s != "" {
				return s
			}
		}
		for _, k := range messageLists {
			items, ok := v[k].([]any)
			if !ok {
				continue
			}
			for _, item := range items {
				if s := AgentMessage(item); s != "" {
					return s
				}
			}
		}
	}
	return ""
}
