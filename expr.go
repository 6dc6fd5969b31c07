package arbiter

import (
	"strings"

	"github.com/dshills/arbiter/topic"
)

// splitTopics expands a topic expression into individual topic names. An
// expression is a single topic, a slice of topics, or a string of topics
// separated by commas with optional surrounding whitespace. Anything
// else is the input-shape error.
//
// A plain string without a comma passes through verbatim; the empty
// string is the root topic, and leading or trailing dots are not
// normalized.
func splitTopics(v any) ([]string, error) {
	switch t := v.(type) {
	case string:
		return splitExpr(t), nil
	case topic.Topic:
		return splitExpr(string(t)), nil
	case []string:
		out := make([]string, len(t))
		copy(out, t)
		return out, nil
	case []topic.Topic:
		out := make([]string, len(t))
		for i, name := range t {
			out[i] = string(name)
		}
		return out, nil
	default:
		return nil, ErrTopicNotString
	}
}

func splitExpr(s string) []string {
	if !strings.Contains(s, ",") {
		return []string{s}
	}
	parts := strings.Split(s, ",")
	out := make([]string, len(parts))
	for i, p := range parts {
		out[i] = strings.TrimSpace(p)
	}
	return out
}

// topicName validates a single topic argument. Publish accepts only a
// single topic, never an expression.
func topicName(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case topic.Topic:
		return string(t), true
	default:
		return "", false
	}
}
