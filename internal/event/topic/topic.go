// Package topic names events with dot-separated paths and matches them
// against subscription patterns.
//
// In a pattern, "*" stands for exactly one segment and "**" for any number
// of segments, including none: "document.**" matches "document" and
// "document.layer.updated".
package topic

import "strings"

// Topic is an event name such as "history.affect", or a pattern.
type Topic string

func (t Topic) String() string { return string(t) }

// Child returns t extended by one segment.
func (t Topic) Child(segment string) Topic {
	if t == "" {
		return Topic(segment)
	}
	return t + "." + Topic(segment)
}

// IsValid reports whether t is non-empty and has no empty segment.
func (t Topic) IsValid() bool {
	s := string(t)
	return s != "" && !strings.HasPrefix(s, ".") && !strings.HasSuffix(s, ".") && !strings.Contains(s, "..")
}

// Matches reports whether the topic t is selected by pattern.
func (t Topic) Matches(pattern Topic) bool {
	return matchSegments(strings.Split(string(t), "."), strings.Split(string(pattern), "."))
}

func matchSegments(name, pat []string) bool {
	if len(pat) == 0 {
		return len(name) == 0
	}
	switch pat[0] {
	case "**":
		for skip := 0; skip <= len(name); skip++ {
			if matchSegments(name[skip:], pat[1:]) {
				return true
			}
		}
		return false
	case "*":
		return len(name) > 0 && matchSegments(name[1:], pat[1:])
	default:
		return len(name) > 0 && name[0] == pat[0] && matchSegments(name[1:], pat[1:])
	}
}
