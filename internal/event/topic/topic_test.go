package topic

import "testing"

func TestMatches(t *testing.T) {
	tests := []struct {
		topic   Topic
		pattern Topic
		want    bool
	}{
		{"history.affect", "history.affect", true},
		{"history.affect", "history.*", true},
		{"history.affect", "*", false},
		{"document.layer.updated", "document.**", true},
		{"document", "document.**", true},
		{"document.layer.updated", "**.updated", true},
		{"document.layer.updated", "document.*.removed", false},
		{"config.reloaded", "history.**", false},
	}
	for _, tt := range tests {
		t.Run(string(tt.topic)+"~"+string(tt.pattern), func(t *testing.T) {
			if got := tt.topic.Matches(tt.pattern); got != tt.want {
				t.Errorf("Matches = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsValid(t *testing.T) {
	tests := []struct {
		topic Topic
		want  bool
	}{
		{"history.affect", true},
		{"", false},
		{".a", false},
		{"a..b", false},
		{"a.", false},
	}
	for _, tt := range tests {
		if got := tt.topic.IsValid(); got != tt.want {
			t.Errorf("IsValid(%q) = %v, want %v", tt.topic, got, tt.want)
		}
	}
	if got := Topic("document").Child("layer"); got != "document.layer" {
		t.Errorf("Child = %q", got)
	}
}
