package recog

import "testing"

func TestCleanTranscription(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "stop the alarm", "stop the alarm"},
		{"surrounding whitespace", "  hello there \n", "hello there"},
		{"blank audio marker", "[BLANK_AUDIO]", ""},
		{"marker beside speech", "[BLANK_AUDIO] turn it off", "turn it off"},
		{"env annotation", "(keyboard clicking) what's the news", "what's the news"},
		{"bracket annotation", "[laughter] okay", "okay"},
		{"hallucinated thanks", "Thank you.", ""},
		{"hallucinated watching", "Thanks for watching.", ""},
		{"lone period", ".", ""},
		{"newlines collapsed", "stop\nthe\nalarm", "stop the alarm"},
		{"real thanks kept", "thank you for the reminder", "thank you for the reminder"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := cleanTranscription(tc.in); got != tc.want {
				t.Errorf("cleanTranscription(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}
