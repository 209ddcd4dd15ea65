// Package recog provides speech-to-text backends that stream recognized
// utterances over a channel. Wake-word handling happens downstream; the
// backends only turn audio into text.
package recog

import (
	"regexp"
	"strings"
)

// envAnnotation matches environmental annotations some models emit,
// like "(keyboard clicking)", "[laughter]", "(speaking French)".
var envAnnotation = regexp.MustCompile(`[\(\[][a-zA-Z][a-zA-Z\s]*[\)\]]`)

// Junk tokens stripped from anywhere in a transcription.
var junkTokens = []string{
	"[BLANK_AUDIO]",
	"[BLANK AUDIO]",
	"(silence)",
	"[silence]",
	"(no speech)",
	"[no speech]",
	"[Music]",
	"(music)",
}

// Hallucinations some models produce on near-silent audio. Dropped only
// when they are the entire utterance.
var hallucinations = []string{
	"thank you.",
	"thank you",
	"thanks for watching.",
	"thanks for watching",
	"you",
	"bye.",
	"bye",
	".",
}

// cleanTranscription normalizes whitespace and strips model artifacts.
// Returns "" when nothing meaningful remains.
func cleanTranscription(s string) string {
	s = strings.ReplaceAll(s, "\r\n", " ")
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "\r", " ")

	for _, junk := range junkTokens {
		s = strings.ReplaceAll(s, junk, " ")
	}
	s = envAnnotation.ReplaceAllString(s, " ")
	s = strings.Join(strings.Fields(s), " ")
	s = strings.TrimSpace(s)

	lower := strings.ToLower(s)
	for _, h := range hallucinations {
		if lower == h {
			return ""
		}
	}
	return s
}
