package sieve

import (
	"regexp"
	"strings"
)

// Previously injected recall context must never be re-ingested as new
// facts, so every inbound message is stripped of our own markers and
// common chat-ML framing before extraction.
var (
	cortexTagRe    = regexp.MustCompile(`(?s)<cortex_memory[^>]*>.*?</cortex_memory>`)
	chatMLRe       = regexp.MustCompile(`<\|im_(?:start|end)\|>`)
	roleMarkerRe   = regexp.MustCompile(`(?mi)^\s*(?:system|assistant|tool|function)\s*:\s*`)
	capabilityRe   = regexp.MustCompile(`(?i)\[(?:memory|context|system) (?:injected|capability|note)[^\]]*\]`)
	whitespaceRuns = regexp.MustCompile(`[ \t]{2,}`)
)

// Sanitize strips injected memory tags, role markers and chat-ML
// framing, then collapses leftover whitespace.
func Sanitize(text string) string {
	text = cortexTagRe.ReplaceAllString(text, "")
	text = chatMLRe.ReplaceAllString(text, "")
	text = roleMarkerRe.ReplaceAllString(text, "")
	text = capabilityRe.ReplaceAllString(text, "")
	text = whitespaceRuns.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}
