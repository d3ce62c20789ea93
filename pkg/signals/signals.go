// Package signals detects high-confidence atomic facts in raw user text
// with language-aware regex patterns. It runs on every ingest, costs
// microseconds, and never calls an LLM: the fast channel writes these
// facts immediately while the deep channel is still in flight.
package signals

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/cortexmem/cortex/pkg/model"
)

// DetectedSignal is one regex-extracted fact, ready for the memory
// writer.
type DetectedSignal struct {
	Category   model.Category
	Content    string
	Importance float64
	Confidence float64
	Pattern    string
}

type pattern struct {
	name       string
	re         *regexp.Regexp
	category   model.Category
	template   string
	importance float64
	confidence float64
	// maxLen drops captures too long to be the atomic fact the pattern
	// targets (regex greed across clause boundaries).
	maxLen int
}

var patterns = []pattern{
	// English.
	{
		name:       "en_name",
		re:         regexp.MustCompile(`(?i)\bmy name(?:'s| is)\s+([A-Z][\w'-]+(?:\s+[A-Z][\w'-]+)?)`),
		category:   model.CategoryIdentity,
		template:   "User's name is %s",
		importance: 0.9, confidence: 0.95, maxLen: 40,
	},
	{
		name:       "en_call_me",
		re:         regexp.MustCompile(`(?i)\b(?:please )?call me\s+([A-Z][\w'-]+)`),
		category:   model.CategoryIdentity,
		template:   "User wants to be called %s",
		importance: 0.85, confidence: 0.9, maxLen: 30,
	},
	{
		name:       "en_profession",
		re:         regexp.MustCompile(`(?i)\bi(?:'m| am)\s+an?\s+([\w][\w\s-]{2,40}?)\s*(?:\.|,|!|$|\bat\b|\bin\b|\bfor\b)`),
		category:   model.CategoryIdentity,
		template:   "User is a %s",
		importance: 0.8, confidence: 0.8, maxLen: 45,
	},
	{
		name:       "en_works_at",
		re:         regexp.MustCompile(`(?i)\bi work (?:at|for)\s+([A-Z][\w&.'-]+(?:\s+[A-Z][\w&.'-]+)?)`),
		category:   model.CategoryIdentity,
		template:   "User works at %s",
		importance: 0.8, confidence: 0.9, maxLen: 50,
	},
	{
		name:       "en_location",
		re:         regexp.MustCompile(`(?i)\bi (?:live|am based|'m based)\s+in\s+([A-Z][\w'-]+(?:\s+[A-Z][\w'-]+)?)`),
		category:   model.CategoryIdentity,
		template:   "User lives in %s",
		importance: 0.8, confidence: 0.9, maxLen: 50,
	},
	{
		name:       "en_likes",
		re:         regexp.MustCompile(`(?i)\bi (?:really )?(?:love|like|prefer|enjoy)\s+(?:using\s+)?([\w][\w\s.+#'-]{1,50}?)\s*(?:\.|,|!|$|\bover\b|\bbecause\b|\bfor\b)`),
		category:   model.CategoryPreference,
		template:   "User likes %s",
		importance: 0.6, confidence: 0.8, maxLen: 55,
	},
	{
		name:       "en_dislikes",
		re:         regexp.MustCompile(`(?i)\bi (?:really )?(?:hate|dislike|can't stand|don't like)\s+([\w][\w\s.+#'-]{1,50}?)\s*(?:\.|,|!|$|\bbecause\b)`),
		category:   model.CategoryPreference,
		template:   "User dislikes %s",
		importance: 0.6, confidence: 0.8, maxLen: 55,
	},
	{
		name:       "en_constraint",
		re:         regexp.MustCompile(`(?i)\b(?:never|always|don't ever|do not ever)\s+([\w][\w\s.'-]{3,60}?)\s*(?:\.|,|!|$)`),
		category:   model.CategoryConstraint,
		template:   "Constraint: %s %s",
		importance: 0.85, confidence: 0.75, maxLen: 70,
	},

	// Chinese.
	{
		name:       "zh_name",
		re:         regexp.MustCompile(`我(?:叫|的名字是)([\p{Han}A-Za-z·]{1,10})`),
		category:   model.CategoryIdentity,
		template:   "User's name is %s",
		importance: 0.9, confidence: 0.95, maxLen: 20,
	},
	{
		name:       "zh_profession",
		re:         regexp.MustCompile(`我是(?:一名|一个|一位)?([\p{Han}A-Za-z]{2,12}(?:师|员|家|生|者|手))`),
		category:   model.CategoryIdentity,
		template:   "User is a %s",
		importance: 0.8, confidence: 0.8, maxLen: 20,
	},
	{
		name:       "zh_location",
		re:         regexp.MustCompile(`我(?:住在|在)([\p{Han}A-Za-z]{2,12})(?:生活|工作|$|。|，|,)`),
		category:   model.CategoryIdentity,
		template:   "User lives in %s",
		importance: 0.8, confidence: 0.85, maxLen: 20,
	},
	{
		name:       "zh_likes",
		re:         regexp.MustCompile(`我(?:很|非常|特别)?喜欢([\p{Han}A-Za-z0-9+#]{1,20})`),
		category:   model.CategoryPreference,
		template:   "User likes %s",
		importance: 0.6, confidence: 0.8, maxLen: 25,
	},
	{
		name:       "zh_dislikes",
		re:         regexp.MustCompile(`我(?:很)?(?:讨厌|不喜欢)([\p{Han}A-Za-z0-9+#]{1,20})`),
		category:   model.CategoryPreference,
		template:   "User dislikes %s",
		importance: 0.6, confidence: 0.8, maxLen: 25,
	},

	// Japanese.
	{
		name:       "ja_name",
		re:         regexp.MustCompile(`(?:私の名前は|僕の名前は)([\p{Han}\p{Hiragana}\p{Katakana}A-Za-z・ー]{1,12})(?:です|だ|$)`),
		category:   model.CategoryIdentity,
		template:   "User's name is %s",
		importance: 0.9, confidence: 0.95, maxLen: 20,
	},
	{
		name:       "ja_name_moushimasu",
		re:         regexp.MustCompile(`([\p{Han}\p{Hiragana}\p{Katakana}A-Za-z・ー]{1,12})と(?:申します|いいます|言います)`),
		category:   model.CategoryIdentity,
		template:   "User's name is %s",
		importance: 0.9, confidence: 0.9, maxLen: 20,
	},
	{
		name:       "ja_location",
		re:         regexp.MustCompile(`([\p{Han}\p{Hiragana}\p{Katakana}A-Za-z・ー]{1,12})に住んで(?:います|いる|ます)`),
		category:   model.CategoryIdentity,
		template:   "User lives in %s",
		importance: 0.8, confidence: 0.85, maxLen: 20,
	},
	{
		name:       "ja_likes",
		re:         regexp.MustCompile(`([\p{Han}\p{Hiragana}\p{Katakana}A-Za-z0-9・ー+#]{1,20})が(?:大好き|好き)です`),
		category:   model.CategoryPreference,
		template:   "User likes %s",
		importance: 0.6, confidence: 0.8, maxLen: 25,
	},
	{
		name:       "ja_dislikes",
		re:         regexp.MustCompile(`([\p{Han}\p{Hiragana}\p{Katakana}A-Za-z0-9・ー+#]{1,20})が(?:嫌い|苦手)です`),
		category:   model.CategoryPreference,
		template:   "User dislikes %s",
		importance: 0.6, confidence: 0.8, maxLen: 25,
	},
}

// Detect runs every pattern over the user text and returns the distinct
// facts found. Results are deduplicated by category plus rendered
// content.
func Detect(text string) []DetectedSignal {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	var out []DetectedSignal
	seen := map[string]bool{}

	for _, p := range patterns {
		for _, match := range p.re.FindAllStringSubmatch(text, -1) {
			content := render(p, match)
			if content == "" {
				continue
			}
			key := string(p.category) + "|" + strings.ToLower(content)
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, DetectedSignal{
				Category:   p.category,
				Content:    content,
				Importance: p.importance,
				Confidence: p.confidence,
				Pattern:    p.name,
			})
		}
	}
	return out
}

func render(p pattern, match []string) string {
	if len(match) < 2 {
		return ""
	}
	capture := strings.TrimSpace(match[1])
	if capture == "" || (p.maxLen > 0 && len(capture) > p.maxLen) {
		return ""
	}

	if p.name == "en_constraint" {
		verb := "always"
		head := strings.ToLower(match[0])
		if strings.HasPrefix(head, "never") || strings.Contains(head, "ever") {
			verb = "never"
		}
		return fmt.Sprintf(p.template, verb, capture)
	}
	return fmt.Sprintf(p.template, capture)
}
