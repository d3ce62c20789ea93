package signals

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// smallTalkExact matches after lowercasing and stripping punctuation.
var smallTalkExact = map[string]bool{
	// English.
	"hi": true, "hello": true, "hey": true, "yo": true, "sup": true,
	"thanks": true, "thank you": true, "thx": true, "ty": true,
	"ok": true, "okay": true, "kk": true, "cool": true, "nice": true,
	"great": true, "awesome": true, "perfect": true, "got it": true,
	"bye": true, "goodbye": true, "see you": true, "good night": true,
	"good morning": true, "good afternoon": true, "good evening": true,
	"how are you": true, "whats up": true, "lol": true, "haha": true,
	"yes": true, "no": true, "yep": true, "nope": true, "sure": true,

	// Chinese.
	"你好": true, "您好": true, "嗨": true, "谢谢": true, "多谢": true,
	"好的": true, "好": true, "嗯": true, "再见": true, "拜拜": true,
	"早上好": true, "晚上好": true, "晚安": true, "哈哈": true,

	// Japanese.
	"こんにちは": true, "こんばんは": true, "おはよう": true,
	"おはようございます": true, "ありがとう": true,
	"ありがとうございます": true, "はい": true, "いいえ": true,
	"さようなら": true, "おやすみ": true, "おやすみなさい": true,
	"よろしく": true, "よろしくお願いします": true, "了解": true,
}

var smallTalkPrefix = regexp.MustCompile(`(?i)^(hi|hello|hey|thanks|thank you|good (morning|afternoon|evening|night))\b[\s!,.]*$`)

var punctStripper = regexp.MustCompile(`[\p{P}\p{S}]+`)

// IsSmallTalk reports whether the text is a pure greeting or filler with
// no extractable content. The sieve skips the deep channel for these and
// the gate returns empty context.
func IsSmallTalk(text string) bool {
	norm := strings.ToLower(strings.TrimSpace(text))
	if norm == "" {
		return true
	}

	stripped := strings.TrimSpace(punctStripper.ReplaceAllString(norm, " "))
	stripped = strings.Join(strings.Fields(stripped), " ")
	if smallTalkExact[stripped] {
		return true
	}
	if smallTalkPrefix.MatchString(norm) {
		return true
	}

	// A very short message with no detected signal carries nothing worth
	// the LLM round trip.
	if utf8.RuneCountInString(stripped) <= 2 && len(Detect(text)) == 0 {
		return true
	}
	return false
}
