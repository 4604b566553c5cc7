// Package emotion maps text to one of four coarse emotion labels.
//
// The policy is a keyword heuristic: the first category with a matching
// keyword wins, checked in the order surprised, happy, sad. Anything else is
// neutral. Negation is not handled ("not happy" is happy).
package emotion

import "strings"

// Label is an emotion tag attached to a turn.
type Label string

const (
	Happy     Label = "happy"
	Sad       Label = "sad"
	Surprised Label = "surprised"
	Neutral   Label = "neutral"
)

// Labels returns every label the classifier can produce, in priority order.
func Labels() []Label {
	return []Label{Surprised, Happy, Sad, Neutral}
}

// Valid reports whether l is one of the four labels.
func (l Label) Valid() bool {
	switch l {
	case Happy, Sad, Surprised, Neutral:
		return true
	default:
		return false
	}
}

func (l Label) String() string { return string(l) }

type rule struct {
	label    Label
	keywords []string
}

// Keywords are lower-case; input is lower-cased before matching so cased
// alphabets compare case-insensitively.
var rules = []rule{
	{
		label: Surprised,
		keywords: []string{
			"驚いた", "びっくり", "すごい", "信じられない", "まさか",
			"wow", "whoa", "unbelievable", "no way", "amazing", "surprised",
		},
	},
	{
		label: Happy,
		keywords: []string{
			"嬉しい", "楽しい", "幸せ", "好き", "ありがとう", "素晴らしい", "！",
			"happy", "glad", "so fun", "i love", "thanks", "thank you", "great", "!",
		},
	},
	{
		label: Sad,
		keywords: []string{
			"悲しい", "辛い", "嫌い", "疲れ", "困った", "不安",
			"sad", "tired", "lonely", "i hate", "worried", "upset",
		},
	},
}

// Classify returns the emotion label for text. It is pure and total.
func Classify(text string) Label {
	if text == "" {
		return Neutral
	}
	lowered := strings.ToLower(text)
	for _, r := range rules {
		for _, kw := range r.keywords {
			if strings.Contains(lowered, kw) {
				return r.label
			}
		}
	}
	return Neutral
}

// Parse converts a stored label back to a Label. Unknown or empty values
// yield ok=false.
func Parse(raw string) (Label, bool) {
	l := Label(strings.ToLower(strings.TrimSpace(raw)))
	if !l.Valid() {
		return "", false
	}
	return l, true
}
