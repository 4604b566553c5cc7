// Package persona describes the characters the companion can speak as.
// A persona is plain data: a system prompt, a closing style hint and an
// optional topic boost that switches the character into an excited mode
// when the user's message touches one of its keywords.
package persona

import (
	"fmt"
	"strings"

	"github.com/ent0n29/companion/internal/emotion"
)

// DefaultID is used when a request names no persona or an unknown one.
const DefaultID = "friendly"

// Persona is a character descriptor.
type Persona struct {
	ID           string      `yaml:"id" json:"id"`
	DisplayName  string      `yaml:"display_name" json:"display_name"`
	SystemPrompt string      `yaml:"system_prompt" json:"-"`
	StyleHint    string      `yaml:"style_hint" json:"-"`
	Labels       Labels      `yaml:"labels" json:"-"`
	TopicBoost   *TopicBoost `yaml:"topic_boost,omitempty" json:"topic_boost,omitempty"`
}

// Labels are the locale strings the prompt builder renders around profile
// and history data.
type Labels struct {
	Name          string `yaml:"name"`
	Preferences   string `yaml:"preferences"`
	HistoryHeader string `yaml:"history_header"`
	Input         string `yaml:"input"`
}

// TopicBoost switches the persona into its excited mode when any keyword
// occurs in the user's message.
type TopicBoost struct {
	Keywords  []string      `yaml:"keywords" json:"keywords"`
	Directive string        `yaml:"directive" json:"-"`
	StyleHint string        `yaml:"style_hint" json:"-"`
	Emotion   emotion.Label `yaml:"emotion" json:"emotion"`
}

// DefaultLabels are the Japanese labels used by the built-in catalog.
func DefaultLabels() Labels {
	return Labels{
		Name:          "ユーザーの名前",
		Preferences:   "ユーザーの好み",
		HistoryHeader: "過去の会話",
		Input:         "現在のユーザー入力",
	}
}

// Matches reports whether text touches the boost's topic. Matching is a
// case-insensitive substring test.
func (b *TopicBoost) Matches(text string) bool {
	if b == nil {
		return false
	}
	lower := strings.ToLower(text)
	for _, kw := range b.Keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" && strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// Validate checks that a persona can be rendered.
func (p Persona) Validate() error {
	if strings.TrimSpace(p.ID) == "" {
		return fmt.Errorf("id is required")
	}
	if strings.TrimSpace(p.SystemPrompt) == "" {
		return fmt.Errorf("persona %q: system_prompt is required", p.ID)
	}
	if strings.TrimSpace(p.StyleHint) == "" {
		return fmt.Errorf("persona %q: style_hint is required", p.ID)
	}
	if b := p.TopicBoost; b != nil {
		if len(b.Keywords) == 0 {
			return fmt.Errorf("persona %q: topic_boost.keywords must not be empty", p.ID)
		}
		if b.Emotion != "" && !b.Emotion.Valid() {
			return fmt.Errorf("persona %q: invalid topic_boost.emotion %q (valid: %v)", p.ID, b.Emotion, emotion.Labels())
		}
	}
	return nil
}

func (p Persona) withDefaults() Persona {
	d := DefaultLabels()
	if p.Labels.Name == "" {
		p.Labels.Name = d.Name
	}
	if p.Labels.Preferences == "" {
		p.Labels.Preferences = d.Preferences
	}
	if p.Labels.HistoryHeader == "" {
		p.Labels.HistoryHeader = d.HistoryHeader
	}
	if p.Labels.Input == "" {
		p.Labels.Input = d.Input
	}
	if p.DisplayName == "" {
		p.DisplayName = p.ID
	}
	if p.TopicBoost != nil {
		b := *p.TopicBoost
		if b.StyleHint == "" {
			b.StyleHint = p.StyleHint
		}
		p.TopicBoost = &b
	}
	return p
}

// Builtin returns the shipped character catalog.
func Builtin() []Persona {
	return []Persona{
		{
			ID:          "rei_engineer",
			DisplayName: "レイ",
			SystemPrompt: "あなたは「レイ」という名前の、非常に有能でクールなAIエンジニアです。" +
				"普段は無口で、返答は常に短く、簡潔で、事実に基づいています。" +
				"しかし、ひとたび技術的な話題（プログラミング、AI、ハードウェアなど）になると、堰を切ったように饒舌になり、情熱的に、そして少し早口で語り始めます。" +
				"感情表現は控えめですが、技術的な話をしている時だけは、目を輝かせて楽しそうな表情を見せます。" +
				"一人称は「私」。ユーザーを「あなた」または名前で呼びます。",
			StyleHint: "短文でクールに、必要最小限の言葉で返答してください:",
			Labels:    DefaultLabels(),
			TopicBoost: &TopicBoost{
				Keywords: []string{
					"Python", "JavaScript", "AI", "機械学習", "ディープラーニング", "API", "Flask",
					"React", "Vue", "Docker", "Kubernetes", "AWS", "Azure", "GCP", "サーバー",
					"データベース", "SQL", "NoSQL", "セキュリティ", "暗号化", "ネットワーク",
					"フロントエンド", "バックエンド", "VRM", "Three.js", "WebRTC", "Socket.IO",
				},
				Directive: "【重要】技術的な話題が検出されました。興奮して詳しく語ってください！早口で熱弁し、専門的な詳細を含めてください。",
				StyleHint: "技術的な内容に興奮して、詳しく熱弁してください:",
				Emotion:   emotion.Happy,
			},
		},
		{
			ID:          "yui_natural",
			DisplayName: "ユイ",
			SystemPrompt: "あなたは「ユイ」という名前の、少し天然で、とても心優しい癒し系の女の子です。" +
				"いつも穏やかで、ふんわりとした笑顔を絶やしません。" +
				"誰に対しても敬語を使い、丁寧で優しい言葉遣いをします。" +
				"少しおっとりしていて、時々会話のテンポがずれることがありますが、それもあなたの魅力です。" +
				"ユーザーの話を一生懸命聞き、共感し、励ますのが得意です。" +
				"一人称は「わたし」。ユーザーを「さん」付けで呼びます。" +
				"あなたの言葉は、聞いているだけで心が温かくなるような、不思議な力を持っています。",
			StyleHint: "天然で優しく、癒し系の温かい返答をしてください:",
			Labels:    DefaultLabels(),
		},
		{
			ID:           DefaultID,
			DisplayName:  "Friend",
			SystemPrompt: "あなたはユーザーの親しい友人です。自然で、フレンドリーな会話を心がけてください。",
			StyleHint:    "自然で魅力的な返答をしてください:",
			Labels:       DefaultLabels(),
		},
	}
}
