package persona

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ent0n29/companion/internal/emotion"
)

func TestBuiltinPersonasValidate(t *testing.T) {
	for _, p := range Builtin() {
		assert.NoError(t, p.Validate(), p.ID)
	}
}

func TestLookupFallsBackToDefault(t *testing.T) {
	r := NewRegistry()

	p, ok := r.Lookup("yui_natural")
	assert.True(t, ok)
	assert.Equal(t, "yui_natural", p.ID)

	p, ok = r.Lookup("nobody")
	assert.False(t, ok)
	assert.Equal(t, DefaultID, p.ID)

	p, ok = r.Lookup("")
	assert.False(t, ok)
	assert.Equal(t, DefaultID, p.ID)
}

func TestTopicBoostMatches(t *testing.T) {
	r := NewRegistry()
	rei, _ := r.Lookup("rei_engineer")
	require.NotNil(t, rei.TopicBoost)

	assert.True(t, rei.TopicBoost.Matches("Dockerの使い方を教えて"))
	assert.True(t, rei.TopicBoost.Matches("i like python"))
	assert.False(t, rei.TopicBoost.Matches("今日はいい天気ですね"))
	assert.Equal(t, emotion.Happy, rei.TopicBoost.Emotion)

	var none *TopicBoost
	assert.False(t, none.Matches("python"))
}

func TestLoadYAMLOverridesBuiltin(t *testing.T) {
	doc := []byte(`
personas:
  - id: friendly
    display_name: Buddy
    system_prompt: You are a relaxed friend.
    style_hint: "Reply casually:"
    labels:
      name: "User name"
      preferences: "User likes"
      history_header: "Earlier"
      input: "User says"
  - id: coach
    system_prompt: You are a running coach.
    style_hint: "Reply with energy:"
    topic_boost:
      keywords: [marathon]
      directive: Talk about training plans.
      emotion: surprised
`)
	overrides, err := LoadYAML(doc)
	require.NoError(t, err)
	require.Len(t, overrides, 2)

	r := NewRegistry(overrides...)
	friend, ok := r.Lookup("friendly")
	require.True(t, ok)
	assert.Equal(t, "Buddy", friend.DisplayName)
	assert.Equal(t, "User says", friend.Labels.Input)

	coach, ok := r.Lookup("coach")
	require.True(t, ok)
	assert.Equal(t, "coach", coach.DisplayName)
	assert.Equal(t, "ユーザーの名前", coach.Labels.Name)
	assert.Equal(t, "Reply with energy:", coach.TopicBoost.StyleHint)
	assert.Len(t, r.List(), 4)
}

func TestLoadYAMLRejectsInvalid(t *testing.T) {
	tests := map[string]string{
		"missing prompt": "personas:\n  - id: x\n    style_hint: y\n",
		"bad emotion":    "personas:\n  - id: x\n    system_prompt: p\n    style_hint: y\n    topic_boost:\n      keywords: [a]\n      emotion: angry\n",
		"duplicate":      "personas:\n  - id: x\n    system_prompt: p\n    style_hint: y\n  - id: x\n    system_prompt: p\n    style_hint: y\n",
		"not yaml":       "personas: [",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := LoadYAML([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoadFileMissingIsEmpty(t *testing.T) {
	got, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "personas.yaml")
	require.NoError(t, os.WriteFile(path, []byte("personas:\n  - id: x\n    system_prompt: p\n    style_hint: y\n"), 0o600))
	got, err := LoadFile(path)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "x", got[0].ID)
}
