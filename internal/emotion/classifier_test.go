package emotion

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		in   string
		want Label
	}{
		{"嬉しいです", Happy},
		{"楽しい時間でした", Happy},
		{"こんにちは！", Happy},
		{"悲しいです", Sad},
		{"疲れました", Sad},
		{"びっくりしました", Surprised},
		{"すごいですね", Surprised},
		{"今日は晴れです", Neutral},
		{"こんにちは", Neutral},
		{"", Neutral},
		{"WOW that is something", Surprised},
		{"I am so Happy today", Happy},
		{"feeling TIRED", Sad},
		{"I am not happy", Happy},
		{"that was so fun", Happy},
		{"I love this song", Happy},
		{"I hate mondays", Sad},
		{"call the function", Neutral},
		{"whatever you say", Neutral},
		{"lost a glove", Neutral},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Classify(tc.in), "Classify(%q)", tc.in)
	}
}

func TestClassifyPriorityAcrossCategories(t *testing.T) {
	assert.Equal(t, Surprised, Classify("嬉しくてびっくりした、でも疲れた"))
	assert.Equal(t, Happy, Classify("悲しいけど、ありがとう"))
	assert.Equal(t, Surprised, Classify("すごい！"))
	assert.Equal(t, Sad, Classify("不安です"))
}

func TestClassifyIsDeterministicAndTotal(t *testing.T) {
	inputs := []string{"a", "元気ですか？", "すごい", "😀", "   ", "悲しい!"}
	for _, in := range inputs {
		first := Classify(in)
		assert.True(t, first.Valid(), "Classify(%q) = %q is not a label", in, first)
		for i := 0; i < 5; i++ {
			assert.Equal(t, first, Classify(in))
		}
	}
}

func TestParse(t *testing.T) {
	l, ok := Parse(" Happy ")
	assert.True(t, ok)
	assert.Equal(t, Happy, l)

	_, ok = Parse("curious")
	assert.False(t, ok)
	_, ok = Parse("")
	assert.False(t, ok)
}
