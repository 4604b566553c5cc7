// Package prompt renders the text prompt sent to the completion backends.
package prompt

import (
	"strings"

	"github.com/ent0n29/companion/internal/memory"
	"github.com/ent0n29/companion/internal/persona"
)

// HistoryWindow is the number of most recent turns rendered into a prompt.
const HistoryWindow = 10

// Build assembles the prompt for one turn. It is pure: identical inputs
// always render byte-identical output.
//
// Layout: system prompt, optional topic directive, known profile facts,
// recent history (chronological), the current input, and a closing style
// instruction.
func Build(p persona.Persona, profile memory.Profile, history []memory.Turn, input string) string {
	labels := p.Labels
	defaults := persona.DefaultLabels()
	if labels.Name == "" {
		labels.Name = defaults.Name
	}
	if labels.Preferences == "" {
		labels.Preferences = defaults.Preferences
	}
	if labels.HistoryHeader == "" {
		labels.HistoryHeader = defaults.HistoryHeader
	}
	if labels.Input == "" {
		labels.Input = defaults.Input
	}

	boosted := p.TopicBoost.Matches(input)

	var b strings.Builder
	b.WriteString(p.SystemPrompt)
	b.WriteString("\n\n")

	if boosted && p.TopicBoost.Directive != "" {
		b.WriteString(p.TopicBoost.Directive)
		b.WriteString("\n\n")
	}

	if profile.Name != "" {
		writeLine(&b, labels.Name, profile.Name)
	}
	if profile.Preferences != "" {
		writeLine(&b, labels.Preferences, profile.Preferences)
	}

	if len(history) > 0 {
		if len(history) > HistoryWindow {
			history = history[len(history)-HistoryWindow:]
		}
		b.WriteString("\n")
		b.WriteString(labels.HistoryHeader)
		b.WriteString(":\n")
		for _, t := range history {
			writeLine(&b, string(t.Role), t.Content)
		}
	}

	b.WriteString("\n")
	writeLine(&b, labels.Input, input)

	style := p.StyleHint
	if boosted && p.TopicBoost.StyleHint != "" {
		style = p.TopicBoost.StyleHint
	}
	if style != "" {
		b.WriteString("\n")
		b.WriteString(style)
	}
	return b.String()
}

// Boosted reports whether input triggers the persona's topic boost.
func Boosted(p persona.Persona, input string) bool {
	return p.TopicBoost.Matches(input)
}

func writeLine(b *strings.Builder, label, value string) {
	b.WriteString(label)
	b.WriteString(": ")
	b.WriteString(value)
	b.WriteString("\n")
}
