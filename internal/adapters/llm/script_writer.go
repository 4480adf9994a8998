package llm

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/manthysbr/reelforge/internal/core/domain"
)

// TextGenerator is a prompt-in, text-out language model backend.
type TextGenerator interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

var styleInstructions = map[domain.Style]string{
	domain.StyleNews:          "Write in a professional, informative news style with clear, concise language. Use present tense and include relevant facts and statistics.",
	domain.StyleSocial:        "Write in an engaging, conversational style suited to social media. Use short sentences and end with a call to action.",
	domain.StyleEducational:   "Write in an explanatory style that breaks complex ideas into understandable concepts. Use analogies and examples.",
	domain.StyleEntertainment: "Write in an entertaining style with humor and personality. Use storytelling to keep the audience hooked.",
	domain.StyleDocumentary:   "Write in a documentary style with an authoritative voice, detailed explanations and historical context where relevant.",
}

// ScriptWriter implements domain.ScriptGenerator on top of a TextGenerator.
type ScriptWriter struct {
	gen            TextGenerator
	wordsPerMinute int
}

func NewScriptWriter(gen TextGenerator, wordsPerMinute int) *ScriptWriter {
	return &ScriptWriter{gen: gen, wordsPerMinute: wordsPerMinute}
}

// Generate writes narration for topic sized to durationSeconds.
func (w *ScriptWriter) Generate(ctx context.Context, topic string, style domain.Style, durationSeconds int) (string, error) {
	prompt := BuildPrompt(topic, style, durationSeconds, w.wordsPerMinute)

	raw, err := w.gen.Complete(ctx, prompt)
	if err != nil {
		return "", domain.NewGenerationError("language model request failed", err)
	}

	script := CleanScript(raw)
	if script == "" {
		return "", domain.NewGenerationError("language model returned an empty script", nil)
	}
	return script, nil
}

// BuildPrompt renders the narration prompt for a topic and style.
func BuildPrompt(topic string, style domain.Style, durationSeconds, wordsPerMinute int) string {
	words := domain.WordBudget(durationSeconds, wordsPerMinute)
	instruction, ok := styleInstructions[style]
	if !ok {
		instruction = styleInstructions[domain.StyleNews]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "You are an expert writer of %s video scripts. Write a voiceover script about %q that is about %d words long.\n\n", style, topic, words)
	fmt.Fprintf(&b, "Style: %s\n\n", instruction)
	b.WriteString("Requirements:\n")
	fmt.Fprintf(&b, "- About %d words\n", words)
	b.WriteString("- An engaging opening hook\n")
	b.WriteString("- A clear beginning, middle and end\n")
	b.WriteString("- A natural speaking rhythm for narration\n")
	b.WriteString("- Plain spoken text only: no titles, stage directions, markdown or speaker labels\n\n")
	fmt.Fprintf(&b, "Topic: %s\nDuration: %d seconds\n\nScript:", topic, durationSeconds)
	return b.String()
}

var (
	stageDirection = regexp.MustCompile(`\[[^\]]*\]|\([^)]*(?:music|pause|sfx|sound)[^)]*\)`)
	scriptLabel    = regexp.MustCompile(`(?i)^(script|narrator|voiceover|title)\s*:\s*`)
)

// CleanScript strips the decoration models like to add around narration.
func CleanScript(raw string) string {
	lines := strings.Split(raw, "\n")
	kept := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.NewReplacer("**", "", "__", "").Replace(line)
		line = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(line), "#"))
		line = scriptLabel.ReplaceAllString(line, "")
		line = stageDirection.ReplaceAllString(line, "")
		line = strings.Trim(strings.TrimSpace(line), `"`)
		if line != "" {
			kept = append(kept, line)
		}
	}
	return strings.Join(strings.Fields(strings.Join(kept, " ")), " ")
}

// Unconfigured is the script generator used when no language model is set up.
type Unconfigured struct{}

func (Unconfigured) Generate(context.Context, string, domain.Style, int) (string, error) {
	return "", domain.NewGenerationError("script generation is not configured", nil)
}
