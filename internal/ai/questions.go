package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/quizwire/quizwire/internal/game"
)

const questionSystemPrompt = `You write multiple-choice trivia questions. ` +
	`Respond with a JSON array only, no prose. Each element has the keys ` +
	`"prompt", "correctAnswer" and "distractors" (exactly three strings).`

// GenerateQuestions asks the provider for count questions on a topic and
// parses the reply into engine questions.
func GenerateQuestions(ctx context.Context, p Provider, model, topic string, count int) ([]game.Question, error) {
	prompt := fmt.Sprintf("Write %d trivia questions about: %s", count, topic)
	raw, err := p.Complete(ctx, model, questionSystemPrompt, prompt)
	if err != nil {
		return nil, fmt.Errorf("completing: %w", err)
	}

	// Models occasionally wrap the JSON in a markdown fence.
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")

	var questions []game.Question
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &questions); err != nil {
		return nil, fmt.Errorf("decoding generated questions: %w", err)
	}
	for i, q := range questions {
		if q.Prompt == "" || q.CorrectAnswer == "" || len(q.Distractors) != 3 {
			return nil, fmt.Errorf("generated question %d is malformed", i)
		}
	}
	if len(questions) == 0 {
		return nil, fmt.Errorf("no questions generated")
	}
	return questions, nil
}
