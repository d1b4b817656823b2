package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/openclaw/botforge-relay/internal/aiclient"
	"github.com/openclaw/botforge-relay/internal/model"
)

// Completer is the upstream chat completion call.
type Completer interface {
	Complete(ctx context.Context, modelID string, messages []aiclient.Message) (string, error)
}

// Generator turns a bot description into runnable bot source.
type Generator interface {
	Generate(ctx context.Context, modelID, description, credential string) ([]byte, error)
}

const generationPrompt = `Write a Telegram bot in Python using aiogram 3.x.
Requirements:
1. The bot must match this description: %s
2. Use aiogram 3.x
3. Bot token: %s
4. The code must be complete and ready to run
5. Add basic functionality and a /start command
6. Use async/await
7. Return ONLY Python code, with no explanations and no markdown
8. The code must start with import and end with asyncio.run(main())`

type CodeGenerator struct {
	completer Completer
}

func NewCodeGenerator(completer Completer) *CodeGenerator {
	return &CodeGenerator{completer: completer}
}

func (g *CodeGenerator) Generate(ctx context.Context, modelID, description, credential string) ([]byte, error) {
	messages := []aiclient.Message{
		{Role: model.RoleSystem, Content: fmt.Sprintf(generationPrompt, description, credential)},
		{Role: model.RoleUser, Content: "Create the bot: " + description},
	}

	reply, err := g.completer.Complete(ctx, modelID, messages)
	if err != nil {
		return nil, err
	}

	code := stripCodeFences(reply)
	if code == "" {
		return nil, fmt.Errorf("upstream returned no code")
	}
	return []byte(code + "\n"), nil
}

func stripCodeFences(s string) string {
	s = strings.ReplaceAll(s, "```python", "")
	s = strings.ReplaceAll(s, "```py", "")
	s = strings.ReplaceAll(s, "```", "")
	return strings.TrimSpace(s)
}
