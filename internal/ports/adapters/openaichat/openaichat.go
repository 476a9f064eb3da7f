// Package openaichat produces AI annotations through the OpenAI chat API.
// The pipeline calls it only for sentences with no cached annotation; repeats
// are served from the store.
package openaichat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/forPelevin/dejavu/internal/ports"
)

const requestTimeout = 60 * time.Second

type Adapter struct {
	cli        *openai.Client
	model      string
	targetLang string
}

var _ ports.Annotator = (*Adapter)(nil)

// New builds an adapter against api.openai.com or any compatible endpoint
// (baseURL may be empty for the default). targetLang is the learner's native
// language for translations, e.g. "Russian".
func New(apiKey, model, baseURL, targetLang string) *Adapter {
	if model == "" {
		model = openai.GPT4oMini
	}
	if targetLang == "" {
		targetLang = "Russian"
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &Adapter{cli: openai.NewClientWithConfig(cfg), model: model, targetLang: targetLang}
}

// Client identifies the model behind cached annotations so stale ones can be
// told apart after a model upgrade.
func (a *Adapter) Client() string { return a.model }

func (a *Adapter) Translate(ctx context.Context, text string) (string, error) {
	prompt := fmt.Sprintf(
		"Translate the following spoken sentence into %s. Reply with the translation only, no commentary.\n\n%s",
		a.targetLang, text,
	)
	return a.complete(ctx, prompt)
}

func (a *Adapter) ExplainGrammar(ctx context.Context, text string) (string, error) {
	prompt := fmt.Sprintf(
		"Explain the grammar of the following spoken English sentence for a language learner. "+
			"Cover tense, notable constructions and colloquialisms. Keep it under 150 words.\n\n%s",
		text,
	)
	return a.complete(ctx, prompt)
}

func (a *Adapter) complete(ctx context.Context, prompt string) (string, error) {
	reqCtx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	resp, err := a.cli.CreateChatCompletion(reqCtx, openai.ChatCompletionRequest{
		Model: a.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		if errors.Is(reqCtx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("openai timeout after %s (model=%s)", requestTimeout, a.model)
		}
		return "", fmt.Errorf("openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai: empty response")
	}
	out := strings.TrimSpace(resp.Choices[0].Message.Content)
	if out == "" {
		return "", errors.New("openai: empty content")
	}
	return out, nil
}
