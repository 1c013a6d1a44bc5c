package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/meshforge/studio/internal/core/ports"
	"github.com/meshforge/studio/internal/domain"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const staticModelName = "static-template"

var enhanceSuffixes = []string{
	"highly detailed 3D model",
	"clean topology",
	"PBR materials",
	"neutral studio lighting",
}

// StaticEnhancer rewrites prompts from a fixed template. It stands in for the
// LLM providers so the devserver has no network dependencies.
type StaticEnhancer struct{}

func NewStaticEnhancer() *StaticEnhancer {
	return &StaticEnhancer{}
}

func (s *StaticEnhancer) Enhance(ctx context.Context, req domain.PromptEnhanceRequest) (*domain.PromptEnhanceResponse, error) {
	prompt := strings.Join(strings.Fields(req.Prompt), " ")
	if prompt == "" {
		return nil, ErrPromptEmpty
	}
	if len([]rune(prompt)) > domain.MaxPromptLength {
		return nil, fmt.Errorf("%w: prompt exceeds %d characters", domain.ErrInvalidRequest, domain.MaxPromptLength)
	}

	provider := req.Provider
	if provider == "" {
		provider = domain.LLMProviderOllama
	}
	model := req.Model
	if model == "" {
		model = staticModelName
	}

	subject := strings.TrimRight(prompt, ".,;: ")
	// Casers are stateful, so one is built per call.
	enhanced := cases.Title(language.Und).String(subject) + ", " + strings.Join(enhanceSuffixes, ", ")

	return &domain.PromptEnhanceResponse{
		OriginalPrompt: req.Prompt,
		EnhancedPrompt: enhanced,
		Provider:       string(provider),
		ModelUsed:      model,
	}, nil
}

var _ ports.PromptEnhancer = (*StaticEnhancer)(nil)
