package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/meshforge/studio/internal/domain"
)

func TestStaticEnhancer(t *testing.T) {
	tests := []struct {
		name         string
		req          domain.PromptEnhanceRequest
		wantPrefix   string
		wantProvider string
		wantErr      error
	}{
		{"defaults", domain.PromptEnhanceRequest{Prompt: "  a   red car. "}, "A Red Car, ", "ollama", nil},
		{"explicit provider", domain.PromptEnhanceRequest{Prompt: "castle", Provider: domain.LLMProviderGroq, Model: "m"}, "Castle, ", "groq", nil},
		{"blank", domain.PromptEnhanceRequest{Prompt: " \t"}, "", "", ErrPromptEmpty},
		{"too long", domain.PromptEnhanceRequest{Prompt: strings.Repeat("x", domain.MaxPromptLength+1)}, "", "", domain.ErrInvalidRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := NewStaticEnhancer().Enhance(context.Background(), tt.req)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Enhance: %v", err)
			}
			if !strings.HasPrefix(resp.EnhancedPrompt, tt.wantPrefix) || resp.Provider != tt.wantProvider {
				t.Errorf("resp = %+v", resp)
			}
			if resp.OriginalPrompt != tt.req.Prompt {
				t.Errorf("original prompt = %q", resp.OriginalPrompt)
			}
		})
	}
}
