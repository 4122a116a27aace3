package stage

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/telonlabs/telon/pkg/provider/llm"
	llmmock "github.com/telonlabs/telon/pkg/provider/llm/mock"
)

func TestSummarizeScene_ReplacesMemoryWithReply(t *testing.T) {
	t.Parallel()
	p := &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{Content: "\n- Julián y Marta hicieron las paces.\n"},
	}
	turns := []Turn{
		{Author: "Marta", Text: "Perdoname."},
		{Author: "Julián", Text: "Vos también perdoname."},
	}

	got, err := summarizeScene(context.Background(), p, "- Estaban peleados.", turns, "Julián", "Marta")
	if err != nil {
		t.Fatalf("summarizeScene: %v", err)
	}
	if got != "- Julián y Marta hicieron las paces." {
		t.Errorf("summary = %q, want trimmed model reply", got)
	}

	prompt := p.LastRequest().Messages[0].Content
	if !strings.Contains(prompt, "- Estaban peleados.") {
		t.Error("prompt should carry the prior memory")
	}
	if !strings.Contains(prompt, "Marta: Perdoname.\nJulián: Vos también perdoname.") {
		t.Error("prompt should carry the scene transcript in order")
	}
	if !strings.Contains(prompt, "(Personajes: Julián, Marta)") {
		t.Error("prompt should name both characters")
	}
}

func TestSummarizeScene_EmptyMemoryUsesMarker(t *testing.T) {
	t.Parallel()
	p := &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{Content: "- Primer hecho."},
	}

	if _, err := summarizeScene(context.Background(), p, "", []Turn{{Author: "A", Text: "x"}}, "AI", "Actor"); err != nil {
		t.Fatalf("summarizeScene: %v", err)
	}
	if !strings.Contains(p.LastRequest().Messages[0].Content, noPriorFacts) {
		t.Error("empty memory should be marked as the first scene, not sent blank")
	}
}

func TestSummarizeScene_PropagatesCallError(t *testing.T) {
	t.Parallel()
	p := &llmmock.Provider{CompleteErr: errors.New("quota exceeded")}

	_, err := summarizeScene(context.Background(), p, "", []Turn{{Author: "A", Text: "x"}}, "AI", "Actor")
	if err == nil || !strings.Contains(err.Error(), "quota exceeded") {
		t.Errorf("err = %v, want wrapped call error", err)
	}
}

func TestSummarizeScene_NilProviderErrors(t *testing.T) {
	t.Parallel()
	if _, err := summarizeScene(context.Background(), nil, "", []Turn{{Author: "A", Text: "x"}}, "AI", "Actor"); err == nil {
		t.Fatal("expected error with no provider configured")
	}
}
