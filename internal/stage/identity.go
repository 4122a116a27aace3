package stage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/telonlabs/telon/pkg/provider/llm"
)

// Fallback identities used whenever name extraction cannot produce better
// ones.
const (
	defaultAIName    = "AI"
	defaultActorName = "Actor"
)

const namePromptTemplate = `
Analiza el siguiente texto para identificar los nombres de los dos personajes principales.
1.  **AI Character's Name:** Extrae el nombre del personaje de la IA de las "Reglas Generales".
2.  **Actor's Character's Name:** Extrae el nombre del personaje con el que la IA está interactuando de la "Descripción de la Escena".

**Reglas Generales para el Personaje de la IA:**
"%s"

**Descripción de la Escena:**
"%s"

Responde ÚNICAMENTE con un objeto JSON que contenga las claves "aiName" y "actorName". Si no se puede encontrar un nombre, usa "AI" o "Actor" como valor predeterminado respectivamente.
`

// resolveIdentities asks the side-call model for the two character names.
// Best effort: any failure (no provider, call error, unparseable reply)
// falls back to the generic defaults.
func resolveIdentities(ctx context.Context, p llm.Provider, prePrompt, firstScene string) (aiName, actorName string) {
	aiName, actorName = defaultAIName, defaultActorName
	if p == nil {
		return aiName, actorName
	}

	resp, err := p.Complete(ctx, llm.CompletionRequest{
		Messages: []llm.Message{{
			Role:    "user",
			Content: fmt.Sprintf(namePromptTemplate, prePrompt, firstScene),
		}},
	})
	if err != nil || resp == nil {
		slog.Warn("character name extraction failed, using defaults", "error", err)
		return aiName, actorName
	}

	var parsed struct {
		AIName    string `json:"aiName"`
		ActorName string `json:"actorName"`
	}
	if err := json.Unmarshal([]byte(stripCodeFence(resp.Content)), &parsed); err != nil {
		slog.Warn("character name reply is not valid JSON, using defaults", "error", err)
		return aiName, actorName
	}

	if parsed.AIName != "" {
		aiName = parsed.AIName
	}
	if parsed.ActorName != "" {
		actorName = parsed.ActorName
	}
	return aiName, actorName
}

// stripCodeFence removes a surrounding markdown code fence, which some models
// wrap JSON replies in even when told not to.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimSuffix(s, "```")
	if _, rest, ok := strings.Cut(s, "\n"); ok {
		s = rest
	}
	return strings.TrimSpace(s)
}
