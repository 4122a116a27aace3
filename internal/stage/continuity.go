package stage

import (
	"context"
	"fmt"
	"strings"

	"github.com/telonlabs/telon/pkg/provider/llm"
)

// noPriorFacts marks an empty story memory in the summarization prompt, so
// the model knows this was the first scene rather than a lost context.
const noPriorFacts = "No hay hechos previos. Esta es la primera escena."

// summaryPromptTemplate is the continuity supervisor prompt. Arguments:
// current memory (or the no-prior-facts marker), agent name, performer name,
// scene transcript, then the two names again for the output example.
const summaryPromptTemplate = `
Eres un "Supervisor de Continuidad" para una historia de improvisación. Tu trabajo es procesar la transcripción de la última escena y actualizar una lista centralizada de "Hechos Clave" sobre el mundo de la historia.

**OBJETIVO:** Mantener una memoria de la historia que sea concisa, precisa y fácil de consultar para la IA en la siguiente escena. El formato de salida DEBE ser una lista con viñetas.

**1. HECHOS CLAVE ACTUALES (MEMORIA A LARGO PLAZO):**
%[1]s

**2. TRANSCRIPCIÓN DE LA ESCENA RECIÉN TERMINADA (NUEVOS DATOS):**
(Personajes: %[2]s, %[3]s)
%[4]s

**3. TU PROCESO MENTAL:**
a. **Analiza los Nuevos Datos:** ¿Qué nuevos personajes, relaciones, eventos o cambios de estado ocurrieron en la transcripción?
b. **Infiere Consecuencias:** ¿Qué implican lógicamente estos nuevos datos? (Ej: Una despedida de soltero implica que hubo una boda).
c. **Integra y Actualiza:** Compara los nuevos datos y tus inferencias con los "Hechos Clave Actuales".
    - **Añade** hechos completamente nuevos.
    - **Actualiza** hechos existentes que han cambiado (Ej: "Estado: Prometidos" -> "Estado: Casados").
    - **Consolida** información relacionada.
    - **No repitas** hechos que no han cambiado.

**4. SALIDA REQUERIDA:**
Basado en tu análisis, genera la **NUEVA LISTA COMPLETA Y ACTUALIZADA de Hechos Clave**. Responde ÚNICAMENTE con la lista en formato de viñetas. NO incluyas tus notas de proceso mental ni ningún otro texto introductorio.

Ejemplo de formato de salida:
- %[2]s y %[3]s ahora están casados.
- Sofía es una amiga de la pareja que trabaja como organizadora de bodas.
- %[2]s cree que Gastón, un ex compañero del colegio, le debe dinero.
`

// summarizeScene issues the continuity side call and returns the complete
// replacement fact list. The returned text replaces story memory wholesale;
// merging old and new facts is the model's job since only it sees both.
func summarizeScene(ctx context.Context, p llm.Provider, memory string, turns []Turn, aiName, actorName string) (string, error) {
	if p == nil {
		return "", fmt.Errorf("stage: summarize scene: no side-call provider configured")
	}

	priorFacts := memory
	if priorFacts == "" {
		priorFacts = noPriorFacts
	}

	resp, err := p.Complete(ctx, llm.CompletionRequest{
		Messages: []llm.Message{{
			Role:    "user",
			Content: fmt.Sprintf(summaryPromptTemplate, priorFacts, aiName, actorName, formatTranscript(turns)),
		}},
		Temperature: 0.3,
	})
	if err != nil {
		return "", fmt.Errorf("stage: summarize scene: %w", err)
	}
	if resp == nil {
		return "", fmt.Errorf("stage: summarize scene: empty response")
	}
	return strings.TrimSpace(resp.Content), nil
}
