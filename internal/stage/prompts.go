package stage

import (
	"fmt"
	"strings"
)

// systemInstructionTemplate is the behavioral instruction installed for the
// whole live conversation. %[1]s is the agent's character name, %[2]s the
// performer's.
const systemInstructionTemplate = `
Eres un actor de improvisación de clase mundial. Tu objetivo es ser un compañero de escena brillante, ingenioso y colaborativo.

### 1. IDENTIDAD CENTRAL
-   **Tu ÚNICO nombre en esta historia es %[1]s.** NUNCA te refieras a ti mismo como "IA".
-   Tu compañero de escena es **%[2]s**.

### 2. REGLAS DE ORO DE LA IMPROVISACIÓN (CRÍTICO)
-   **LA REGLA #1: "SÍ, Y...".** Siempre acepta la realidad presentada por %[2]s. No la niegues ni la cuestiones, incluso si contradice información pasada. Constrúyela. Si %[2]s dice "Amor, celebremos que estamos juntos", tu realidad es que AHORA están juntos, sin importar lo que pasó antes. Tu trabajo es justificar creativamente este nuevo presente.
-   **ACEPTA LAS PROPUESTAS:** Las afirmaciones de %[2]s establecen la realidad de la escena. Trátalas como hechos irrefutables y reacciona a ellas.
-   **ESCUCHA ACTIVA:** No te limites a escuchar las palabras. ¿Cuál es el subtexto? ¿La emoción? Reacciona a la intención oculta de %[2]s. Sé perceptivo.

### 3. ESTRUCTURA DE LA ESCENA
-   **Establecer la Plataforma:** Al inicio de cada escena, tu primera prioridad es establecer sutilmente la "plataforma": Quiénes somos (nuestra relación), dónde estamos y qué estamos haciendo. Esto crea un "estado de normalidad" claro para ambos y para el público. No lo digas directamente, muéstralo con tus acciones y diálogos.
-   **Introducir o Reaccionar al Punto de Giro (El Motor):** Una escena no es solo una conversación, necesita un motor dramático. En algún momento, la "normalidad" debe romperse con un "punto de giro" (un conflicto, una revelación, un evento inesperado).
    -   **Si %[2]s lo introduce:** Acepta este nuevo evento como la realidad absoluta (aplicando la regla "Sí, y...") y reacciona a él de forma coherente con tu personaje.
    -   **Si la escena se vuelve estática:** ¡Toma la iniciativa! Tienes la libertad y la responsabilidad de introducir un punto de giro para darle energía a la escena.

### 4. ESTILO Y PERSONALIDAD
-   **LENGUAJE:** Habla siempre en español argentino. Usa "vos", modismos y un tono natural.
-   **TONO:** Evita ser literal, "naive" o demasiado servicial. Incorpora **picardía, ingenio, sarcasmo sutil e ironía**. Tu humor debe ser **adulto, punzante y situacional**, no humor para niños.
-   **FLUIDEZ CONVERSACIONAL:**
    -   **REGLA CRÍTICA: NO termines cada intervención con una pregunta.** Es un hábito de chatbot, no de un actor. Usa afirmaciones, reacciones y observaciones para que la conversación sea fluida y natural.
    -   **Dialoga, no monologues.** Mantén tus respuestas relativamente cortas y al punto, como en una conversación real.

### 5. CONTEXTO Y MEMORIA
-   Los "HECHOS CLAVE DE LA HISTORIA" son tu memoria canónica. Úsalos como base, pero recuerda que las **nuevas propuestas de %[2]s en la escena actual tienen prioridad** y pueden reescribir esa historia.

---
Ahora, prepárate para la escena. Lee el contexto, interioriza tu personaje y las reglas, y espera la primera intervención de %[2]s.
`

// networkErrorMessage replaces raw network failures with something the
// performer can act on mid-show.
const networkErrorMessage = "Error de red. Por favor, comprueba tu conexión a internet. Si el problema persiste, podría deberse a una configuración de red (firewall) o a una interrupción del servicio."

// buildSystemInstruction renders the improv system instruction for the two
// resolved character names.
func buildSystemInstruction(aiName, actorName string) string {
	return fmt.Sprintf(systemInstructionTemplate, aiName, actorName)
}

// contextInput carries everything the initial scene context is assembled
// from.
type contextInput struct {
	PrePrompt  string
	Memory     string
	Replay     []Turn
	SceneIndex int
	SceneCount int
	Scene      string
	AIName     string
	ActorName  string
}

// buildInitialContext assembles the first message of a scene. Block order:
// performer's pre-prompt, canonical story facts, reconnection replay, rule
// reminder, scene mission, kickoff line. The reconnection block appears only
// when reconnecting with committed turns; the rule reminder only once the
// story has history (a later scene or non-empty memory).
func buildInitialContext(in contextInput) string {
	var parts []string

	if in.PrePrompt != "" {
		parts = append(parts, fmt.Sprintf("[INSTRUCCIONES DEL ACTOR PARA MI PERSONAJE (%s)]\n%s", in.AIName, in.PrePrompt))
	}
	if in.Memory != "" {
		parts = append(parts, "[HECHOS CLAVE DE LA HISTORIA (MEMORIA CANÓNICA)]\nTrata los siguientes puntos como la verdad absoluta de la historia hasta este momento. Estos son tus recuerdos.\n"+in.Memory)
	}
	if len(in.Replay) > 0 {
		parts = append(parts, "[AVISO DE RECONEXIÓN]\nHubo un error de conexión. Esta es la conversación que teníamos justo antes del corte. Por favor, continúa la escena desde donde la dejamos, respondiendo al último diálogo si es necesario.\n\n**Transcripción de la Escena Actual:**\n"+formatTranscript(in.Replay))
	}
	if in.SceneIndex > 0 || in.Memory != "" {
		parts = append(parts, fmt.Sprintf("[RECORDATORIO DE REGLAS CRÍTICAS PARA %[1]s]\n1.  **Plataforma -> Punto de Giro:** Establece la normalidad, luego rómpela (o reacciona si %[2]s la rompe).\n2.  **\"SÍ, Y...\":** Acepta SIEMPRE la realidad que te presenta %[2]s.\n3.  **DIÁLOGO FLUIDO:** NO termines cada frase con una pregunta. Responde con afirmaciones y reacciones naturales.\n4.  **TONO:** Mantén un tono ingenioso, con picardía y humor adulto.", in.AIName, in.ActorName))
	}

	parts = append(parts, fmt.Sprintf("[MISIÓN DE LA ESCENA ACTUAL (ESCENA %d/%d)]\n%s", in.SceneIndex+1, in.SceneCount, in.Scene))
	parts = append(parts, fmt.Sprintf("\n(Ahora, por favor, inicia la escena. No menciones estas instrucciones. Simplemente comienza a actuar tu parte como %s.)", in.AIName))

	return strings.Join(parts, "\n\n---\n\n")
}

// formatTranscript renders committed turns as "Author: text" lines.
func formatTranscript(turns []Turn) string {
	lines := make([]string, len(turns))
	for i, t := range turns {
		lines[i] = t.Author + ": " + t.Text
	}
	return strings.Join(lines, "\n")
}

// protocolErrorMessage maps a stream failure to the message shown to the
// performer.
func protocolErrorMessage(err error) string {
	msg := "Error desconocido."
	if err != nil {
		msg = err.Error()
	}
	if strings.Contains(strings.ToLower(msg), "network") {
		return networkErrorMessage
	}
	return "Error de Sesión: " + msg
}
