// Package stage implements the live session engine: the state machine that
// opens a bidirectional stream to the remote improv agent, pumps microphone
// frames up and agent audio down, reconciles partial transcripts into
// committed turns, carries story memory across scenes, and replays the
// current scene's transcript when reconnecting after a dropped stream.
//
// One [Engine] owns all session resources (stream, capture pipeline,
// playback scheduler) for the duration of a session: they are created on
// Start and torn down on Stop, and no other code path touches them. All
// stream events are consumed by a single goroutine in strict arrival order.
package stage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/telonlabs/telon/internal/archive"
	"github.com/telonlabs/telon/internal/observe"
	"github.com/telonlabs/telon/internal/script"
	"github.com/telonlabs/telon/pkg/audio"
	"github.com/telonlabs/telon/pkg/audio/capture"
	"github.com/telonlabs/telon/pkg/audio/playback"
	"github.com/telonlabs/telon/pkg/live"
	"github.com/telonlabs/telon/pkg/provider/llm"
)

// DefaultFrameSamples is the per-frame sample count sent upstream when the
// config does not override it: 4096 samples is 256 ms at the 16 kHz input
// rate.
const DefaultFrameSamples = 4096

// archiveTimeout bounds best-effort archive writes so a slow database can
// never stall the show.
const archiveTimeout = 5 * time.Second

// StartConfig carries everything a session start needs.
type StartConfig struct {
	// Scenes is the full improvisation script. Immutable for the session.
	Scenes []script.Scene

	// PrePrompt is the play-wide framing for the agent's character.
	PrePrompt string

	// MicDevice selects the capture device; empty means the system default.
	MicDevice string

	// Voice selects the prebuilt voice for the agent's replies.
	Voice string

	// FrameSamples overrides [DefaultFrameSamples] when positive.
	FrameSamples int
}

// Snapshot is a point-in-time copy of the observable session state.
type Snapshot struct {
	Status       Status
	Err          string
	Turns        []Turn
	ActorPreview string
	AIPreview    string
	Memory       string
	SceneCursor  int
	AIName       string
	ActorName    string
	Muted        bool
}

// Option configures an [Engine].
type Option func(*Engine)

// WithArchive sets the session archive store. Defaults to a discarding store.
func WithArchive(store archive.Store) Option {
	return func(e *Engine) { e.store = store }
}

// WithLogger sets the engine logger. Defaults to [slog.Default].
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithMetrics sets the metrics instance. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithSessionID overrides the generated archive session ID.
func WithSessionID(id string) Option {
	return func(e *Engine) { e.sessionID = id }
}

// WithPlaybackClock substitutes the playback scheduler's clock. Used by
// tests to freeze time.
func WithPlaybackClock(c playback.Clock) Option {
	return func(e *Engine) { e.schedOpts = append(e.schedOpts, playback.WithClock(c)) }
}

// Engine is the live session state machine. All exported methods are safe
// for concurrent use.
type Engine struct {
	dialer   live.Dialer
	sidecall llm.Provider
	opener   capture.Opener
	sink     playback.Sink

	store     archive.Store
	metrics   *observe.Metrics
	logger    *slog.Logger
	sessionID string
	schedOpts []playback.Option

	notify chan struct{}

	mu            sync.Mutex
	status        Status
	errMsg        string
	turns         []Turn
	rec           reconciler
	memory        string
	cursor        int
	aiName        string
	actorName     string
	namesResolved bool
	muted         bool

	// epoch invalidates in-flight work: every Start and Stop bumps it, and
	// async results carrying a stale epoch are discarded.
	epoch uint64

	stream live.Stream
	pipe   *capture.Pipeline
	sched  *playback.Scheduler
}

// New creates an idle engine. dialer opens live conversations, sidecall
// serves identity extraction and continuity summarization, opener resolves
// the microphone, sink receives scheduled agent audio.
func New(dialer live.Dialer, sidecall llm.Provider, opener capture.Opener, sink playback.Sink, opts ...Option) *Engine {
	e := &Engine{
		dialer:    dialer,
		sidecall:  sidecall,
		opener:    opener,
		sink:      sink,
		store:     archive.Nop{},
		logger:    slog.Default(),
		sessionID: time.Now().UTC().Format("20060102-150405"),
		notify:    make(chan struct{}, 1),
		status:    StatusIdle,
		aiName:    defaultAIName,
		actorName: defaultActorName,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.metrics == nil {
		e.metrics = observe.DefaultMetrics()
	}
	return e
}

// Updates returns a channel that receives a coalesced signal whenever the
// observable state changes. Consumers read it and call [Engine.Snapshot].
func (e *Engine) Updates() <-chan struct{} { return e.notify }

// Snapshot returns a copy of the observable session state.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	actorPrev, aiPrev := e.rec.previews()
	return Snapshot{
		Status:       e.status,
		Err:          e.errMsg,
		Turns:        slices.Clone(e.turns),
		ActorPreview: actorPrev,
		AIPreview:    aiPrev,
		Memory:       e.memory,
		SceneCursor:  e.cursor,
		AIName:       e.aiName,
		ActorName:    e.actorName,
		Muted:        e.muted,
	}
}

// Start opens a live session for the scene at the current cursor. Allowed
// only from the idle and error states; a start from the error state replays
// the current scene's committed turns as reconnection context.
//
// On the first start of a fresh session the two character identities are
// resolved once via a best-effort side call. Microphone capture begins only
// when the scene uses the performer's voice; agent audio is scheduled only
// when the scene uses the agent's voice.
func (e *Engine) Start(ctx context.Context, cfg StartConfig) error {
	ctx, span := observe.StartSpan(ctx, "stage.Start")
	defer span.End()

	e.mu.Lock()
	switch e.status {
	case StatusIdle, StatusError:
	default:
		e.mu.Unlock()
		return ErrSessionActive
	}
	if e.dialer == nil {
		e.mu.Unlock()
		return fmt.Errorf("%w: no live dialer configured", ErrConfiguration)
	}
	if len(cfg.Scenes) == 0 {
		e.mu.Unlock()
		return fmt.Errorf("%w: no scenes configured", ErrConfiguration)
	}
	if e.cursor >= len(cfg.Scenes) {
		cursor := e.cursor
		e.mu.Unlock()
		return fmt.Errorf("%w: scene cursor %d beyond script of %d scenes", ErrConfiguration, cursor, len(cfg.Scenes))
	}

	wasError := e.status == StatusError
	var replay []Turn
	if wasError && len(e.turns) > 0 {
		replay = slices.Clone(e.turns)
	}

	e.status = StatusConnecting
	e.errMsg = ""
	e.rec.clear()
	e.muted = false
	e.epoch++
	myEpoch := e.epoch
	cursor := e.cursor
	scene := cfg.Scenes[cursor]
	needNames := !e.namesResolved
	memory := e.memory
	e.mu.Unlock()
	e.signal()

	// Identities are resolved once per overall session, before the first
	// stream opens, so the system instruction can already address both
	// characters by name.
	if needNames {
		started := time.Now()
		aiName, actorName := resolveIdentities(ctx, e.sidecall, cfg.PrePrompt, cfg.Scenes[0].Description)
		e.metrics.RecordSidecall(ctx, "identity", time.Since(started))

		e.mu.Lock()
		if e.epoch != myEpoch {
			e.mu.Unlock()
			return nil
		}
		e.aiName, e.actorName = aiName, actorName
		e.namesResolved = true
		e.mu.Unlock()
	}

	e.mu.Lock()
	aiName, actorName := e.aiName, e.actorName
	e.mu.Unlock()

	var pipe *capture.Pipeline
	if scene.UseUserVoice {
		if e.opener == nil {
			return e.failStart(myEpoch, fmt.Errorf("%w: no capture backend available", ErrDevice), "Fallo al iniciar: no hay micrófono disponible.")
		}
		frameSamples := cfg.FrameSamples
		if frameSamples <= 0 {
			frameSamples = DefaultFrameSamples
		}
		var err error
		pipe, err = capture.New(e.opener, cfg.MicDevice, audio.InputFormat, frameSamples, e.captureSink(myEpoch))
		if err != nil {
			return e.failStart(myEpoch, fmt.Errorf("%w: %v", ErrDevice, err), "Fallo al iniciar: "+err.Error())
		}
	}

	var sched *playback.Scheduler
	if scene.UseAIVoice {
		if e.sink == nil {
			if pipe != nil {
				_ = pipe.Close()
			}
			return e.failStart(myEpoch, fmt.Errorf("%w: no playback backend available", ErrDevice), "Fallo al iniciar: no hay salida de audio disponible.")
		}
		sched = playback.New(e.sink, audio.OutputFormat, e.schedOpts...)
	}

	initialContext := buildInitialContext(contextInput{
		PrePrompt:  cfg.PrePrompt,
		Memory:     memory,
		Replay:     replay,
		SceneIndex: cursor,
		SceneCount: len(cfg.Scenes),
		Scene:      scene.Description,
		AIName:     aiName,
		ActorName:  actorName,
	})

	dialStarted := time.Now()
	stream, err := e.dialer.Dial(ctx, live.OpenConfig{
		SystemInstruction: buildSystemInstruction(aiName, actorName),
		Voice:             cfg.Voice,
		TranscribeInput:   scene.UseUserVoice,
	})
	if err != nil {
		if pipe != nil {
			_ = pipe.Close()
		}
		if errors.Is(err, live.ErrNoCredential) {
			return e.failStart(myEpoch, fmt.Errorf("%w: %v", ErrConfiguration, err), "La clave de API no está configurada.")
		}
		return e.failStart(myEpoch, fmt.Errorf("%w: %v", ErrProtocol, err), protocolErrorMessage(err))
	}
	e.metrics.RecordDial(ctx, time.Since(dialStarted))

	e.mu.Lock()
	if e.epoch != myEpoch {
		// Stopped while dialing; abandon the fresh handle.
		e.mu.Unlock()
		_ = stream.Close()
		if pipe != nil {
			_ = pipe.Close()
		}
		return nil
	}
	e.stream = stream
	e.pipe = pipe
	e.sched = sched
	e.mu.Unlock()

	e.metrics.ActiveSessions.Add(ctx, 1)
	if len(replay) > 0 {
		e.metrics.Reconnects.Add(ctx, 1)
	}
	e.logger.Info("live session started",
		"scene", cursor,
		"user_voice", scene.UseUserVoice,
		"ai_voice", scene.UseAIVoice,
		"reconnect", len(replay) > 0,
	)

	go e.consume(myEpoch, stream, cursor, initialContext)
	return nil
}

// Stop tears the session down: the stream is closed best-effort, capture and
// playback are released, and any in-flight async result is invalidated.
// Idempotent and safe from any state. An error status stays visible until
// the next Start; every other status resets to idle.
func (e *Engine) Stop() {
	e.mu.Lock()
	e.epoch++
	if e.status != StatusError {
		e.status = StatusIdle
		e.muted = false
	}
	e.mu.Unlock()

	e.releaseResources()
	e.signal()
}

// AdvanceScene finishes the current scene and moves the cursor forward. A
// no-op on the last scene. Any open stream is stopped first. When the scene
// committed at least one turn, the transcript is compressed into replacement
// story memory via the continuity side call; a scene with no committed turns
// advances without touching memory.
//
// On summarization failure the cursor, memory and transcripts are all left
// intact so the advance can be retried without losing the conversation.
func (e *Engine) AdvanceScene(ctx context.Context, scenes []script.Scene) error {
	ctx, span := observe.StartSpan(ctx, "stage.AdvanceScene")
	defer span.End()

	e.mu.Lock()
	if e.cursor >= len(scenes)-1 {
		e.mu.Unlock()
		return nil
	}
	e.mu.Unlock()

	e.Stop()

	e.mu.Lock()
	e.status = StatusSummarizing
	e.errMsg = ""
	myEpoch := e.epoch
	turns := slices.Clone(e.turns)
	memory := e.memory
	aiName, actorName := e.aiName, e.actorName
	sceneIndex := e.cursor
	e.mu.Unlock()
	e.signal()

	if len(turns) == 0 {
		e.mu.Lock()
		if e.epoch != myEpoch {
			e.mu.Unlock()
			return nil
		}
		e.cursor++
		e.turns = nil
		e.rec.clear()
		e.status = StatusIdle
		e.mu.Unlock()
		e.signal()
		return nil
	}

	started := time.Now()
	summary, err := summarizeScene(ctx, e.sidecall, memory, turns, aiName, actorName)
	e.metrics.RecordSidecall(ctx, "summary", time.Since(started))
	if err != nil {
		e.mu.Lock()
		if e.epoch == myEpoch {
			e.status = StatusError
			e.errMsg = "Error al resumir la escena: " + err.Error()
		}
		e.mu.Unlock()
		e.signal()
		return fmt.Errorf("%w: %v", ErrSummarization, err)
	}

	e.mu.Lock()
	if e.epoch != myEpoch {
		e.mu.Unlock()
		return nil
	}
	e.memory = summary
	e.cursor++
	e.turns = nil
	e.rec.clear()
	e.status = StatusIdle
	e.mu.Unlock()
	e.signal()

	go func() {
		actx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
		defer cancel()
		if err := e.store.SaveMemory(actx, e.sessionID, sceneIndex, summary); err != nil {
			e.logger.Warn("archive memory snapshot", "error", err)
		}
	}()
	return nil
}

// SendText sends a typed performer line. The turn is committed immediately
// (typed input needs no transcript reconciliation) and forwarded over the
// open stream. Without an open stream the session drops into the error
// state.
func (e *Engine) SendText(text string) error {
	e.mu.Lock()
	stream := e.stream
	if stream == nil {
		e.status = StatusError
		e.errMsg = "Falló al enviar el mensaje: no hay una sesión abierta."
		e.mu.Unlock()
		e.signal()
		return fmt.Errorf("%w: no open stream", ErrProtocol)
	}
	turn := Turn{Author: e.actorName, Text: text}
	e.turns = append(e.turns, turn)
	e.status = StatusSpeaking
	sceneIndex := e.cursor
	myEpoch := e.epoch
	e.mu.Unlock()
	e.signal()

	e.metrics.RecordTurnCommitted(context.Background(), "actor")
	e.archiveTurn(turn, sceneIndex)

	if err := stream.SendText(text); err != nil {
		e.fatal(myEpoch, "Falló al enviar el mensaje: "+err.Error(), err)
		return fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	return nil
}

// ToggleMute flips microphone muting without tearing down the capture
// pipeline. No effect when no pipeline is active. Muting never touches
// accumulated transcripts.
func (e *Engine) ToggleMute() {
	e.mu.Lock()
	pipe := e.pipe
	if pipe == nil {
		e.mu.Unlock()
		return
	}
	e.muted = !e.muted
	muted := e.muted
	e.mu.Unlock()

	pipe.SetMuted(muted)
	e.signal()
}

// Reset stops any session and wipes all session state back to initial:
// transcripts, story memory, scene cursor, resolved identities.
func (e *Engine) Reset() {
	e.Stop()

	e.mu.Lock()
	e.status = StatusIdle
	e.errMsg = ""
	e.turns = nil
	e.rec.clear()
	e.memory = ""
	e.cursor = 0
	e.aiName, e.actorName = defaultAIName, defaultActorName
	e.namesResolved = false
	e.muted = false
	e.mu.Unlock()
	e.signal()
}

// consume is the single consumer of the stream's ordered event queue. It
// returns when the queue closes, the session fails, or its epoch goes stale.
func (e *Engine) consume(myEpoch uint64, stream live.Stream, sceneIndex int, initialContext string) {
	for ev := range stream.Events() {
		e.mu.Lock()
		if e.epoch != myEpoch {
			e.mu.Unlock()
			return
		}

		switch ev.Kind {
		case live.KindOpened:
			e.status = StatusSpeaking
			pipe := e.pipe
			e.mu.Unlock()
			e.signal()
			if err := stream.SendText(initialContext); err != nil {
				e.fatal(myEpoch, protocolErrorMessage(err), err)
				return
			}
			if pipe != nil {
				if err := pipe.Start(); err != nil {
					e.fatal(myEpoch, "Fallo al iniciar: "+err.Error(), fmt.Errorf("%w: %v", ErrDevice, err))
					return
				}
			}

		case live.KindInputTranscription:
			e.rec.appendActor(ev.Text)
			e.mu.Unlock()
			e.signal()

		case live.KindOutputTranscription:
			e.rec.appendAI(ev.Text)
			e.status = StatusSpeaking
			e.mu.Unlock()
			e.signal()

		case live.KindAudio:
			sched := e.sched
			e.mu.Unlock()
			if sched != nil {
				rate := audio.ParseRate(ev.MIMEType, audio.OutputFormat.SampleRate)
				if _, err := sched.Schedule(ev.Audio, rate); err != nil {
					e.logger.Warn("schedule playback chunk", "error", err)
				} else {
					e.metrics.RecordAudioChunk(context.Background(), "playback")
				}
			}

		case live.KindTurnComplete:
			actorName := e.actorName
			committed := e.rec.boundary(actorName, e.aiName, len(e.turns))
			e.turns = append(e.turns, committed...)
			e.status = StatusListening
			e.mu.Unlock()
			for _, turn := range committed {
				speaker := "ai"
				if turn.Author == actorName {
					speaker = "actor"
				}
				e.metrics.RecordTurnCommitted(context.Background(), speaker)
				e.archiveTurn(turn, sceneIndex)
			}
			e.signal()

		case live.KindError:
			e.mu.Unlock()
			e.metrics.RecordStreamError(context.Background(), "protocol")
			e.fatal(myEpoch, protocolErrorMessage(ev.Err), ev.Err)
			return

		default:
			// KindClosed and anything unknown; the closed queue ends the loop.
			e.mu.Unlock()
		}
	}

	e.mu.Lock()
	stale := e.epoch != myEpoch
	status := e.status
	e.mu.Unlock()
	if stale || status == StatusError || status == StatusIdle {
		return
	}
	e.metrics.RecordStreamError(context.Background(), "closed")
	e.fatal(myEpoch, "Error de Sesión: la conexión se cerró inesperadamente.", errors.New("stream closed unexpectedly"))
}

// failStart records a start failure. The returned error wraps one of the
// taxonomy sentinels; msg is the human-readable message kept for display.
func (e *Engine) failStart(myEpoch uint64, err error, msg string) error {
	e.mu.Lock()
	if e.epoch == myEpoch {
		e.status = StatusError
		e.errMsg = msg
	}
	e.mu.Unlock()
	e.signal()
	e.logger.Error("session start failed", "error", err)
	return err
}

// captureSink builds the pipeline sink that forwards complete microphone
// frames to the live stream. Frames from a stale epoch are dropped.
func (e *Engine) captureSink(myEpoch uint64) func(pcm []byte) {
	return func(pcm []byte) {
		e.mu.Lock()
		stream := e.stream
		ok := e.epoch == myEpoch
		e.mu.Unlock()
		if !ok || stream == nil {
			return
		}
		if err := stream.SendAudio(pcm); err != nil {
			e.logger.Warn("send microphone frame", "error", err)
			return
		}
		e.metrics.RecordAudioChunk(context.Background(), "capture")
	}
}

// fatal moves the session into the error state and releases all resources.
// A stale epoch means a newer Start or Stop already took over; the failure
// is then ignored.
func (e *Engine) fatal(myEpoch uint64, msg string, err error) {
	e.mu.Lock()
	if e.epoch != myEpoch {
		e.mu.Unlock()
		return
	}
	e.epoch++
	e.status = StatusError
	e.errMsg = msg
	e.mu.Unlock()

	e.releaseResources()
	e.signal()
	e.logger.Error("live session failed", "error", err)
}

// releaseResources detaches and closes the stream, capture pipeline and
// playback scheduler. Resource errors are logged and otherwise ignored so
// the status transition always lands on a clean resource state.
func (e *Engine) releaseResources() {
	e.mu.Lock()
	stream, pipe, sched := e.stream, e.pipe, e.sched
	e.stream, e.pipe, e.sched = nil, nil, nil
	e.mu.Unlock()

	if stream != nil {
		if err := stream.Close(); err != nil {
			e.logger.Debug("close stream", "error", err)
		}
		e.metrics.ActiveSessions.Add(context.Background(), -1)
	}
	if pipe != nil {
		if err := pipe.Close(); err != nil {
			e.logger.Debug("close capture pipeline", "error", err)
		}
	}
	if sched != nil {
		sched.Stop()
	}
}

// archiveTurn writes one committed turn to the archive without blocking the
// event loop.
func (e *Engine) archiveTurn(turn Turn, sceneIndex int) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
		defer cancel()
		err := e.store.AppendTurn(ctx, e.sessionID, archive.Turn{
			Speaker:    turn.Author,
			Text:       turn.Text,
			SceneIndex: sceneIndex,
		})
		if err != nil {
			e.logger.Warn("archive turn", "error", err)
		}
	}()
}

// signal coalesces a state-change notification onto the updates channel.
func (e *Engine) signal() {
	select {
	case e.notify <- struct{}{}:
	default:
	}
}
