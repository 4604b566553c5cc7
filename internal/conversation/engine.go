// Package conversation runs one conversational turn: classify the input,
// recall memory, build the prompt, ask the completion gateway, classify the
// reply and persist both turns.
package conversation

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ent0n29/companion/internal/emotion"
	"github.com/ent0n29/companion/internal/logging"
	"github.com/ent0n29/companion/internal/memory"
	"github.com/ent0n29/companion/internal/observability"
	"github.com/ent0n29/companion/internal/persona"
	"github.com/ent0n29/companion/internal/policy"
	"github.com/ent0n29/companion/internal/prompt"
)

// Apology is the reply sent when no backend could answer.
const Apology = "申し訳ありません。少し調子が悪いようです。もう一度お話しください。"

const DefaultWriteTimeout = 5 * time.Second

var (
	ErrEmptyMessage   = errors.New("message is empty")
	ErrMissingSession = errors.New("session id is required")
)

// Completer turns a prompt into reply text. *completion.Gateway implements it.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

type Request struct {
	SessionID string
	Message   string
	PersonaID string
}

// Validate rejects requests the engine will not answer.
func (r Request) Validate() error {
	if strings.TrimSpace(r.Message) == "" {
		return ErrEmptyMessage
	}
	return nil
}

type Reply struct {
	SessionID   string
	PersonaID   string
	Text        string
	Emotion     emotion.Label
	UserEmotion emotion.Label
	// TopicBoost is set when the persona's excited mode was triggered.
	TopicBoost bool
	// Degraded is set when Text is the apology.
	Degraded  bool
	Timestamp time.Time
}

// State names the steps of a turn; they appear in debug logs and in the
// stage latency window.
type State string

const (
	StateReceived         State = "received"
	StateClassifiedInput  State = "classified_input"
	StateContextBuilt     State = "context_built"
	StateCompleted        State = "completed"
	StateFailed           State = "failed"
	StateClassifiedOutput State = "classified_output"
	StatePersisted        State = "persisted"
	StateReturned         State = "returned"
)

// turnTotalStage is the whole-turn series in the latency window.
const turnTotalStage = "turn_total"

// stateBudgets are the p95 budgets for the step that ends in each timed
// state. Steps into other states are logged but not timed.
var stateBudgets = map[State]time.Duration{
	StateContextBuilt: 50 * time.Millisecond,
	StateCompleted:    2500 * time.Millisecond,
	StateFailed:       8 * time.Second,
	StatePersisted:    100 * time.Millisecond,
}

const turnTotalBudget = 3200 * time.Millisecond

// turnClock stamps the states a turn passes through. Stamps are reported
// once the outcome is known so degraded turns land in their own series.
type turnClock struct {
	started time.Time
	last    time.Time
	steps   []turnStep
}

type turnStep struct {
	state State
	took  time.Duration
}

func newTurnClock() *turnClock {
	now := time.Now()
	return &turnClock{started: now, last: now}
}

func (c *turnClock) mark(state State) time.Duration {
	now := time.Now()
	c.steps = append(c.steps, turnStep{state: state, took: now.Sub(c.last)})
	c.last = now
	return now.Sub(c.started)
}

func (c *turnClock) elapsed() time.Duration { return time.Since(c.started) }

type Options struct {
	Store        memory.Store
	Completer    Completer
	Personas     *persona.Registry
	Logger       zerolog.Logger
	Metrics      *observability.Metrics
	RedactPII    bool
	WriteTimeout time.Duration
}

type Engine struct {
	store        memory.Store
	completer    Completer
	personas     *persona.Registry
	logger       zerolog.Logger
	metrics      *observability.Metrics
	redactPII    bool
	writeTimeout time.Duration
	now          func() time.Time
}

func NewEngine(opts Options) *Engine {
	personas := opts.Personas
	if personas == nil {
		personas = persona.NewRegistry()
	}
	timeout := opts.WriteTimeout
	if timeout <= 0 {
		timeout = DefaultWriteTimeout
	}
	for state, budget := range stateBudgets {
		opts.Metrics.DeclareStageTarget(string(state), budget)
	}
	opts.Metrics.DeclareStageTarget(turnTotalStage, turnTotalBudget)
	return &Engine{
		store:        opts.Store,
		completer:    opts.Completer,
		personas:     personas,
		logger:       opts.Logger.With().Str("component", "conversation").Logger(),
		metrics:      opts.Metrics,
		redactPII:    opts.RedactPII,
		writeTimeout: timeout,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// Personas exposes the registry the engine resolves persona ids against.
func (e *Engine) Personas() *persona.Registry { return e.personas }

// Respond answers one user message. Storage and completion failures never
// surface as errors; the only error is an invalid request.
func (e *Engine) Respond(ctx context.Context, req Request) (Reply, error) {
	if err := req.Validate(); err != nil {
		return Reply{}, err
	}
	clock := newTurnClock()
	sid := req.SessionID
	log := e.logger.With().Str("session_id", sid).Logger()
	receivedAt := e.now()
	e.transition(log, clock, StateReceived)

	p, _ := e.personas.Lookup(req.PersonaID)
	userEmotion := emotion.Classify(req.Message)
	e.transition(log, clock, StateClassifiedInput)

	history, err := e.store.RecentTurns(ctx, sid, 0)
	if err != nil {
		e.storageFailure(log, "recent_turns", err)
		history = nil
	}
	profile, err := e.store.Profile(ctx, sid)
	if err != nil {
		e.storageFailure(log, "read_profile", err)
		profile = memory.Profile{SessionID: sid}
	}
	rendered := prompt.Build(p, profile, history, req.Message)
	boosted := prompt.Boosted(p, req.Message)
	e.transition(log, clock, StateContextBuilt)

	reply := Reply{
		SessionID:   sid,
		PersonaID:   p.ID,
		UserEmotion: userEmotion,
	}

	text, err := e.completer.Complete(ctx, rendered)
	if err != nil {
		log.Warn().Err(err).Msg("completion failed; replying with apology")
		e.transition(log, clock, StateFailed)
		reply.Text = Apology
		reply.Emotion = emotion.Neutral
		reply.UserEmotion = emotion.Neutral
		reply.Degraded = true
	} else {
		e.transition(log, clock, StateCompleted)
		reply.Text = text
		reply.TopicBoost = boosted
		reply.Emotion = emotion.Classify(text)
		if boosted && p.TopicBoost.Emotion != "" {
			reply.Emotion = p.TopicBoost.Emotion
		}
		e.transition(log, clock, StateClassifiedOutput)
	}
	reply.Timestamp = e.now()

	e.persist(ctx, log, req, reply, userEmotion, receivedAt)
	e.transition(log, clock, StatePersisted)

	outcome := "ok"
	if reply.Degraded {
		outcome = "apology"
	}
	e.transition(log, clock, StateReturned)
	e.metrics.ObserveTurn(outcome, clock.elapsed())
	e.report(clock, outcome)
	return reply, nil
}

// persist writes the user turn (with its classified emotion) then, unless
// the reply is the apology, the assistant turn. Writes run on a context detached from the caller so an
// abandoned request still records what it started.
func (e *Engine) persist(ctx context.Context, log zerolog.Logger, req Request, reply Reply, userEmotion emotion.Label, receivedAt time.Time) {
	writeCtx, cancel := logging.DetachContextWithTimeout(ctx, e.writeTimeout)
	defer cancel()

	userTurn := e.redact(memory.Turn{
		SessionID: req.SessionID,
		Role:      memory.RoleUser,
		Content:   req.Message,
		Emotion:   userEmotion,
		CreatedAt: receivedAt,
	})
	if err := e.store.AppendTurn(writeCtx, userTurn); err != nil {
		e.storageFailure(log, "append_user_turn", err)
	}
	if reply.Degraded {
		return
	}

	assistantTurn := e.redact(memory.Turn{
		SessionID: req.SessionID,
		Role:      memory.RoleAssistant,
		Content:   reply.Text,
		Emotion:   reply.Emotion,
		CreatedAt: reply.Timestamp,
	})
	if err := e.store.AppendTurn(writeCtx, assistantTurn); err != nil {
		e.storageFailure(log, "append_assistant_turn", err)
	}
}

func (e *Engine) redact(t memory.Turn) memory.Turn {
	if !e.redactPII {
		return t
	}
	if out, changed := policy.RedactPII(t.Content); changed {
		t.Content = out
		t.PIIRedacted = true
	}
	return t
}

func (e *Engine) storageFailure(log zerolog.Logger, op string, err error) {
	log.Error().Err(err).Str("op", op).Msg("memory store operation failed; continuing turn")
	e.metrics.ObserveStorageError(op)
}

func (e *Engine) transition(log zerolog.Logger, clock *turnClock, state State) {
	elapsed := clock.mark(state)
	log.Debug().Str("state", string(state)).Dur("elapsed", elapsed).Msg("turn state")
}

func (e *Engine) report(clock *turnClock, outcome string) {
	for _, step := range clock.steps {
		if _, timed := stateBudgets[step.state]; timed {
			e.metrics.ObserveStage(string(step.state), outcome, step.took)
		}
	}
	e.metrics.ObserveStage(turnTotalStage, outcome, clock.elapsed())
}

// UpdateProfile replaces the stored profile for a session. A store failure is
// logged and counted; only a missing session id is returned.
func (e *Engine) UpdateProfile(ctx context.Context, p memory.Profile) error {
	if strings.TrimSpace(p.SessionID) == "" {
		return ErrMissingSession
	}
	if err := e.store.UpsertProfile(ctx, p); err != nil {
		e.storageFailure(e.sessionLogger(p.SessionID), "upsert_profile", err)
	}
	return nil
}

// Profile returns the stored profile, or an empty one for the session when
// the store cannot be read.
func (e *Engine) Profile(ctx context.Context, sessionID string) (memory.Profile, error) {
	if strings.TrimSpace(sessionID) == "" {
		return memory.Profile{}, ErrMissingSession
	}
	p, err := e.store.Profile(ctx, sessionID)
	if err != nil {
		e.storageFailure(e.sessionLogger(sessionID), "read_profile", err)
		return memory.Profile{SessionID: sessionID}, nil
	}
	p.SessionID = sessionID
	return p, nil
}

// History returns up to limit recent turns, oldest first. An unreadable store
// yields an empty history.
func (e *Engine) History(ctx context.Context, sessionID string, limit int) ([]memory.Turn, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, ErrMissingSession
	}
	turns, err := e.store.RecentTurns(ctx, sessionID, limit)
	if err != nil {
		e.storageFailure(e.sessionLogger(sessionID), "recent_turns", err)
		return []memory.Turn{}, nil
	}
	return turns, nil
}

func (e *Engine) sessionLogger(sessionID string) zerolog.Logger {
	return e.logger.With().Str("session_id", sessionID).Logger()
}
