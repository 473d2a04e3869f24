// Package orchestrator implements the game master: it owns every session's
// state machine, drives threat agents over the message bus, records
// decisions, and closes sessions through scoring, profile adaptation, and
// persistence.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"guardacademy.io/guardacademy/internal/bus"
	"guardacademy.io/guardacademy/internal/difficulty"
	"guardacademy.io/guardacademy/internal/profile"
	"guardacademy.io/guardacademy/internal/scenario"
	"guardacademy.io/guardacademy/internal/scoring"
	"guardacademy.io/guardacademy/internal/session"
	"guardacademy.io/guardacademy/internal/storage"
	"guardacademy.io/guardacademy/pkg/protocol"
)

// Address is the orchestrator's bus address.
const Address = "orchestrator"

// AgentAddress returns the bus address of the threat agent serving a
// threat type.
func AgentAddress(t session.ThreatType) string {
	return string(t) + "_agent"
}

// Store is the persistence collaborator. Profile updates must be atomic
// per user; *storage.DB satisfies this.
type Store interface {
	LoadProfile(ctx context.Context, userID string) (*profile.UserProfile, error)
	UpdateProfile(ctx context.Context, userID string, fn func(*profile.UserProfile) error) (*profile.UserProfile, error)
	AppendSessionRecord(ctx context.Context, rec storage.SessionRecord) error
}

// Config holds orchestrator configuration.
type Config struct {
	// AgentTimeout bounds each request to a threat agent
	AgentTimeout time.Duration

	// MaxHints is the per-session hint budget
	MaxHints int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		AgentTimeout: 5 * time.Second,
		MaxHints:     3,
	}
}

// Orchestrator coordinates sessions, agents, scoring, and persistence.
type Orchestrator struct {
	cfg        Config
	bus        *bus.Bus
	catalog    *scenario.Catalog
	store      Store
	engine     *scoring.Engine
	controller *difficulty.Controller
	classifier Classifier
	logger     zerolog.Logger

	mu      sync.Mutex
	handles map[string]*handle
}

// handle serializes access to one live session. Turns within a session are
// strictly sequential; the per-handle mutex enforces that.
type handle struct {
	mu   sync.Mutex
	sess *session.Session
	tmpl *scenario.Template

	// pending is set while a decision stimulus awaits the user's response.
	pending *pendingDecision

	// local switches the session to template-driven beats after the threat
	// agent became unreachable. Training continuity beats narrative
	// richness.
	local bool

	// profileApplied and nextDifficulty survive a failed completion
	// attempt so a retry never applies the profile update twice.
	profileApplied bool
	nextDifficulty int
}

type pendingDecision struct {
	Category      session.Category
	CorrectAction session.Action
	Hint          string
}

// New creates an orchestrator. A nil classifier falls back to the keyword
// heuristic.
func New(cfg Config, b *bus.Bus, catalog *scenario.Catalog, store Store,
	engine *scoring.Engine, controller *difficulty.Controller,
	classifier Classifier, logger zerolog.Logger) *Orchestrator {

	if classifier == nil {
		classifier = KeywordClassifier{}
	}

	return &Orchestrator{
		cfg:        cfg,
		bus:        b,
		catalog:    catalog,
		store:      store,
		engine:     engine,
		controller: controller,
		classifier: classifier,
		logger:     logger.With().Str("component", "orchestrator").Logger(),
		handles:    make(map[string]*handle),
	}
}

// NarrativeUpdate is the user-facing result of a turn: the next beat, the
// session state after it, and whether the beat demands a decision.
type NarrativeUpdate struct {
	SessionID        string        `json:"session_id"`
	State            session.State `json:"state"`
	Narrative        string        `json:"narrative"`
	EmailArtifact    []byte        `json:"email_artifact,omitempty"`
	DecisionExpected bool          `json:"decision_expected"`
	NarrativeEnded   bool          `json:"narrative_ended"`
}

// EvaluationResult consolidates a completed session's outcome.
type EvaluationResult struct {
	SessionID      string         `json:"session_id"`
	Result         scoring.Result `json:"result"`
	Debrief        string         `json:"debrief"`
	NextDifficulty int            `json:"next_difficulty"`
}

// ============================================================
// Session lifecycle operations
// ============================================================

// StartScenario creates a session for the user and activates its threat
// agent. When requested is empty, the threat type rotates across the
// catalog and the difficulty controller plans level and focus category. An
// unreachable agent degrades to a locally driven fallback scenario; the
// session starts either way.
func (o *Orchestrator) StartScenario(ctx context.Context, userID string, requested session.ThreatType) (*session.Session, *NarrativeUpdate, error) {
	if requested != "" && !session.IsValidThreatType(requested) {
		return nil, nil, fmt.Errorf("%w: %s", ErrUnknownThreatType, requested)
	}

	prof, err := o.store.LoadProfile(ctx, userID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load profile: %w", err)
	}

	plan := o.controller.NextPlan(prof)

	threat := requested
	if threat == "" {
		threat = o.rotateThreatType(prof)
	}

	tmpl, err := o.catalog.Select(threat, plan.Difficulty, plan.FocusCategory, plan.ExcludePatterns)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to select scenario: %w", err)
	}

	sess := session.New(userID, threat, tmpl.ID, plan.Difficulty)
	sess.ActiveAgent = AgentAddress(threat)

	h := &handle{sess: sess, tmpl: tmpl}
	update := o.activate(ctx, h, plan.FocusCategory, prof)

	if err := sess.Transition(session.StateEngaged); err != nil {
		return nil, nil, err
	}
	if err := sess.AppendTurn("threat_actor", update.Narrative); err != nil {
		return nil, nil, err
	}
	update.State = sess.State

	o.mu.Lock()
	o.handles[sess.ID] = h
	o.mu.Unlock()

	o.logger.Info().
		Str("session_id", sess.ID).
		Str("user_id", userID).
		Str("threat_type", string(threat)).
		Str("pattern_id", h.tmpl.ID).
		Int("difficulty", plan.Difficulty).
		Bool("local", h.local).
		Msg("Session started")

	return sess, update, nil
}

// activate asks the threat agent to open the scenario. On timeout or
// failure it swaps in the catalog fallback and marks the handle local.
func (o *Orchestrator) activate(ctx context.Context, h *handle, focus session.Category, prof *profile.UserProfile) *NarrativeUpdate {
	sess := h.sess

	msg := protocol.New(protocol.TypeActivateScenario, Address, sess.ActiveAgent, sess.ID)
	msg.Activate = &protocol.ActivateScenarioPayload{
		ThreatType:       string(sess.ThreatType),
		PatternID:        sess.PatternID,
		Difficulty:       sess.Difficulty,
		FocusCategory:    string(focus),
		UserRole:         prof.Role,
		RecentCategories: recentCategories(prof),
	}

	resp, err := o.bus.Request(ctx, msg, o.cfg.AgentTimeout)
	if err == nil && resp.Type == protocol.TypeScenarioReady {
		return &NarrativeUpdate{
			SessionID:     sess.ID,
			Narrative:     resp.Ready.Narrative,
			EmailArtifact: resp.Ready.EmailArtifact,
		}
	}

	var timeout *bus.ProtocolTimeoutError
	switch {
	case errors.As(err, &timeout):
		o.logger.Warn().Str("session_id", sess.ID).Str("agent", sess.ActiveAgent).
			Msg("Threat agent unresponsive, using fallback scenario")
	case err != nil:
		o.logger.Warn().Err(err).Str("session_id", sess.ID).
			Msg("Activation failed, using fallback scenario")
	default:
		reason := ""
		if resp.Failed != nil {
			reason = resp.Failed.Reason
		}
		o.logger.Warn().Str("session_id", sess.ID).Str("reason", reason).
			Msg("Agent rejected scenario, using fallback")
	}

	h.local = true
	if fallback, ferr := o.catalog.Fallback(sess.ThreatType); ferr == nil {
		h.tmpl = fallback
		sess.PatternID = fallback.ID
	}

	return &NarrativeUpdate{
		SessionID: sess.ID,
		Narrative: h.tmpl.Opening,
	}
}

// SubmitInput advances a session by one user turn: the input is appended,
// a pending decision (if any) is classified and recorded, and the next
// narrative beat is produced.
func (o *Orchestrator) SubmitInput(ctx context.Context, sessionID, text string) (*NarrativeUpdate, error) {
	h, err := o.handle(sessionID)
	if err != nil {
		return nil, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	sess := h.sess
	if sess.State == session.StateClosed {
		return nil, session.ErrSessionClosed
	}
	if sess.State != session.StateEngaged && sess.State != session.StateDecisionPending {
		// Reject before touching the transcript: a turn on a resolved (or
		// debriefing) session must not mutate it.
		return nil, &session.IllegalTransitionError{From: sess.State, To: session.StateEngaged}
	}

	if err := sess.AppendTurn("user", text); err != nil {
		return nil, err
	}

	if sess.State == session.StateDecisionPending {
		if err := o.resolveDecision(ctx, h, text); err != nil {
			return nil, err
		}
	}

	update, err := o.nextBeat(ctx, h, text)
	if err != nil {
		return nil, err
	}

	if err := sess.AppendTurn("threat_actor", update.Narrative); err != nil {
		return nil, err
	}

	if update.NarrativeEnded {
		if err := sess.Transition(session.StateResolved); err != nil {
			return nil, err
		}
	} else if update.DecisionExpected {
		if err := sess.Transition(session.StateDecisionPending); err != nil {
			return nil, err
		}
		sess.MarkStimulus()
	}

	update.State = sess.State
	return update, nil
}

// resolveDecision classifies the user's response to the pending stimulus
// and records the decision point. Structural failures here are caller
// bugs and abort the turn.
func (o *Orchestrator) resolveDecision(ctx context.Context, h *handle, text string) error {
	sess := h.sess
	pending := h.pending
	if pending == nil {
		// decision_pending without a pending stimulus is an internal
		// invariant violation.
		return fmt.Errorf("session %s pending decision has no stimulus", sess.ID)
	}

	action, err := o.classifier.Classify(ctx, text, pending.Category)
	if err != nil {
		return fmt.Errorf("failed to classify input: %w", err)
	}

	d := session.NewDecision(len(sess.Turns)-1, pending.Category, action,
		pending.CorrectAction, sess.Difficulty, sess.StimulusLatency())
	if err := sess.RecordDecision(d); err != nil {
		return err
	}

	h.pending = nil
	sess.StageIndex++

	o.logger.Debug().
		Str("session_id", sess.ID).
		Str("category", string(d.Category)).
		Str("action", string(d.UserAction)).
		Float64("impact", d.Impact).
		Msg("Decision recorded")

	return sess.Transition(session.StateEngaged)
}

// nextBeat produces the next narrative beat, from the threat agent when it
// is reachable and from the template when the session runs locally.
func (o *Orchestrator) nextBeat(ctx context.Context, h *handle, text string) (*NarrativeUpdate, error) {
	if h.local {
		return o.localBeat(h), nil
	}

	sess := h.sess
	msg := protocol.New(protocol.TypeTrackScenario, Address, sess.ActiveAgent, sess.ID)
	msg.Track = &protocol.TrackScenarioPayload{
		UserInput:      text,
		TurnIndex:      len(sess.Turns) - 1,
		NarrativeState: string(sess.State),
		StageIndex:     sess.StageIndex,
	}

	resp, err := o.bus.Request(ctx, msg, o.cfg.AgentTimeout)
	if err != nil || resp.Type != protocol.TypeScenarioReady {
		// Mid-session agent loss: continue from the template at the
		// current stage rather than aborting the session.
		o.logger.Warn().Err(err).Str("session_id", sess.ID).
			Msg("Threat agent lost mid-session, continuing from template")
		h.local = true
		return o.localBeat(h), nil
	}

	update := &NarrativeUpdate{
		SessionID:        sess.ID,
		Narrative:        resp.Ready.Narrative,
		DecisionExpected: resp.Ready.DecisionExpected,
		NarrativeEnded:   resp.Ready.NarrativeEnded,
	}
	if resp.Ready.DecisionExpected {
		h.pending = &pendingDecision{
			Category:      session.Category(resp.Ready.Category),
			CorrectAction: session.Action(resp.Ready.CorrectAction),
			Hint:          o.stageHint(h),
		}
	}
	return update, nil
}

// localBeat serves the next beat straight from the scenario template.
func (o *Orchestrator) localBeat(h *handle) *NarrativeUpdate {
	sess := h.sess
	stages := h.tmpl.Stages

	if sess.StageIndex >= len(stages) {
		return &NarrativeUpdate{
			SessionID:      sess.ID,
			Narrative:      "The exchange winds down. The pressure is gone as quickly as it appeared.",
			NarrativeEnded: true,
		}
	}

	stage := stages[sess.StageIndex]
	h.pending = &pendingDecision{
		Category:      stage.Category,
		CorrectAction: stage.CorrectAction,
		Hint:          stage.Hint,
	}
	return &NarrativeUpdate{
		SessionID:        sess.ID,
		Narrative:        stage.Stimulus,
		DecisionExpected: true,
	}
}

// stageHint looks up the hint text for the current stage.
func (o *Orchestrator) stageHint(h *handle) string {
	if h.sess.StageIndex < len(h.tmpl.Stages) {
		return h.tmpl.Stages[h.sess.StageIndex].Hint
	}
	return ""
}

// RequestHint returns guidance for the pending decision, bounded by the
// per-session hint budget. Hint usage counts against the profile's
// engagement metrics at completion.
func (o *Orchestrator) RequestHint(ctx context.Context, sessionID string) (string, error) {
	h, err := o.handle(sessionID)
	if err != nil {
		return "", err
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	sess := h.sess
	if sess.State != session.StateDecisionPending || h.pending == nil {
		return "", ErrNoDecisionPending
	}
	if sess.HintsUsed >= o.cfg.MaxHints {
		return "", ErrHintsExhausted
	}

	hint := h.pending.Hint
	if hint == "" {
		hint = "Slow down. Who is really asking, and how would you check?"
	}

	sess.HintsUsed++
	if err := sess.AppendTurn("orchestrator", hint); err != nil {
		return "", err
	}

	// A hint means the trainee is struggling; ease the narrative pressure.
	// Presentation only: the session's recorded difficulty and scoring
	// weight are unchanged.
	if !h.local {
		adapt := protocol.New(protocol.TypeAdaptScenario, Address, sess.ActiveAgent, sess.ID)
		adapt.Adapt = &protocol.AdaptScenarioPayload{
			Difficulty:    max(profile.MinDifficulty, sess.Difficulty-1),
			FocusCategory: string(h.pending.Category),
		}
		if _, err := o.bus.Send(adapt); err != nil {
			o.logger.Warn().Err(err).Str("session_id", sessionID).Msg("Failed to adapt scenario")
		}
	}

	o.logger.Debug().Str("session_id", sessionID).Int("hints_used", sess.HintsUsed).Msg("Hint issued")
	return hint, nil
}

// Pause closes the session at the current turn boundary without scoring.
// All session state is retained for Resume.
func (o *Orchestrator) Pause(sessionID string) error {
	h, err := o.handle(sessionID)
	if err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.sess.Pause(); err != nil {
		return err
	}
	o.logger.Info().Str("session_id", sessionID).Msg("Session paused")
	return nil
}

// Resume re-opens a paused session in the engaged state. Scored sessions
// are permanently closed.
func (o *Orchestrator) Resume(sessionID string) (*session.Session, error) {
	h, err := o.handle(sessionID)
	if err != nil {
		return nil, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.sess.Resume(); err != nil {
		return nil, err
	}

	// A pause during decision_pending drops the pending stimulus; the
	// stage index was not advanced, so the next turn re-presents it.
	h.pending = nil

	o.logger.Info().Str("session_id", sessionID).Msg("Session resumed")
	return h.sess, nil
}

// CompleteSession scores a resolved session, updates the user's profile
// atomically, persists the session record, and returns the consolidated
// result with the debrief.
//
// Persistence happens before the session closes, so a transient store
// failure leaves the session in debrief and the call is retryable. The
// profile update is applied at most once across retries.
func (o *Orchestrator) CompleteSession(ctx context.Context, sessionID string) (*EvaluationResult, error) {
	h, err := o.handle(sessionID)
	if err != nil {
		return nil, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	sess := h.sess
	if sess.State != session.StateResolved && sess.State != session.StateDebrief {
		return nil, &PrematureCompletionError{State: sess.State}
	}

	if sess.State == session.StateResolved {
		if err := sess.Transition(session.StateDebrief); err != nil {
			return nil, err
		}
	}

	// Evaluate is pure: a retry recomputes the identical result.
	result := o.engine.Evaluate(sess.Decisions, sess.Difficulty)
	debrief := buildDebrief(h.tmpl.Debrief, result)

	if !h.profileApplied {
		prof, err := o.updateProfile(ctx, sess, result)
		if err != nil {
			return nil, err
		}
		h.profileApplied = true
		h.nextDifficulty = prof.Difficulty
	}

	if err := o.store.AppendSessionRecord(ctx, sessionRecord(sess, result)); err != nil {
		return nil, fmt.Errorf("failed to persist session record: %w", err)
	}

	if err := sess.AppendTurn("orchestrator", debrief); err != nil {
		return nil, err
	}
	if err := sess.Transition(session.StateClosed); err != nil {
		return nil, err
	}
	sess.MarkScored()

	o.releaseAgent(h)

	o.mu.Lock()
	delete(o.handles, sessionID)
	o.mu.Unlock()

	o.logger.Info().
		Str("session_id", sessionID).
		Str("user_id", sess.UserID).
		Str("risk_level", string(result.RiskLevel)).
		Int("decisions", result.Decisions).
		Int("next_difficulty", h.nextDifficulty).
		Msg("Session completed")

	return &EvaluationResult{
		SessionID:      sessionID,
		Result:         result,
		Debrief:        debrief,
		NextDifficulty: h.nextDifficulty,
	}, nil
}

// releaseAgent tells the threat agent to drop its per-session state. Fire
// and forget: a dead agent has nothing to release.
func (o *Orchestrator) releaseAgent(h *handle) {
	if h.local {
		return
	}
	msg := protocol.New(protocol.TypeSessionComplete, Address, h.sess.ActiveAgent, h.sess.ID)
	msg.Complete = &protocol.SessionCompletePayload{Reason: "scored"}
	if _, err := o.bus.Send(msg); err != nil {
		o.logger.Warn().Err(err).Str("session_id", h.sess.ID).Msg("Failed to notify agent of completion")
	}
}

// updateProfile applies the session outcome to the user's profile under
// the store's per-user atomicity guarantee, then adapts difficulty from
// the new history.
func (o *Orchestrator) updateProfile(ctx context.Context, sess *session.Session, result scoring.Result) (*profile.UserProfile, error) {
	prof, err := o.store.UpdateProfile(ctx, sess.UserID, func(p *profile.UserProfile) error {
		if result.Score != nil {
			p.AddOutcome(profile.Outcome{
				Score:       *result.Score,
				ThreatType:  sess.ThreatType,
				CompletedAt: time.Now().UTC(),
			})

			// Only scored sessions carry evidence about category
			// weaknesses, in either direction.
			failures := make(map[session.Category]int)
			for cat, cs := range result.Categories {
				if cs.Failures > 0 {
					failures[cat] = cs.Failures
				}
			}
			p.AddCategoryFailures(failures)
		}
		p.AddPattern(sess.PatternID)

		p.TotalSessions++
		p.TrainingTime += sess.Duration()
		p.HintsUsed += sess.HintsUsed
		p.Difficulty = o.controller.NextDifficulty(p)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to update profile: %w", err)
	}
	return prof, nil
}

// Session returns a snapshot copy of a live session.
func (o *Orchestrator) Session(sessionID string) (session.Session, error) {
	h, err := o.handle(sessionID)
	if err != nil {
		return session.Session{}, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	snap := *h.sess
	snap.Turns = append([]session.Turn(nil), h.sess.Turns...)
	snap.Decisions = append([]session.DecisionPoint(nil), h.sess.Decisions...)
	return snap, nil
}

func (o *Orchestrator) handle(sessionID string) (*handle, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	h, ok := o.handles[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return h, nil
}

// rotateThreatType cycles through available threat types by session count,
// so users see every threat family over time.
func (o *Orchestrator) rotateThreatType(p *profile.UserProfile) session.ThreatType {
	types := o.catalog.ThreatTypesAvailable()
	return types[p.TotalSessions%len(types)]
}

// recentCategories summarizes which categories recently failed, passed to
// the agent for narrative color.
func recentCategories(p *profile.UserProfile) []string {
	var cats []string
	for _, cat := range session.Categories {
		if p.CategoryFailures[cat] > 0 {
			cats = append(cats, string(cat))
		}
	}
	return cats
}

func sessionRecord(sess *session.Session, result scoring.Result) storage.SessionRecord {
	rec := storage.SessionRecord{
		ID:         sess.ID,
		UserID:     sess.UserID,
		ThreatType: sess.ThreatType,
		PatternID:  sess.PatternID,
		Difficulty: sess.Difficulty,
		Score:      result.Score,
		RiskLevel:  result.RiskLevel,
		Decisions:  result.Decisions,
		HintsUsed:  sess.HintsUsed,
		Duration:   sess.Duration(),
		StartedAt:  sess.StartedAt,
	}
	// The record is persisted before the closing transition stamps the
	// session's end time.
	if sess.EndedAt != nil {
		rec.EndedAt = *sess.EndedAt
	} else {
		rec.EndedAt = time.Now().UTC()
	}
	return rec
}
