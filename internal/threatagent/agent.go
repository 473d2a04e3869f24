// Package threatagent implements the role-playing threat actor: a bus
// loop that opens scenarios, produces narrative beats for user turns, and
// adapts pressure when told to. Beats come from the generation
// collaborator when it is healthy and from the scenario template when it
// is not; the trainee never sees the difference as an error.
package threatagent

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"guardacademy.io/guardacademy/internal/bus"
	"guardacademy.io/guardacademy/internal/generator"
	"guardacademy.io/guardacademy/internal/scenario"
	"guardacademy.io/guardacademy/internal/session"
	"guardacademy.io/guardacademy/pkg/protocol"
)

// TraineeAddress is the address rendered into email artifacts.
const TraineeAddress = "you@yourcompany.example"

// Agent is a threat-actor agent serving one or more threat types.
type Agent struct {
	id      string
	bus     *bus.Bus
	catalog *scenario.Catalog
	gen     generator.Generator
	logger  zerolog.Logger

	mu       sync.Mutex
	sessions map[string]*scenarioState

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// scenarioState is the per-session context the agent keeps between beats.
// All of it is re-derivable from the activate payload; nothing here makes
// the agent the owner of session state.
type scenarioState struct {
	template   *scenario.Template
	difficulty int
	focus      session.Category
}

// New creates a threat agent with the given bus address.
func New(id string, b *bus.Bus, catalog *scenario.Catalog, gen generator.Generator, logger zerolog.Logger) *Agent {
	return &Agent{
		id:       id,
		bus:      b,
		catalog:  catalog,
		gen:      gen,
		logger:   logger.With().Str("component", "threat_agent").Str("agent_id", id).Logger(),
		sessions: make(map[string]*scenarioState),
	}
}

// Start begins the message loop.
func (a *Agent) Start(ctx context.Context) {
	ctx, a.cancel = context.WithCancel(ctx)
	a.logger.Info().Msg("Starting threat agent")

	a.wg.Add(1)
	go a.loop(ctx)
}

// Stop halts the message loop.
func (a *Agent) Stop() {
	a.logger.Info().Msg("Stopping threat agent")
	if a.cancel != nil {
		a.cancel()
	}
	a.wg.Wait()
}

func (a *Agent) loop(ctx context.Context) {
	defer a.wg.Done()

	for {
		msg, err := a.bus.Receive(ctx, a.id)
		if err != nil {
			return // context cancelled
		}
		a.dispatch(ctx, msg)
	}
}

// dispatch is exhaustive over the request message types the agent serves.
func (a *Agent) dispatch(ctx context.Context, msg protocol.Message) {
	var err error
	switch msg.Type {
	case protocol.TypeActivateScenario:
		err = a.handleActivate(ctx, msg)
	case protocol.TypeTrackScenario:
		err = a.handleTrack(ctx, msg)
	case protocol.TypeAdaptScenario:
		err = a.handleAdapt(msg)
	case protocol.TypeSessionComplete:
		a.handleComplete(msg)
	default:
		a.logger.Warn().Str("type", string(msg.Type)).Msg("Unexpected message type")
	}

	if err != nil {
		a.logger.Error().Err(err).Str("type", string(msg.Type)).Str("session_id", msg.SessionID).Msg("Failed to handle message")
		a.respondFailed(msg, err)
	}
}

func (a *Agent) handleActivate(ctx context.Context, msg protocol.Message) error {
	p := msg.Activate

	tmpl := a.catalog.Get(p.PatternID)
	if tmpl == nil {
		return fmt.Errorf("unknown scenario pattern: %s", p.PatternID)
	}

	state := &scenarioState{
		template:   tmpl,
		difficulty: p.Difficulty,
		focus:      session.Category(p.FocusCategory),
	}
	a.mu.Lock()
	a.sessions[msg.SessionID] = state
	a.mu.Unlock()

	narrative, fromTemplate := a.beat(ctx, state, nil, tmpl.Opening, -1)

	ready := &protocol.ScenarioReadyPayload{
		Narrative:    narrative,
		FromTemplate: fromTemplate,
	}

	if tmpl.EmailSubject != "" && tmpl.EmailSender != "" {
		artifact, err := BuildEmailArtifact(tmpl.EmailSender, TraineeAddress, tmpl.EmailSubject, narrative)
		if err != nil {
			// The narrative alone still carries the scenario.
			a.logger.Warn().Err(err).Str("pattern_id", tmpl.ID).Msg("Failed to build email artifact")
		} else {
			ready.EmailArtifact = artifact
		}
	}

	a.logger.Info().
		Str("session_id", msg.SessionID).
		Str("pattern_id", tmpl.ID).
		Int("difficulty", p.Difficulty).
		Bool("from_template", fromTemplate).
		Msg("Scenario activated")

	reply := msg.Reply(protocol.TypeScenarioReady)
	reply.Ready = ready
	return a.bus.Respond(msg, reply)
}

func (a *Agent) handleTrack(ctx context.Context, msg protocol.Message) error {
	p := msg.Track

	a.mu.Lock()
	state, ok := a.sessions[msg.SessionID]
	a.mu.Unlock()
	if !ok {
		return fmt.Errorf("no active scenario for session %s", msg.SessionID)
	}

	stages := state.template.Stages
	reply := msg.Reply(protocol.TypeScenarioReady)

	if p.StageIndex >= len(stages) {
		// Narrative exhausted: produce a closing beat.
		narrative, fromTemplate := a.beat(ctx, state, []session.Turn{{Role: "user", Content: p.UserInput}},
			"The exchange winds down. The pressure is gone as quickly as it appeared.", p.StageIndex)
		reply.Ready = &protocol.ScenarioReadyPayload{
			Narrative:      narrative,
			NarrativeEnded: true,
			FromTemplate:   fromTemplate,
		}
		return a.bus.Respond(msg, reply)
	}

	stage := stages[p.StageIndex]
	narrative, fromTemplate := a.beat(ctx, state, []session.Turn{{Role: "user", Content: p.UserInput}}, stage.Stimulus, p.StageIndex)

	reply.Ready = &protocol.ScenarioReadyPayload{
		Narrative:        narrative,
		DecisionExpected: true,
		Category:         string(stage.Category),
		CorrectAction:    string(stage.CorrectAction),
		FromTemplate:     fromTemplate,
	}
	return a.bus.Respond(msg, reply)
}

func (a *Agent) handleAdapt(msg protocol.Message) error {
	p := msg.Adapt

	a.mu.Lock()
	state, ok := a.sessions[msg.SessionID]
	if ok {
		state.difficulty = p.Difficulty
		if p.FocusCategory != "" {
			state.focus = session.Category(p.FocusCategory)
		}
	}
	a.mu.Unlock()

	if !ok {
		return fmt.Errorf("no active scenario for session %s", msg.SessionID)
	}

	a.logger.Info().
		Str("session_id", msg.SessionID).
		Int("difficulty", p.Difficulty).
		Msg("Scenario adapted")
	return nil
}

func (a *Agent) handleComplete(msg protocol.Message) {
	a.mu.Lock()
	delete(a.sessions, msg.SessionID)
	a.mu.Unlock()

	a.logger.Info().
		Str("session_id", msg.SessionID).
		Str("reason", msg.Complete.Reason).
		Msg("Scenario released")
}

// beat asks the generation collaborator for narrative text, degrading to
// the template fallback on any failure. The second return reports whether
// the fallback was used.
func (a *Agent) beat(ctx context.Context, state *scenarioState, history []session.Turn, fallback string, stage int) (string, bool) {
	if a.gen == nil {
		return fallback, true
	}

	gc := generator.Context{
		RoleInstructions: roleInstructions(state.template.ThreatType),
		History:          history,
		ThreatType:       state.template.ThreatType,
		FocusCategory:    state.focus,
		Difficulty:       state.difficulty,
		Stage:            stage,
	}

	text, err := a.gen.Generate(ctx, gc)
	if err != nil {
		a.logger.Warn().Err(err).Str("pattern_id", state.template.ID).Msg("Generation failed, using template beat")
		return fallback, true
	}
	return text, false
}

func (a *Agent) respondFailed(msg protocol.Message, cause error) {
	if msg.IsResponse() {
		return
	}
	reply := msg.Reply(protocol.TypeScenarioFailed)
	reply.Failed = &protocol.ScenarioFailedPayload{
		Reason:    cause.Error(),
		Retryable: false,
	}
	if err := a.bus.Respond(msg, reply); err != nil {
		a.logger.Error().Err(err).Msg("Failed to send failure response")
	}
}

// roleInstructions frames the actor persona per threat type.
func roleInstructions(t session.ThreatType) string {
	switch t {
	case session.ThreatPhishing:
		return "You play a phishing email sender applying social pressure through email."
	case session.ThreatVishing:
		return "You play a voice caller impersonating a trusted party over the phone."
	case session.ThreatBEC:
		return "You play a compromised-executive email persona requesting irregular payments."
	case session.ThreatPhysical:
		return "You play a visitor attempting to talk their way into a secure area."
	case session.ThreatInsider:
		return "You play a colleague making requests that quietly exceed their authorization."
	default:
		return "You play a social engineering adversary in a training simulation."
	}
}
