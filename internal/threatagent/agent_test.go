package threatagent

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"guardacademy.io/guardacademy/internal/bus"
	"guardacademy.io/guardacademy/internal/generator"
	"guardacademy.io/guardacademy/internal/scenario"
	"guardacademy.io/guardacademy/pkg/protocol"
)

func setupAgent(t *testing.T, gen generator.Generator) (*Agent, *bus.Bus, func()) {
	t.Helper()

	catalog, err := scenario.Load("", zerolog.Nop())
	if err != nil {
		t.Fatalf("Failed to load catalog: %v", err)
	}

	b := bus.New(bus.DefaultConfig(), zerolog.Nop())
	agent := New("phishing_agent", b, catalog, gen, zerolog.Nop())
	agent.Start(context.Background())

	return agent, b, agent.Stop
}

func activate(t *testing.T, b *bus.Bus, sessionID, patternID string) protocol.Message {
	t.Helper()

	msg := protocol.New(protocol.TypeActivateScenario, "orchestrator", "phishing_agent", sessionID)
	msg.Activate = &protocol.ActivateScenarioPayload{
		ThreatType:    "phishing",
		PatternID:     patternID,
		Difficulty:    3,
		FocusCategory: "urgency",
	}

	resp, err := b.Request(context.Background(), msg, 2*time.Second)
	if err != nil {
		t.Fatalf("Activate request failed: %v", err)
	}
	return resp
}

func TestActivate_TemplateFallbackWithoutGenerator(t *testing.T) {
	_, b, stop := setupAgent(t, nil)
	defer stop()

	resp := activate(t, b, "sess-1", "phish-invoice-01")

	if resp.Type != protocol.TypeScenarioReady {
		t.Fatalf("Expected scenario_ready, got %s", resp.Type)
	}
	if !resp.Ready.FromTemplate {
		t.Error("Expected template fallback beat without a generator")
	}
	if !strings.Contains(resp.Ready.Narrative, "invoice") {
		t.Errorf("Expected template opening, got %q", resp.Ready.Narrative)
	}
	if len(resp.Ready.EmailArtifact) == 0 {
		t.Error("Expected email artifact for an email-borne scenario")
	}
}

func TestActivate_GeneratedBeat(t *testing.T) {
	gen := generator.Func(func(ctx context.Context, gc generator.Context) (string, error) {
		return "A tailored opening beat.", nil
	})
	_, b, stop := setupAgent(t, gen)
	defer stop()

	resp := activate(t, b, "sess-1", "phish-invoice-01")

	if resp.Ready.FromTemplate {
		t.Error("Expected a generated beat")
	}
	if resp.Ready.Narrative != "A tailored opening beat." {
		t.Errorf("Unexpected narrative: %q", resp.Ready.Narrative)
	}
}

func TestActivate_GeneratorFailureDegradesToTemplate(t *testing.T) {
	gen := generator.Func(func(ctx context.Context, gc generator.Context) (string, error) {
		return "", generator.ErrProviderUnavailable
	})
	_, b, stop := setupAgent(t, gen)
	defer stop()

	resp := activate(t, b, "sess-1", "phish-invoice-01")

	if resp.Type != protocol.TypeScenarioReady {
		t.Fatalf("Expected scenario_ready despite generator failure, got %s", resp.Type)
	}
	if !resp.Ready.FromTemplate {
		t.Error("Expected template fallback when generation fails")
	}
}

func TestActivate_UnknownPatternFails(t *testing.T) {
	_, b, stop := setupAgent(t, nil)
	defer stop()

	msg := protocol.New(protocol.TypeActivateScenario, "orchestrator", "phishing_agent", "sess-1")
	msg.Activate = &protocol.ActivateScenarioPayload{
		ThreatType: "phishing",
		PatternID:  "no-such-pattern",
		Difficulty: 3,
	}

	resp, err := b.Request(context.Background(), msg, 2*time.Second)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	if resp.Type != protocol.TypeScenarioFailed {
		t.Fatalf("Expected scenario_failed, got %s", resp.Type)
	}
	if resp.Failed.Reason == "" {
		t.Error("Expected a failure reason")
	}
}

func TestTrack_WalksStagesThenEnds(t *testing.T) {
	_, b, stop := setupAgent(t, nil)
	defer stop()

	activate(t, b, "sess-1", "phish-invoice-01")

	track := func(stage int) protocol.Message {
		msg := protocol.New(protocol.TypeTrackScenario, "orchestrator", "phishing_agent", "sess-1")
		msg.Track = &protocol.TrackScenarioPayload{
			UserInput:      "hm, let me look at this",
			TurnIndex:      stage * 2,
			NarrativeState: "engaged",
			StageIndex:     stage,
		}
		resp, err := b.Request(context.Background(), msg, 2*time.Second)
		if err != nil {
			t.Fatalf("Track request failed: %v", err)
		}
		return resp
	}

	// Stage 0: first decision stimulus.
	resp := track(0)
	if !resp.Ready.DecisionExpected {
		t.Error("Expected a decision at stage 0")
	}
	if resp.Ready.Category != "urgency" {
		t.Errorf("Expected urgency stage first, got %s", resp.Ready.Category)
	}
	if resp.Ready.CorrectAction != "verified_first" {
		t.Errorf("Expected correct action from template, got %s", resp.Ready.CorrectAction)
	}

	// Stage 1: second decision stimulus.
	resp = track(1)
	if !resp.Ready.DecisionExpected || resp.Ready.Category != "authority" {
		t.Errorf("Expected authority stage second, got %+v", resp.Ready)
	}

	// Past the last stage: narrative ends.
	resp = track(2)
	if resp.Ready.DecisionExpected {
		t.Error("Expected no decision after the final stage")
	}
	if !resp.Ready.NarrativeEnded {
		t.Error("Expected narrative_ended after the final stage")
	}
}

func TestSessionComplete_ReleasesState(t *testing.T) {
	agent, b, stop := setupAgent(t, nil)
	defer stop()

	activate(t, b, "sess-1", "phish-invoice-01")

	done := protocol.New(protocol.TypeSessionComplete, "orchestrator", "phishing_agent", "sess-1")
	done.Complete = &protocol.SessionCompletePayload{Reason: "resolved"}
	if _, err := b.Send(done); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	// The agent loop processes asynchronously.
	deadline := time.Now().Add(time.Second)
	for {
		agent.mu.Lock()
		_, present := agent.sessions["sess-1"]
		agent.mu.Unlock()
		if !present {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("Expected session state released after session_complete")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestBuildEmailArtifact(t *testing.T) {
	artifact, err := BuildEmailArtifact(
		"Accounts Payable <billing@vendor.example>",
		"you@yourcompany.example",
		"Invoice overdue",
		"Please confirm payment today.",
	)
	if err != nil {
		t.Fatalf("BuildEmailArtifact failed: %v", err)
	}

	for _, want := range []string{"From: ", "To: ", "Subject: Invoice overdue", "Please confirm payment today."} {
		if !bytes.Contains(artifact, []byte(want)) {
			t.Errorf("Expected artifact to contain %q", want)
		}
	}
}

func TestBuildEmailArtifact_InvalidSender(t *testing.T) {
	_, err := BuildEmailArtifact("not-an-address", "you@yourcompany.example", "s", "b")
	if err == nil {
		t.Fatal("Expected invalid sender to fail")
	}
	if errors.Is(err, context.Canceled) {
		t.Fatal("Unexpected error type")
	}
}
