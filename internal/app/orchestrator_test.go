package app_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"nichenerd-service/internal/agent"
	"nichenerd-service/internal/app"
	"nichenerd-service/internal/domain"
	"nichenerd-service/internal/infra/memory"
)

func TestStartAndAnswerFlow(t *testing.T) {
	ctx := context.Background()
	caller := &scriptedCaller{}
	caller.push(quizReply("Q1: what is a pod?", 1, false, 0))
	caller.push(quizReply("Correct! Q2: what is a deployment?", 2, false, 1))
	orch := newTestOrchestrator(caller)

	if err := orch.Start(ctx, "Kubernetes"); err != nil {
		t.Fatalf("start: %v", err)
	}
	snap := orch.Snapshot()
	if snap.Screen != domain.ScreenQuiz {
		t.Fatalf("expected quiz screen, got %s", snap.Screen)
	}
	if len(snap.Messages) != 1 || snap.Messages[0].Role != domain.RoleAgent {
		t.Fatalf("expected one agent message, got %+v", snap.Messages)
	}
	if snap.CurrentQuestion != 1 || snap.QuizComplete {
		t.Fatalf("unexpected counters: %+v", snap)
	}

	if err := orch.SubmitAnswer(ctx, "a group of containers"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	snap = orch.Snapshot()
	if len(snap.Messages) != 3 {
		t.Fatalf("expected agent/user/agent transcript, got %d messages", len(snap.Messages))
	}
	if snap.Messages[1].Role != domain.RoleUser || snap.Messages[1].Text != "a group of containers" {
		t.Fatalf("unexpected user turn: %+v", snap.Messages[1])
	}
	if snap.Messages[2].Verdict != domain.VerdictCorrect {
		t.Fatalf("expected correct verdict, got %q", snap.Messages[2].Verdict)
	}
	if snap.CurrentQuestion != 2 {
		t.Fatalf("expected agent-reported question 2, got %d", snap.CurrentQuestion)
	}

	// The start call carries the fixed-topic prompt and correlation context.
	first := caller.calls[0]
	if first.agentID != "quiz-master" || first.cc == nil || first.cc.UserID != "user-test" {
		t.Fatalf("unexpected call wiring: %+v", first)
	}
	if first.cc.SessionID != caller.calls[1].cc.SessionID {
		t.Fatalf("answer must reuse the attempt's session id")
	}
}

func TestTerminalReplyStoresFinalResult(t *testing.T) {
	ctx := context.Background()
	caller := &scriptedCaller{}
	caller.push(quizReply("Q10: last one", 10, false, 7))
	caller.push(agent.CallResult{
		Success: true,
		Response: &agent.Response{Result: map[string]any{
			"message":         "Incredible run! You scored 8/10.",
			"question_number": float64(10),
			"is_complete":     true,
			"score":           float64(8),
			"total":           float64(10),
			"level_name":      "Keeb Sensei",
			"tagline":         "Types at 150 WPM.",
			"topic":           "Mechanical Keyboards",
		}},
	})
	orch := newTestOrchestrator(caller)

	if err := orch.Start(ctx, "Mechanical Keyboards"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := orch.SubmitAnswer(ctx, "final answer"); err != nil {
		t.Fatalf("submit: %v", err)
	}

	snap := orch.Snapshot()
	if !snap.QuizComplete || snap.Final == nil {
		t.Fatalf("expected terminal state, got %+v", snap)
	}
	if snap.Final.Score != 8 || snap.Final.LevelName != "Keeb Sensei" {
		t.Fatalf("final result not stored verbatim: %+v", snap.Final)
	}

	if err := orch.SubmitAnswer(ctx, "one more"); !errors.Is(err, domain.ErrQuizComplete) {
		t.Fatalf("expected ErrQuizComplete, got %v", err)
	}
}

func TestSubmitWhileLoadingIsNoOp(t *testing.T) {
	ctx := context.Background()
	caller := &scriptedCaller{}
	caller.push(quizReply("Q1: ready?", 1, false, 0))
	gate := &gatedCaller{inner: caller, started: make(chan struct{}), release: make(chan struct{})}
	orch := newTestOrchestrator(gate)

	if err := orch.Start(ctx, "Kubernetes"); err != nil {
		t.Fatalf("start: %v", err)
	}

	caller.push(quizReply("Correct! Q2", 2, false, 1))
	gate.arm()
	done := make(chan error, 1)
	go func() { done <- orch.SubmitAnswer(ctx, "first answer") }()
	<-gate.started

	lenBefore := len(orch.Snapshot().Messages)
	if err := orch.SubmitAnswer(ctx, "second answer"); !errors.Is(err, domain.ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
	if got := len(orch.Snapshot().Messages); got != lenBefore {
		t.Fatalf("history changed while loading: %d -> %d", lenBefore, got)
	}

	close(gate.release)
	if err := <-done; err != nil {
		t.Fatalf("first submit: %v", err)
	}
	if got := len(orch.Snapshot().Messages); got != 3 {
		t.Fatalf("expected 3 messages after resolution, got %d", got)
	}
}

func TestScreenTransitionsAreClosed(t *testing.T) {
	ctx := context.Background()
	caller := &scriptedCaller{}
	orch := newTestOrchestrator(caller)

	// From Home only Start moves forward.
	if err := orch.SubmitAnswer(ctx, "hi"); !errors.Is(err, domain.ErrBadTransition) {
		t.Fatalf("expected ErrBadTransition from home, got %v", err)
	}
	if err := orch.GenerateScorecard(ctx); !errors.Is(err, domain.ErrBadTransition) {
		t.Fatalf("expected ErrBadTransition from home, got %v", err)
	}
	if err := orch.PlayAgain(ctx); !errors.Is(err, domain.ErrBadTransition) {
		t.Fatalf("expected ErrBadTransition from home, got %v", err)
	}

	caller.push(quizReply("Q1", 1, false, 0))
	if err := orch.Start(ctx, "Kubernetes"); err != nil {
		t.Fatalf("start: %v", err)
	}
	// From Quiz neither Start (non-empty history) nor PlayAgain is legal.
	if err := orch.Start(ctx, "Another Topic"); !errors.Is(err, domain.ErrBadTransition) {
		t.Fatalf("expected ErrBadTransition restarting mid-quiz, got %v", err)
	}
	if err := orch.PlayAgain(ctx); !errors.Is(err, domain.ErrBadTransition) {
		t.Fatalf("expected ErrBadTransition from quiz, got %v", err)
	}
	// Scorecard requires a final result.
	if err := orch.GenerateScorecard(ctx); !errors.Is(err, domain.ErrNoFinalResult) {
		t.Fatalf("expected ErrNoFinalResult, got %v", err)
	}

	caller.push(quizReply("Done! You scored 9/10.", 10, true, 9))
	if err := orch.SubmitAnswer(ctx, "final"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	caller.push(artifactReply("https://cdn/scorecard.png"))
	if err := orch.GenerateScorecard(ctx); err != nil {
		t.Fatalf("scorecard: %v", err)
	}
	snap := orch.Snapshot()
	if snap.Screen != domain.ScreenScorecard || snap.ScorecardURL != "https://cdn/scorecard.png" {
		t.Fatalf("unexpected scorecard state: %+v", snap)
	}

	// From Scorecard only PlayAgain returns home.
	if err := orch.SubmitAnswer(ctx, "hi"); !errors.Is(err, domain.ErrBadTransition) {
		t.Fatalf("expected ErrBadTransition from scorecard, got %v", err)
	}
	if err := orch.Start(ctx, "Topic"); !errors.Is(err, domain.ErrBadTransition) {
		t.Fatalf("expected ErrBadTransition from scorecard, got %v", err)
	}
	if err := orch.PlayAgain(ctx); err != nil {
		t.Fatalf("play again: %v", err)
	}
	snap = orch.Snapshot()
	if snap.Screen != domain.ScreenHome || len(snap.Messages) != 0 || snap.Final != nil {
		t.Fatalf("expected cleared home state, got %+v", snap)
	}
}

func TestStartFailureAllowsRetry(t *testing.T) {
	ctx := context.Background()
	caller := &scriptedCaller{}
	caller.pushErr(errors.New("connection refused"))
	caller.push(quizReply("Q1", 1, false, 0))
	orch := newTestOrchestrator(caller)

	if err := orch.Start(ctx, "Kubernetes"); err == nil {
		t.Fatal("expected start to report the transport failure")
	}
	snap := orch.Snapshot()
	if snap.Screen != domain.ScreenQuiz || len(snap.Messages) != 0 {
		t.Fatalf("expected empty quiz screen after failure, got %+v", snap)
	}
	if snap.Error == "" {
		t.Fatal("expected a user-visible error message")
	}

	// Retry is a plain re-invocation of Start.
	if err := orch.Start(ctx, "Kubernetes"); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if snap := orch.Snapshot(); len(snap.Messages) != 1 || snap.Error != "" {
		t.Fatalf("expected recovered state, got %+v", snap)
	}
}

func TestAgentReportedFailureSurfacesVerbatim(t *testing.T) {
	ctx := context.Background()
	caller := &scriptedCaller{}
	caller.push(quizReply("Q1", 1, false, 0))
	caller.push(agent.CallResult{Success: false, Error: "quota exhausted"})
	orch := newTestOrchestrator(caller)

	if err := orch.Start(ctx, "Kubernetes"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := orch.SubmitAnswer(ctx, "answer"); err == nil {
		t.Fatal("expected error for success=false reply")
	}
	if snap := orch.Snapshot(); snap.Error != "quota exhausted" {
		t.Fatalf("expected agent error verbatim, got %q", snap.Error)
	}
}

func TestUnparsableReplyKeepsUserTurn(t *testing.T) {
	ctx := context.Background()
	caller := &scriptedCaller{}
	caller.push(quizReply("Q1", 1, false, 0))
	caller.push(agent.CallResult{Success: true, Response: &agent.Response{Result: map[string]any{"message": ""}}})
	orch := newTestOrchestrator(caller)

	if err := orch.Start(ctx, "Kubernetes"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := orch.SubmitAnswer(ctx, "optimistic"); !errors.Is(err, domain.ErrUnparsable) {
		t.Fatalf("expected ErrUnparsable, got %v", err)
	}
	snap := orch.Snapshot()
	// Optimistic append stays; no agent turn was added.
	if len(snap.Messages) != 2 || snap.Messages[1].Role != domain.RoleUser {
		t.Fatalf("unexpected transcript: %+v", snap.Messages)
	}
	if snap.Error == "" {
		t.Fatal("expected a parse error message")
	}
}

func TestScorecardWithoutArtifactStillAdvances(t *testing.T) {
	ctx := context.Background()
	caller := &scriptedCaller{}
	caller.push(quizReply("Q10: last question", 10, false, 5))
	caller.push(quizReply("Done! 5/10.", 10, true, 5))
	orch := newTestOrchestrator(caller)
	if err := orch.Start(ctx, "90s Anime"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := orch.SubmitAnswer(ctx, "final"); err != nil {
		t.Fatalf("submit: %v", err)
	}

	caller.push(agent.CallResult{Success: true})
	if err := orch.GenerateScorecard(ctx); !errors.Is(err, domain.ErrNoArtifact) {
		t.Fatalf("expected ErrNoArtifact, got %v", err)
	}
	snap := orch.Snapshot()
	if snap.Screen != domain.ScreenScorecard || snap.ScorecardURL != "" {
		t.Fatalf("expected scorecard screen without artifact, got %+v", snap)
	}
}

func TestScorecardFailureStillAdvances(t *testing.T) {
	ctx := context.Background()
	caller := &scriptedCaller{}
	caller.push(quizReply("Q10: last question", 10, false, 5))
	caller.push(quizReply("Done! 5/10.", 10, true, 5))
	orch := newTestOrchestrator(caller)
	if err := orch.Start(ctx, "90s Anime"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := orch.SubmitAnswer(ctx, "final"); err != nil {
		t.Fatalf("submit: %v", err)
	}

	caller.pushErr(errors.New("timeout"))
	if err := orch.GenerateScorecard(ctx); err == nil {
		t.Fatal("expected error")
	}
	snap := orch.Snapshot()
	if snap.Screen != domain.ScreenScorecard || snap.Error == "" {
		t.Fatalf("expected scorecard screen with error recorded, got %+v", snap)
	}
}

func TestStartGuardsEmptyTopic(t *testing.T) {
	orch := newTestOrchestrator(&scriptedCaller{})
	if err := orch.Start(context.Background(), "   "); !errors.Is(err, domain.ErrEmptyTopic) {
		t.Fatalf("expected ErrEmptyTopic, got %v", err)
	}
}

func TestResumeRestoresTranscript(t *testing.T) {
	ctx := context.Background()
	transcripts := memory.NewTranscriptStore(time.Minute)
	caller := &scriptedCaller{}
	caller.push(quizReply("Q1: what is a pod?", 1, false, 0))
	caller.push(quizReply("Correct! Q2", 2, false, 1))

	first := newTestOrchestratorWith(caller, transcripts)
	if err := first.Start(ctx, "Kubernetes"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := first.SubmitAnswer(ctx, "containers"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	sessionID := first.SessionID()

	// A reconnecting client resumes with the same session id.
	second := newTestOrchestratorWith(&scriptedCaller{}, transcripts)
	if err := second.Resume(ctx, sessionID); err != nil {
		t.Fatalf("resume: %v", err)
	}
	snap := second.Snapshot()
	if snap.Screen != domain.ScreenQuiz || len(snap.Messages) != 3 || snap.CurrentQuestion != 2 {
		t.Fatalf("unexpected resumed state: %+v", snap)
	}
}

func TestSubscribeReceivesStateChanges(t *testing.T) {
	ctx := context.Background()
	caller := &scriptedCaller{}
	caller.push(quizReply("Q1", 1, false, 0))
	orch := newTestOrchestrator(caller)

	ch, cancel := orch.Subscribe()
	defer cancel()
	<-ch // initial snapshot

	if err := orch.Start(ctx, "Kubernetes"); err != nil {
		t.Fatalf("start: %v", err)
	}

	deadline := time.After(time.Second)
	for {
		select {
		case snap := <-ch:
			if len(snap.Messages) == 1 && !snap.Loading {
				return
			}
		case <-deadline:
			t.Fatal("never observed the settled quiz snapshot")
		}
	}
}

// --- test doubles ---

type capturedCall struct {
	prompt  string
	agentID string
	cc      *agent.CallContext
}

type scriptedCaller struct {
	mu      sync.Mutex
	calls   []capturedCall
	replies []func() (agent.CallResult, error)
}

func (c *scriptedCaller) push(result agent.CallResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.replies = append(c.replies, func() (agent.CallResult, error) { return result, nil })
}

func (c *scriptedCaller) pushErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.replies = append(c.replies, func() (agent.CallResult, error) { return agent.CallResult{}, err })
}

func (c *scriptedCaller) Call(_ context.Context, prompt, agentID string, cc *agent.CallContext) (agent.CallResult, error) {
	c.mu.Lock()
	c.calls = append(c.calls, capturedCall{prompt: prompt, agentID: agentID, cc: cc})
	if len(c.replies) == 0 {
		c.mu.Unlock()
		return agent.CallResult{}, fmt.Errorf("no scripted reply for %q", prompt)
	}
	next := c.replies[0]
	c.replies = c.replies[1:]
	c.mu.Unlock()
	return next()
}

// gatedCaller blocks one call until released, for in-flight tests.
type gatedCaller struct {
	inner   agent.Caller
	armed   bool
	mu      sync.Mutex
	started chan struct{}
	release chan struct{}
}

func (g *gatedCaller) arm() {
	g.mu.Lock()
	g.armed = true
	g.mu.Unlock()
}

func (g *gatedCaller) Call(ctx context.Context, prompt, agentID string, cc *agent.CallContext) (agent.CallResult, error) {
	g.mu.Lock()
	block := g.armed
	g.armed = false
	g.mu.Unlock()
	if block {
		close(g.started)
		<-g.release
	}
	return g.inner.Call(ctx, prompt, agentID, cc)
}

func quizReply(message string, questionNumber int, complete bool, score int) agent.CallResult {
	return agent.CallResult{
		Success: true,
		Response: &agent.Response{Result: map[string]any{
			"message":         message,
			"question_number": float64(questionNumber),
			"is_complete":     complete,
			"score":           float64(score),
			"total":           float64(10),
		}},
	}
}

func artifactReply(url string) agent.CallResult {
	return agent.CallResult{
		Success:       true,
		ModuleOutputs: &agent.ModuleOutputs{ArtifactFiles: []agent.ArtifactFile{{FileURL: url}}},
	}
}

func newTestOrchestrator(caller agent.Caller) *app.Orchestrator {
	return newTestOrchestratorWith(caller, memory.NewTranscriptStore(time.Minute))
}

func newTestOrchestratorWith(caller agent.Caller, transcripts app.TranscriptStore) *app.Orchestrator {
	n := 0
	return app.NewOrchestrator(caller, app.Config{
		QuizAgentID:      "quiz-master",
		ScorecardAgentID: "scorecard-gen",
		UserID:           "user-test",
		NewSessionID: func() string {
			n++
			return fmt.Sprintf("sess-%d", n)
		},
		Transcripts: transcripts,
	})
}
