package app

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"nichenerd-service/internal/agent"
	"nichenerd-service/internal/domain"
	"nichenerd-service/internal/parse"
)

// TranscriptStore persists the in-flight transcript so a client reconnecting
// within the same browser session can resume its attempt. Load returns nil
// when no transcript exists.
type TranscriptStore interface {
	Save(ctx context.Context, sessionID string, messages []domain.ChatMessage) error
	Load(ctx context.Context, sessionID string) ([]domain.ChatMessage, error)
	Delete(ctx context.Context, sessionID string) error
}

// Config wires one orchestrator instance to its collaborators.
type Config struct {
	QuizAgentID      string
	ScorecardAgentID string
	UserID           string
	NewSessionID     func() string
	Transcripts      TranscriptStore
}

// Orchestrator drives one quiz conversation: the home -> quiz -> scorecard
// state machine, the transcript, and the single-flight guard around agent
// calls. All state is instance-owned; nothing here is ambient or global, so
// concurrent sessions (and tests) never interfere.
type Orchestrator struct {
	caller      agent.Caller
	transcripts TranscriptStore
	cfg         Config

	mu          sync.Mutex
	subscribers map[chan domain.Snapshot]struct{}

	screen           domain.Screen
	topic            string
	sessionID        string
	messages         []domain.ChatMessage
	msgCounter       int
	currentQuestion  int
	loading          bool
	scorecardLoading bool
	errMsg           string
	quizComplete     bool
	final            *domain.QuizState
	scorecardURL     string
}

func NewOrchestrator(caller agent.Caller, cfg Config) *Orchestrator {
	return &Orchestrator{
		caller:      caller,
		transcripts: cfg.Transcripts,
		cfg:         cfg,
		subscribers: make(map[chan domain.Snapshot]struct{}),
		screen:      domain.ScreenHome,
	}
}

// Start begins a new quiz on the given topic. Legal from Home, and from Quiz
// only while the transcript is still empty (retry after a failed start). A
// fresh session id is allocated so the remote agent starts a clean
// conversation; all quiz-scoped state is reset first.
func (o *Orchestrator) Start(ctx context.Context, topic string) error {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return domain.ErrEmptyTopic
	}

	o.mu.Lock()
	if o.busyLocked() {
		o.mu.Unlock()
		return domain.ErrBusy
	}
	if o.screen != domain.ScreenHome && !(o.screen == domain.ScreenQuiz && len(o.messages) == 0) {
		o.mu.Unlock()
		return domain.ErrBadTransition
	}
	previousSession := o.sessionID
	o.resetQuizStateLocked()
	o.screen = domain.ScreenQuiz
	o.topic = topic
	o.sessionID = o.cfg.NewSessionID()
	sessionID := o.sessionID
	o.loading = true
	o.broadcastLocked()
	o.mu.Unlock()

	if previousSession != "" && o.transcripts != nil {
		_ = o.transcripts.Delete(ctx, previousSession)
	}

	result, callErr := o.caller.Call(ctx, startPrompt(topic), o.cfg.QuizAgentID, o.callContext(sessionID))

	o.mu.Lock()
	defer func() {
		o.loading = false
		o.broadcastLocked()
		o.mu.Unlock()
	}()

	if callErr != nil {
		o.errMsg = msgNetworkError
		return errors.Wrap(callErr, "start quiz")
	}
	if !result.Success {
		o.errMsg = agentErrorOr(result, "Failed to start quiz. Please try again.")
		return errors.New(o.errMsg)
	}
	state, err := parse.Normalize(result)
	if err != nil {
		o.errMsg = msgParseError
		return err
	}

	o.appendAgentMessageLocked(state, domain.VerdictUnknown)
	o.currentQuestion = state.QuestionNumber
	o.saveTranscriptLocked(ctx)
	return nil
}

// SubmitAnswer sends the user's answer to the quiz agent. The user turn is
// appended optimistically before the call; the agent turn is appended only
// after normalization succeeds, annotated with the correctness verdict. The
// agent is authoritative on question numbering; the counter is never
// incremented locally.
func (o *Orchestrator) SubmitAnswer(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return domain.ErrEmptyAnswer
	}

	o.mu.Lock()
	if o.busyLocked() {
		o.mu.Unlock()
		return domain.ErrBusy
	}
	if o.screen != domain.ScreenQuiz {
		o.mu.Unlock()
		return domain.ErrBadTransition
	}
	if o.quizComplete {
		o.mu.Unlock()
		return domain.ErrQuizComplete
	}
	o.errMsg = ""
	o.messages = append(o.messages, domain.ChatMessage{
		ID:   o.nextMessageIDLocked(),
		Role: domain.RoleUser,
		Text: text,
	})
	sessionID := o.sessionID
	o.loading = true
	o.saveTranscriptLocked(ctx)
	o.broadcastLocked()
	o.mu.Unlock()

	result, callErr := o.caller.Call(ctx, text, o.cfg.QuizAgentID, o.callContext(sessionID))

	o.mu.Lock()
	defer func() {
		o.loading = false
		o.broadcastLocked()
		o.mu.Unlock()
	}()

	if callErr != nil {
		o.errMsg = msgNetworkError
		return errors.Wrap(callErr, "submit answer")
	}
	if !result.Success {
		o.errMsg = agentErrorOr(result, "Failed to submit answer.")
		return errors.New(o.errMsg)
	}
	state, err := parse.Normalize(result)
	if err != nil {
		o.errMsg = msgParseError
		return err
	}

	o.appendAgentMessageLocked(state, parse.ClassifyCorrectness(state.Message))
	o.currentQuestion = state.QuestionNumber
	if state.IsComplete {
		o.quizComplete = true
		final := state
		o.final = &final
	}
	o.saveTranscriptLocked(ctx)
	return nil
}

// GenerateScorecard asks the scorecard agent for a shareable image artifact.
// The screen always moves forward to Scorecard, artifact or not: the image
// is cosmetic and the user must never be stuck waiting on it. A reply
// without an artifact is reported as domain.ErrNoArtifact so the
// presentation can fall back to a textual scorecard.
func (o *Orchestrator) GenerateScorecard(ctx context.Context) error {
	o.mu.Lock()
	if o.busyLocked() {
		o.mu.Unlock()
		return domain.ErrBusy
	}
	if o.screen != domain.ScreenQuiz {
		o.mu.Unlock()
		return domain.ErrBadTransition
	}
	if o.final == nil {
		o.mu.Unlock()
		return domain.ErrNoFinalResult
	}
	final := *o.final
	topic := o.topic
	o.errMsg = ""
	o.scorecardLoading = true
	o.broadcastLocked()
	o.mu.Unlock()

	result, callErr := o.caller.Call(ctx, scorecardPrompt(final, topic), o.cfg.ScorecardAgentID, nil)

	o.mu.Lock()
	defer func() {
		o.scorecardLoading = false
		o.screen = domain.ScreenScorecard
		o.broadcastLocked()
		o.mu.Unlock()
	}()

	if callErr != nil {
		o.errMsg = "Network error generating score card."
		return errors.Wrap(callErr, "generate scorecard")
	}
	if !result.Success {
		o.errMsg = agentErrorOr(result, "Failed to generate score card.")
		return errors.New(o.errMsg)
	}
	if url := result.FirstArtifactURL(); url != "" {
		o.scorecardURL = url
		return nil
	}
	return domain.ErrNoArtifact
}

// PlayAgain returns to the home screen and clears all quiz-scoped state.
// The user id is not touched; it belongs to the browser session, not the
// attempt.
func (o *Orchestrator) PlayAgain(ctx context.Context) error {
	o.mu.Lock()
	if o.screen != domain.ScreenScorecard {
		o.mu.Unlock()
		return domain.ErrBadTransition
	}
	finishedSession := o.sessionID
	o.resetQuizStateLocked()
	o.screen = domain.ScreenHome
	o.topic = ""
	o.sessionID = ""
	o.broadcastLocked()
	o.mu.Unlock()

	if finishedSession != "" && o.transcripts != nil {
		_ = o.transcripts.Delete(ctx, finishedSession)
	}
	return nil
}

// Resume restores a mid-quiz transcript saved earlier in the same browser
// session. Only legal before the orchestrator has done anything else.
func (o *Orchestrator) Resume(ctx context.Context, sessionID string) error {
	if sessionID == "" || o.transcripts == nil {
		return nil
	}
	messages, err := o.transcripts.Load(ctx, sessionID)
	if err != nil {
		return errors.Wrap(err, "load transcript")
	}
	if len(messages) == 0 {
		return nil
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.screen != domain.ScreenHome || len(o.messages) > 0 {
		return domain.ErrBadTransition
	}
	o.screen = domain.ScreenQuiz
	o.sessionID = sessionID
	o.messages = messages
	o.msgCounter = len(messages)
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == domain.RoleAgent && messages[i].QuestionNumber > 0 {
			o.currentQuestion = messages[i].QuestionNumber
			break
		}
	}
	o.broadcastLocked()
	return nil
}

// SessionID returns the current attempt's session token ("" outside a quiz).
func (o *Orchestrator) SessionID() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sessionID
}

// Snapshot returns a read-only copy of the presentation state.
func (o *Orchestrator) Snapshot() domain.Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snapshotLocked()
}

// Subscribe returns a channel receiving a snapshot after every state change.
// The caller must invoke the returned cancel function to avoid leaks.
func (o *Orchestrator) Subscribe() (<-chan domain.Snapshot, func()) {
	ch := make(chan domain.Snapshot, 8)

	o.mu.Lock()
	o.subscribers[ch] = struct{}{}
	initial := o.snapshotLocked()
	o.mu.Unlock()

	ch <- initial

	cancel := func() {
		o.mu.Lock()
		if _, ok := o.subscribers[ch]; ok {
			delete(o.subscribers, ch)
			close(ch)
		}
		o.mu.Unlock()
	}
	return ch, cancel
}

func (o *Orchestrator) busyLocked() bool {
	return o.loading || o.scorecardLoading
}

func (o *Orchestrator) resetQuizStateLocked() {
	o.messages = nil
	o.currentQuestion = 0
	o.quizComplete = false
	o.final = nil
	o.scorecardURL = ""
	o.errMsg = ""
}

func (o *Orchestrator) nextMessageIDLocked() string {
	o.msgCounter++
	return fmt.Sprintf("msg-%d", o.msgCounter)
}

func (o *Orchestrator) appendAgentMessageLocked(state domain.QuizState, verdict domain.Verdict) {
	o.messages = append(o.messages, domain.ChatMessage{
		ID:             o.nextMessageIDLocked(),
		Role:           domain.RoleAgent,
		Text:           state.Message,
		QuestionNumber: state.QuestionNumber,
		Verdict:        verdict,
	})
}

// saveTranscriptLocked is best-effort; a dead store must not break the quiz.
func (o *Orchestrator) saveTranscriptLocked(ctx context.Context) {
	if o.transcripts == nil || o.sessionID == "" {
		return
	}
	if err := o.transcripts.Save(ctx, o.sessionID, o.messages); err != nil {
		log.Warn().Err(err).Str("session_id", o.sessionID).Msg("transcript save failed")
	}
}

func (o *Orchestrator) callContext(sessionID string) *agent.CallContext {
	return &agent.CallContext{UserID: o.cfg.UserID, SessionID: sessionID}
}

func (o *Orchestrator) snapshotLocked() domain.Snapshot {
	messages := make([]domain.ChatMessage, len(o.messages))
	copy(messages, o.messages)

	snap := domain.Snapshot{
		Screen:           o.screen,
		Topic:            o.topic,
		Messages:         messages,
		CurrentQuestion:  o.currentQuestion,
		Loading:          o.loading,
		ScorecardLoading: o.scorecardLoading,
		Error:            o.errMsg,
		QuizComplete:     o.quizComplete,
		ScorecardURL:     o.scorecardURL,
	}
	if o.final != nil {
		final := *o.final
		snap.Final = &final
	}
	if o.screen == domain.ScreenHome {
		snap.ExampleTopics = domain.ExampleTopics
	}
	return snap
}

func (o *Orchestrator) broadcastLocked() {
	snap := o.snapshotLocked()
	for ch := range o.subscribers {
		select {
		case ch <- snap:
		default:
			// Drop the stale snapshot so a slow reader never blocks
			// the state machine.
			select {
			case <-ch:
			default:
			}
			ch <- snap
		}
	}
}

const (
	msgNetworkError = "Network error. Please try again."
	msgParseError   = "Could not parse agent response. Please try again."
)

func agentErrorOr(result agent.CallResult, fallback string) string {
	if result.Error != "" {
		return result.Error
	}
	return fallback
}

func startPrompt(topic string) string {
	return fmt.Sprintf("Start a quiz on the topic: %s. ALL 10 questions MUST be about %q only. Do NOT change the topic.", topic, topic)
}

func scorecardPrompt(final domain.QuizState, topic string) string {
	if final.Topic != "" {
		topic = final.Topic
	}
	return fmt.Sprintf("Generate a NicheNerd score card image with: Topic: %s, Score: %d/%d, Level Name: %s, Tagline: %s",
		topic, final.Score, final.Total, final.LevelName, final.Tagline)
}
