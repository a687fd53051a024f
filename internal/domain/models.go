package domain

// Role identifies who produced a chat message.
type Role string

const (
	RoleAgent Role = "agent"
	RoleUser  Role = "user"
)

// Screen is the active screen of a quiz session. Exactly one is active at a
// time; transitions are owned by the orchestrator.
type Screen string

const (
	ScreenHome      Screen = "home"
	ScreenQuiz      Screen = "quiz"
	ScreenScorecard Screen = "scorecard"
)

// Verdict is the heuristic correctness annotation for an agent turn.
// VerdictUnknown renders as neutral (no badge).
type Verdict string

const (
	VerdictCorrect   Verdict = "correct"
	VerdictIncorrect Verdict = "incorrect"
	VerdictUnknown   Verdict = ""
)

// DefaultTotal is the fixed quiz length.
const DefaultTotal = 10

// QuizState is the normalized, immutable snapshot of one agent turn.
// It is valid iff Message is non-empty; every other field carries a safe
// default and is never negative (Total is never zero).
type QuizState struct {
	Message        string `json:"message"`
	QuestionNumber int    `json:"questionNumber"`
	IsComplete     bool   `json:"isComplete"`
	Score          int    `json:"score"`
	Total          int    `json:"total"`
	LevelName      string `json:"levelName"`
	Tagline        string `json:"tagline"`
	Topic          string `json:"topic"`
}

// ChatMessage is one turn in the session transcript. The transcript is
// append-only and owned exclusively by the orchestrator; insertion order is
// display order.
type ChatMessage struct {
	ID             string  `json:"id"`
	Role           Role    `json:"role"`
	Text           string  `json:"text"`
	QuestionNumber int     `json:"questionNumber,omitempty"`
	Verdict        Verdict `json:"verdict,omitempty"`
}

// Snapshot is the read-only view of an orchestrator exposed to the
// presentation layer.
type Snapshot struct {
	Screen           Screen        `json:"screen"`
	Topic            string        `json:"topic"`
	Messages         []ChatMessage `json:"messages"`
	CurrentQuestion  int           `json:"currentQuestion"`
	Loading          bool          `json:"loading"`
	ScorecardLoading bool          `json:"scorecardLoading"`
	Error            string        `json:"error,omitempty"`
	QuizComplete     bool          `json:"quizComplete"`
	Final            *QuizState    `json:"final,omitempty"`
	ScorecardURL     string        `json:"scorecardUrl,omitempty"`
	Copied           bool          `json:"copied"`
	ExampleTopics    []string      `json:"exampleTopics,omitempty"`
}

// ExampleTopics are the suggestions shown on the home screen.
var ExampleTopics = []string{
	"Sourdough Starters",
	"Kubernetes",
	"90s Anime",
	"Mechanical Keyboards",
	"Byzantine History",
}
