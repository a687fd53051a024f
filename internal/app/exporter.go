package app

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"nichenerd-service/internal/domain"
)

const copiedAckDelay = 2 * time.Second

var whitespaceRun = regexp.MustCompile(`\s+`)

// Exporter turns a finished quiz into shareable artifacts: the downloaded
// scorecard image, share links, and copyable summary text with a transient
// "copied" acknowledgment.
type Exporter struct {
	client   *http.Client
	ackDelay time.Duration

	mu       sync.Mutex
	copied   bool
	timer    *time.Timer
	onChange func()
}

func NewExporter(timeout time.Duration) *Exporter {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Exporter{
		client:   &http.Client{Timeout: timeout},
		ackDelay: copiedAckDelay,
	}
}

// NewExporterWithAckDelay is test-only to avoid sleeping for the real delay.
func NewExporterWithAckDelay(timeout, ackDelay time.Duration) *Exporter {
	e := NewExporter(timeout)
	e.ackDelay = ackDelay
	return e
}

// Download fetches the artifact bytes. On failure the caller should fall
// back to sending the client straight to the artifact URL; a missing image
// must never become a hard error for the user.
func (e *Exporter) Download(ctx context.Context, artifactURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, artifactURL, nil)
	if err != nil {
		return nil, errors.Wrap(err, "build artifact request")
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "fetch artifact")
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, errors.Errorf("artifact fetch returned status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, errors.Wrap(err, "read artifact")
	}
	return data, nil
}

// Filename derives the local save name from the quiz topic.
func Filename(final *domain.QuizState, topic string) string {
	name := topic
	if final != nil && final.Topic != "" {
		name = final.Topic
	}
	if name == "" {
		name = "score"
	}
	slug := strings.ToLower(whitespaceRun.ReplaceAllString(strings.TrimSpace(name), "-"))
	return "nichenerd-" + slug + ".png"
}

// ShareText formats the share summary for a finished quiz.
func ShareText(final *domain.QuizState, topic string) string {
	if final == nil {
		return "Check out my NicheNerd score!"
	}
	t := final.Topic
	if t == "" {
		t = topic
	}
	return fmt.Sprintf("I scored %d/%d on %s and earned the title %q!", final.Score, final.Total, t, final.LevelName)
}

// ShareURL builds the tweet intent link for the share summary.
func ShareURL(final *domain.QuizState, topic string) string {
	text := ShareText(final, topic) + "\n\nHow deep does YOUR knowledge go? #NicheNerd"
	return "https://twitter.com/intent/tweet?text=" + url.QueryEscape(text)
}

// CopyText formats the clipboard summary for a finished quiz.
func CopyText(final *domain.QuizState, topic string) string {
	if final == nil {
		return "Check out NicheNerd!"
	}
	t := final.Topic
	if t == "" {
		t = topic
	}
	return fmt.Sprintf("NicheNerd: I scored %d/%d on %s! Level: %s - %q", final.Score, final.Total, t, final.LevelName, final.Tagline)
}

// OnChange registers a callback invoked whenever the copied flag flips, so
// the transport can push a fresh snapshot.
func (e *Exporter) OnChange(fn func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onChange = fn
}

// MarkCopied sets the transient acknowledgment; it self-clears after the
// configured delay. Repeated copies restart the timer.
func (e *Exporter) MarkCopied() {
	e.mu.Lock()
	e.copied = true
	if e.timer != nil {
		e.timer.Stop()
	}
	e.timer = time.AfterFunc(e.ackDelay, func() {
		e.mu.Lock()
		e.copied = false
		notify := e.onChange
		e.mu.Unlock()
		if notify != nil {
			notify()
		}
	})
	notify := e.onChange
	e.mu.Unlock()
	if notify != nil {
		notify()
	}
}

// Copied reports whether the acknowledgment is still showing.
func (e *Exporter) Copied() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.copied
}
