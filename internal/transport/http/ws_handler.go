package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"nichenerd-service/internal/agent"
	"nichenerd-service/internal/app"
	"nichenerd-service/internal/domain"
	"nichenerd-service/internal/identity"
)

// Config wires the websocket handler to its collaborators. One handler
// serves all connections; each connection gets its own orchestrator.
type Config struct {
	Identities       *identity.Manager
	Caller           agent.Caller
	Transcripts      app.TranscriptStore
	QuizAgentID      string
	ScorecardAgentID string
	DownloadTimeout  time.Duration
	// CopiedAckDelay overrides the copy-acknowledgment delay; zero keeps
	// the default. Tests set it low to avoid sleeping.
	CopiedAckDelay time.Duration
}

type WSHandler struct {
	cfg       Config
	downloads *app.Exporter
	upgrader  websocket.Upgrader

	mu       sync.Mutex
	sessions map[string]*app.Orchestrator
}

func NewWSHandler(cfg Config) *WSHandler {
	return &WSHandler{
		cfg:       cfg,
		downloads: app.NewExporter(cfg.DownloadTimeout),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		sessions: make(map[string]*app.Orchestrator),
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type startPayload struct {
	Topic string `json:"topic"`
}

type answerPayload struct {
	Text string `json:"text"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type errorPayload struct {
	Message string `json:"message"`
}

type sharePayload struct {
	URL  string `json:"url"`
	Text string `json:"text"`
}

type copiedPayload struct {
	Text string `json:"text"`
}

// statePayload is the snapshot plus the transport-owned fields: the session
// token the client needs for resume and downloads, and the copy ack.
type statePayload struct {
	domain.Snapshot
	SessionID string `json:"sessionId,omitempty"`
}

// ServeWS upgrades the request and drives one quiz conversation over it.
// The client query parameter keys the browser session; the optional session
// parameter resumes a mid-quiz transcript saved under that id.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	clientKey := r.URL.Query().Get("client")
	if clientKey == "" {
		http.Error(w, "missing client", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("ws upgrade failed")
		return
	}
	defer conn.Close()

	userID, err := h.cfg.Identities.EnsureUserID(r.Context(), clientKey)
	if err != nil {
		_ = conn.WriteJSON(outboundMessage[errorPayload]{Type: "error", Payload: errorPayload{Message: "could not establish identity"}})
		return
	}

	orch := app.NewOrchestrator(h.cfg.Caller, app.Config{
		QuizAgentID:      h.cfg.QuizAgentID,
		ScorecardAgentID: h.cfg.ScorecardAgentID,
		UserID:           userID,
		NewSessionID:     h.cfg.Identities.NewSessionID,
		Transcripts:      h.cfg.Transcripts,
	})
	if resume := r.URL.Query().Get("session"); resume != "" {
		if err := orch.Resume(r.Context(), resume); err != nil {
			log.Warn().Err(err).Str("session_id", resume).Msg("resume failed")
		}
	}

	exp := app.NewExporter(h.cfg.DownloadTimeout)
	if h.cfg.CopiedAckDelay > 0 {
		exp = app.NewExporterWithAckDelay(h.cfg.DownloadTimeout, h.cfg.CopiedAckDelay)
	}

	registered := make(map[string]struct{})
	defer func() {
		h.mu.Lock()
		for id := range registered {
			delete(h.sessions, id)
		}
		h.mu.Unlock()
	}()
	registerCurrent := func() {
		id := orch.SessionID()
		if id == "" {
			return
		}
		if _, ok := registered[id]; ok {
			return
		}
		registered[id] = struct{}{}
		h.mu.Lock()
		h.sessions[id] = orch
		h.mu.Unlock()
	}
	registerCurrent()

	updates, cancel := orch.Subscribe()
	defer cancel()

	send := make(chan outboundMessage[any], 16)
	notices := make(chan outboundMessage[any], 8)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	updatesDone := make(chan struct{})

	// Only the read loop closes send, and only after the forwarder has
	// stopped, so the writer is the sole reader and never races a close.
	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				log.Debug().Err(err).Msg("ws write error")
				return
			}
		}
	}()

	// notify is safe to call from any goroutine at any time: it never
	// blocks and never touches send directly.
	notify := func(msg outboundMessage[any]) {
		select {
		case notices <- msg:
		default:
		}
	}
	exp.OnChange(func() {
		snap := orch.Snapshot()
		notify(outboundMessage[any]{Type: "state", Payload: h.statePayload(orch, exp, snap)})
	})

	go func() {
		defer close(updatesDone)
		for {
			select {
			case snap, ok := <-updates:
				if !ok {
					return
				}
				registerCurrent()
				select {
				case send <- outboundMessage[any]{Type: "state", Payload: h.statePayload(orch, exp, snap)}:
				case <-closeSignals:
					return
				}
			case msg := <-notices:
				select {
				case send <- msg:
				case <-closeSignals:
					return
				}
			case <-closeSignals:
				return
			}
		}
	}()

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		h.dispatch(r, orch, exp, notify, inbound)
	}

	close(closeSignals)
	<-updatesDone
	close(send)
	<-writerDone
}

// dispatch routes one inbound action. Agent-bound actions run in their own
// goroutine so the read loop keeps draining while a call is in flight; the
// orchestrator's busy guard rejects overlap.
func (h *WSHandler) dispatch(r *http.Request, orch *app.Orchestrator, exp *app.Exporter, notify func(outboundMessage[any]), inbound inboundMessage) {
	reportErr := func(err error) {
		if err == nil || err == domain.ErrNoArtifact {
			return
		}
		notify(outboundMessage[any]{Type: "error", Payload: errorPayload{Message: err.Error()}})
	}

	switch inbound.Type {
	case "start":
		var payload startPayload
		if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
			notify(outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "invalid start payload"}})
			return
		}
		go func() { reportErr(orch.Start(r.Context(), payload.Topic)) }()
	case "answer":
		var payload answerPayload
		if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
			notify(outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "invalid answer payload"}})
			return
		}
		go func() { reportErr(orch.SubmitAnswer(r.Context(), payload.Text)) }()
	case "scorecard":
		go func() { reportErr(orch.GenerateScorecard(r.Context())) }()
	case "playAgain":
		go func() { reportErr(orch.PlayAgain(r.Context())) }()
	case "share":
		snap := orch.Snapshot()
		notify(outboundMessage[any]{Type: "share", Payload: sharePayload{
			URL:  app.ShareURL(snap.Final, snap.Topic),
			Text: app.ShareText(snap.Final, snap.Topic),
		}})
	case "copy":
		snap := orch.Snapshot()
		notify(outboundMessage[any]{Type: "copied", Payload: copiedPayload{
			Text: app.CopyText(snap.Final, snap.Topic),
		}})
		exp.MarkCopied()
	default:
		notify(outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "unsupported message type"}})
	}
}

func (h *WSHandler) statePayload(orch *app.Orchestrator, exp *app.Exporter, snap domain.Snapshot) statePayload {
	snap.Copied = exp.Copied()
	return statePayload{Snapshot: snap, SessionID: orch.SessionID()}
}

// ServeDownload proxies the scorecard artifact so the browser gets a real
// attachment. When the fetch fails the client is redirected straight to the
// artifact URL instead; a broken proxy must never lose the image.
func (h *WSHandler) ServeDownload(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session")
	h.mu.Lock()
	orch := h.sessions[sessionID]
	h.mu.Unlock()
	if orch == nil {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}

	snap := orch.Snapshot()
	if snap.ScorecardURL == "" {
		http.Error(w, "no score card available", http.StatusNotFound)
		return
	}

	data, err := h.downloads.Download(r.Context(), snap.ScorecardURL)
	if err != nil {
		log.Warn().Err(err).Str("session_id", sessionID).Msg("artifact proxy failed, redirecting")
		http.Redirect(w, r, snap.ScorecardURL, http.StatusFound)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", app.Filename(snap.Final, snap.Topic)))
	_, _ = w.Write(data)
}
