package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const defaultTimeout = 60 * time.Second

// HTTPCaller implements Caller against the platform's JSON call endpoint.
type HTTPCaller struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// Ensure HTTPCaller implements Caller.
var _ Caller = (*HTTPCaller)(nil)

func NewHTTPCaller(baseURL, apiKey string, timeout time.Duration) *HTTPCaller {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &HTTPCaller{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

type callRequest struct {
	Message   string `json:"message"`
	AgentID   string `json:"agent_id"`
	UserID    string `json:"user_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// Call posts the prompt to the platform and decodes the reply envelope.
// A non-2xx status or a dead connection is a transport failure; a reply with
// success=false is returned to the caller as-is for it to surface the
// agent-reported error.
func (c *HTTPCaller) Call(ctx context.Context, prompt, agentID string, cc *CallContext) (CallResult, error) {
	reqBody := callRequest{Message: prompt, AgentID: agentID}
	if cc != nil {
		reqBody.UserID = cc.UserID
		reqBody.SessionID = cc.SessionID
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return CallResult{}, errors.Wrap(err, "encode agent request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(payload))
	if err != nil {
		return CallResult{}, errors.Wrap(err, "build agent request")
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	started := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return CallResult{}, errors.Wrap(err, "call agent")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return CallResult{}, errors.Wrap(err, "read agent response")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return CallResult{}, errors.Errorf("agent returned status %d", resp.StatusCode)
	}

	var result CallResult
	if err := json.Unmarshal(body, &result); err != nil {
		// Some deployments reply with bare text; keep it for the
		// normalizer's text tiers instead of failing the call.
		result = CallResult{Success: true, RawResponse: string(body)}
	}

	log.Debug().
		Str("agent_id", agentID).
		Bool("success", result.Success).
		Dur("elapsed", time.Since(started)).
		Msg("agent call finished")
	return result, nil
}
