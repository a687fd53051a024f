// Package agent is the boundary to the remote conversational AI platform.
// The platform hosts two capabilities we call by id: the quiz master
// (turn-by-turn Q&A and scoring) and the scorecard generator (shareable
// image artifact). Replies are treated as opaque; the parse package is
// responsible for recovering structure from them.
package agent

import "context"

// CallContext carries the correlation ids the platform uses to key its
// server-side conversational state.
type CallContext struct {
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
}

// CallResult mirrors the platform reply envelope. Result is kept as a raw
// map because the agent does not contractually guarantee its shape.
type CallResult struct {
	Success       bool           `json:"success"`
	Response      *Response      `json:"response,omitempty"`
	RawResponse   string         `json:"raw_response,omitempty"`
	ModuleOutputs *ModuleOutputs `json:"module_outputs,omitempty"`
	Error         string         `json:"error,omitempty"`
}

// Response holds the structured part of a reply, when the platform provides
// one.
type Response struct {
	Result  map[string]any `json:"result,omitempty"`
	Message string         `json:"message,omitempty"`
}

// ModuleOutputs carries generated files referenced by URL.
type ModuleOutputs struct {
	ArtifactFiles []ArtifactFile `json:"artifact_files,omitempty"`
}

// ArtifactFile references one generated file.
type ArtifactFile struct {
	FileURL string `json:"file_url"`
}

// FirstArtifactURL returns the URL of the first artifact file, or "".
func (r CallResult) FirstArtifactURL() string {
	if r.ModuleOutputs == nil || len(r.ModuleOutputs.ArtifactFiles) == 0 {
		return ""
	}
	return r.ModuleOutputs.ArtifactFiles[0].FileURL
}

// Caller issues one request/reply exchange with a named agent capability.
type Caller interface {
	Call(ctx context.Context, prompt, agentID string, cc *CallContext) (CallResult, error)
}
