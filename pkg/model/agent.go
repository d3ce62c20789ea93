package model

import "time"

// Agent is a tenant namespace. Every memory, relation and extraction log
// is scoped to exactly one agent.
type Agent struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Config    map[string]any `json:"config,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// ProfileMetadataKey is where the lifecycle engine stores the synthesized
// user profile in the agent's metadata.
const ProfileMetadataKey = "user_profile"

// Profile returns the synthesized user profile, if one has been written.
func (a *Agent) Profile() string {
	if a == nil || a.Metadata == nil {
		return ""
	}
	if p, ok := a.Metadata[ProfileMetadataKey].(string); ok {
		return p
	}
	return ""
}

// ExtractionLog records one extraction channel run for audit and the
// management UI. No core algorithm reads these rows back.
type ExtractionLog struct {
	ID              string    `json:"id"`
	AgentID         string    `json:"agent_id"`
	SessionID       string    `json:"session_id,omitempty"`
	Channel         string    `json:"channel"`
	ExchangePreview string    `json:"exchange_preview"`
	RawOutput       string    `json:"raw_output,omitempty"`
	ParsedMemories  int       `json:"parsed_memories"`
	Written         int       `json:"written"`
	Deduplicated    int       `json:"deduplicated"`
	SmartUpdated    int       `json:"smart_updated"`
	LatencyMS       int64     `json:"latency_ms"`
	Error           string    `json:"error,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// Extraction channels.
const (
	ChannelFast = "fast"
	ChannelDeep = "deep"
)
