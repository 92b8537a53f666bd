package domain

import "encoding/json"

// Client identifies one conversational participant: the bot it talks to,
// the channel it talks on, and the end user. All three fields are opaque
// caller-supplied strings.
type Client struct {
	BotID     string `json:"bot_id"`
	ChannelID string `json:"channel_id"`
	UserID    string `json:"user_id"`
}

// Session is one scripted-flow conversation instance tied to a Client.
// Metadata is plaintext here; it is only ever persisted encrypted.
type Session struct {
	ID                string          `json:"id"`
	Client            Client          `json:"client"`
	FlowID            string          `json:"flow_id"`
	StepID            string          `json:"step_id"`
	Metadata          json.RawMessage `json:"metadata"`
	Status            string          `json:"status"`
	CreatedAt         string          `json:"created_at"`
	UpdatedAt         string          `json:"updated_at"`
	LastInteractionAt string          `json:"last_interaction_at"`
}
