package repository

import (
	"fmt"
	"strings"
	"time"
)

// Session lifecycle statuses. Any non-OPEN label supplied by the caller is
// treated as terminal.
const (
	StatusOpen   = "OPEN"
	StatusClosed = "CLOSED"
)

const (
	// skNamespace scopes every primary sort key so other entity kinds can
	// share the table.
	skNamespace = "conversation"

	// Time-index stages. Open rows use a constant prefix so the current
	// session is findable without knowing any timestamp; terminal rows use
	// the interaction stage so they sort by recency within a status.
	stageOpen        = "conversation"
	stageInteraction = "interaction"

	timeLayout = "2006-01-02T15:04:05.000Z"
)

// partitionKey derives the table hash key from a client identity triple.
func partitionKey(botID, channelID, userID string) string {
	return fmt.Sprintf("bot_id:%s#channel_id:%s#user_id:%s", botID, channelID, userID)
}

// sortKey derives the primary range key. Status is embedded in the key, so
// a status transition relocates the row rather than rewriting an attribute.
func sortKey(status, id string) string {
	return makeRange(skNamespace, status, id)
}

// timeSortKey derives the range key for the time index. The stage is a pure
// function of status: exactly one scheme is used by both the create and
// close paths.
func timeSortKey(status, ts, id string) string {
	stage := stageInteraction
	if status == StatusOpen {
		stage = stageOpen
	}
	return makeRange(stage, status, ts, id)
}

// openTimePrefix is the begins_with prefix matching every open row's
// time-index key.
func openTimePrefix() string {
	return makeRange(stageOpen, StatusOpen) + "#"
}

func makeRange(parts ...string) string {
	return strings.Join(parts, "#")
}

// formatTime renders a store-generated timestamp: UTC, millisecond
// precision, lexicographic order matching chronological order.
func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}
