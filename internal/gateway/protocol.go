// Package gateway defines the asynchronous command/event protocol between
// the timer engine and its consumers. The JSON field and type names are a
// stable wire surface; renaming them breaks consumers.
package gateway

import "time"

type CommandType string

const (
	CmdStart             CommandType = "START"
	CmdPause             CommandType = "PAUSE"
	CmdReset             CommandType = "RESET"
	CmdSetDuration       CommandType = "SET_DURATION"
	CmdGetCurrentTime    CommandType = "GET_CURRENT_TIME"
	CmdCalcFormattedTime CommandType = "CALCULATE_FORMATTED_TIME"
	CmdCalcProgress      CommandType = "CALCULATE_PROGRESS"
	CmdBatchCalculate    CommandType = "BATCH_CALCULATE"
)

type EventType string

const (
	EvtStarted       EventType = "STARTED"
	EvtPaused        EventType = "PAUSED"
	EvtReset         EventType = "RESET"
	EvtCurrentTime   EventType = "CURRENT_TIME"
	EvtTimerNotFound EventType = "TIMER_NOT_FOUND"
	EvtFormattedTime EventType = "FORMATTED_TIME"
	EvtProgress      EventType = "PROGRESS"
	EvtBatchResults  EventType = "BATCH_RESULTS"
	EvtComplete      EventType = "COMPLETE"
)

// Command is a request to the engine, multiplexed by TimerID where relevant.
type Command struct {
	Type    CommandType `json:"type"`
	TimerID string      `json:"timer_id,omitempty"`
	// Seconds seeds or re-seeds a countdown (START, RESET, SET_DURATION) or
	// is the value to format (CALCULATE_FORMATTED_TIME).
	Seconds int `json:"seconds,omitempty"`
	// Current and Total are the operands of CALCULATE_PROGRESS.
	Current int `json:"current,omitempty"`
	Total   int `json:"total,omitempty"`
	// Times holds the second counts for BATCH_CALCULATE.
	Times []int `json:"times,omitempty"`
	// StartedAt optionally overrides the start instant recorded by START.
	StartedAt *time.Time `json:"started_at,omitempty"`
}

// Snapshot is the engine's view of one timer at one instant. Consumers must
// apply snapshots only in LastUpdate order; the engine is authoritative.
type Snapshot struct {
	TimerID    string    `json:"timer_id"`
	Remaining  int       `json:"remaining_seconds"`
	Total      int       `json:"total_seconds"`
	Running    bool      `json:"running"`
	Formatted  string    `json:"formatted"`
	Progress   float64   `json:"progress"`
	LastUpdate time.Time `json:"last_update"`
}

// Event is an engine-to-consumer message.
type Event struct {
	Type      EventType `json:"type"`
	TimerID   string    `json:"timer_id,omitempty"`
	Snapshot  *Snapshot `json:"snapshot,omitempty"`
	Formatted string    `json:"formatted,omitempty"`
	Progress  float64   `json:"progress,omitempty"`
	Results   []float64 `json:"results,omitempty"`
	At        time.Time `json:"at"`
}

// Request pairs a command with the channel its acknowledgment is sent on.
// Reply must be buffered; the engine never blocks on it.
type Request struct {
	Cmd   Command
	Reply chan Event
}

func knownCommand(t CommandType) bool {
	switch t {
	case CmdStart, CmdPause, CmdReset, CmdSetDuration, CmdGetCurrentTime,
		CmdCalcFormattedTime, CmdCalcProgress, CmdBatchCalculate:
		return true
	}
	return false
}
