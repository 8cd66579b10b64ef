// Package progress defines the newline-delimited JSON stream the launcher
// writes for machine consumers of build and launch progress.
package progress

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageType represents the type of message in the stream.
type MessageType string

const (
	// MessageTypeBuildStarted is sent when a build begins
	MessageTypeBuildStarted MessageType = "BUILD_STARTED"
	// MessageTypeStepStarted is sent before a provisioning step runs
	MessageTypeStepStarted MessageType = "STEP_STARTED"
	// MessageTypeStepDone is sent when a step succeeds
	MessageTypeStepDone MessageType = "STEP_DONE"
	// MessageTypeStepFailed is sent when a step fails
	MessageTypeStepFailed MessageType = "STEP_FAILED"
	// MessageTypeBuildDone is sent when a build succeeds
	MessageTypeBuildDone MessageType = "BUILD_DONE"
	// MessageTypeBuildFailed is sent when a build fails
	MessageTypeBuildFailed MessageType = "BUILD_FAILED"
	// MessageTypeLaunched is sent once the process has started
	MessageTypeLaunched MessageType = "LAUNCHED"
	// MessageTypeExited is sent when the process has exited
	MessageTypeExited MessageType = "EXITED"
)

// Validate checks if the message type is valid.
func (mt MessageType) Validate() error {
	switch mt {
	case MessageTypeBuildStarted, MessageTypeStepStarted, MessageTypeStepDone, MessageTypeStepFailed,
		MessageTypeBuildDone, MessageTypeBuildFailed, MessageTypeLaunched, MessageTypeExited:
		return nil
	default:
		return fmt.Errorf("unknown message type: %s", mt)
	}
}

// Message is the envelope of every line in the stream.
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// BuildMessage describes a build at its start or end.
type BuildMessage struct {
	BuildID     string  `json:"build_id"`
	Unit        string  `json:"unit"`
	Root        string  `json:"root,omitempty"`
	Duration    float64 `json:"duration,omitempty"` // seconds
	StageDigest string  `json:"stage_digest,omitempty"`
	Packages    int     `json:"packages,omitempty"`
	Code        string  `json:"code,omitempty"`
	Class       string  `json:"class,omitempty"`
	Error       string  `json:"error,omitempty"`
}

// StepMessage describes one provisioning step.
type StepMessage struct {
	BuildID  string  `json:"build_id"`
	Step     string  `json:"step"`
	Index    int     `json:"index"`
	Duration float64 `json:"duration,omitempty"` // seconds
	Error    string  `json:"error,omitempty"`
}

// LaunchMessage describes a launch.
type LaunchMessage struct {
	LaunchID string  `json:"launch_id"`
	BuildID  string  `json:"build_id"`
	Unit     string  `json:"unit"`
	PID      int     `json:"pid,omitempty"`
	ExitCode int     `json:"exit_code"`
	Duration float64 `json:"duration,omitempty"` // seconds
	Error    string  `json:"error,omitempty"`
}
