// Package adapter defines the completion-event publisher boundary.
//
// Adapters publish job completion notifications to downstream systems.
// The pipeline owns adapter lifecycle; users provide configuration only.
package adapter

import "context"

// JobCompletedEvent is the payload published when a processing job finishes.
type JobCompletedEvent struct {
	EventType      string `json:"event_type"` // always "job_completed"
	JobID          string `json:"job_id"`
	VideoID        string `json:"video_id,omitempty"`
	Attempt        int    `json:"attempt"`
	Outcome        string `json:"outcome"` // success, partial, failed
	TotalFrames    int    `json:"total_frames"`
	AcceptedFrames int    `json:"accepted_frames"`
	RejectedFrames int    `json:"rejected_frames"`
	AbsentFrames   int    `json:"absent_frames"`
	FailedFrames   int    `json:"failed_frames"`
	DurationMs     int64  `json:"duration_ms"`
	Timestamp      string `json:"timestamp"` // ISO 8601
}

// Adapter publishes job completion events to a downstream system.
// Implementations must be safe for single-use per job.
type Adapter interface {
	// Publish sends a job completion event to the downstream system.
	// Must respect context cancellation and deadlines.
	Publish(ctx context.Context, event *JobCompletedEvent) error

	// Close releases adapter resources.
	Close() error
}
