package types

import "errors"

// JobMeta identifies one analysis job: a single uploaded video's frame burst.
// Carried through logging, metrics, and completion events.
type JobMeta struct {
	// JobID is the unique identifier for this analysis job.
	JobID string `msgpack:"job_id" json:"job_id"`
	// VideoID identifies the uploaded video in the surrounding application.
	VideoID string `msgpack:"video_id" json:"video_id"`
	// Attempt is the 1-based processing attempt for this video.
	Attempt int `msgpack:"attempt" json:"attempt"`
}

// Validate checks job identity invariants.
func (m *JobMeta) Validate() error {
	if m == nil {
		return errors.New("job meta is required")
	}
	if m.JobID == "" {
		return errors.New("job_id is required")
	}
	if m.Attempt < 1 {
		return errors.New("attempt must be >= 1")
	}
	return nil
}
