package cmd

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/motionforge/posepipe/cli/render"
	"github.com/motionforge/posepipe/export"
	"github.com/motionforge/posepipe/types"
)

// StatsCommand returns the stats command. Stats reports aggregated, derived
// facts about an exported sequence document; it never contacts the estimator.
func StatsCommand() *cli.Command {
	return &cli.Command{
		Name:   "stats",
		Usage:  "Show aggregated statistics for an exported sequence",
		Flags:  append(ReadOnlyFlags(), SequenceFlag),
		Action: statsAction,
	}
}

// StatsResponse is the response for the stats command.
type StatsResponse struct {
	JobID         string  `json:"job_id"`
	VideoID       string  `json:"video_id,omitempty"`
	FormatVersion string  `json:"format_version"`
	TotalFrames   int     `json:"total_frames"`
	Accepted      int     `json:"accepted"`
	LowConfidence int     `json:"rejected_low_confidence"`
	OffScreen     int     `json:"rejected_off_screen"`
	Outliers      int     `json:"rejected_outlier"`
	Absent        int     `json:"absent"`
	Direct        int     `json:"direct"`
	Interpolated  int     `json:"interpolated"`
	Unavailable   int     `json:"unavailable"`
	Coverage      float64 `json:"coverage"`
}

func statsAction(c *cli.Context) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}

	doc, err := loadSequence(c.String("sequence"))
	if err != nil {
		return cli.Exit(fmt.Sprintf("cannot load sequence: %v", err), 1)
	}

	resp := StatsResponse{
		JobID:         doc.JobID,
		VideoID:       doc.VideoID,
		FormatVersion: doc.FormatVersion,
		TotalFrames:   len(doc.Verdicts),
	}
	for _, v := range doc.Verdicts {
		switch v {
		case types.VerdictAccepted:
			resp.Accepted++
		case types.VerdictLowConfidence:
			resp.LowConfidence++
		case types.VerdictOffScreen:
			resp.OffScreen++
		case types.VerdictOutlier:
			resp.Outliers++
		case types.VerdictAbsent:
			resp.Absent++
		}
	}
	for _, e := range doc.Entries {
		switch e.Kind {
		case types.EntryDirect:
			resp.Direct++
		case types.EntryInterpolated:
			resp.Interpolated++
		case types.EntryUnavailable:
			resp.Unavailable++
		}
	}
	if n := len(doc.Entries); n > 0 {
		resp.Coverage = float64(resp.Direct+resp.Interpolated) / float64(n)
	}

	return r.Render(resp)
}

// loadSequence decodes an exported sequence document from disk.
func loadSequence(path string) (*export.SequenceDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc export.SequenceDocument
	if err := msgpack.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if len(doc.Verdicts) != len(doc.Observations) || len(doc.Entries) != len(doc.Observations) {
		return nil, fmt.Errorf("document %s is inconsistent: %d observations, %d verdicts, %d entries",
			path, len(doc.Observations), len(doc.Verdicts), len(doc.Entries))
	}
	return &doc, nil
}
