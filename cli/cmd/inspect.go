package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/motionforge/posepipe/cli/render"
	"github.com/motionforge/posepipe/playback"
	"github.com/motionforge/posepipe/types"
)

// InspectCommand returns the inspect command, which materializes one logical
// frame from an exported sequence document.
func InspectCommand() *cli.Command {
	return &cli.Command{
		Name:  "inspect",
		Usage: "Materialize and show one logical frame from an exported sequence",
		Flags: append(ReadOnlyFlags(),
			SequenceFlag,
			&cli.IntFlag{
				Name:     "frame",
				Usage:    "Logical frame index",
				Required: true,
			},
		),
		Action: inspectAction,
	}
}

// InspectResponse is the response for the inspect command.
type InspectResponse struct {
	LogicalIndex int     `json:"logical_index"`
	Kind         string  `json:"kind"`
	Verdict      string  `json:"verdict"`
	Available    bool    `json:"available"`
	Keypoints    int     `json:"keypoints,omitempty"`
	Confidence   float64 `json:"confidence,omitempty"`
	Has3D        bool    `json:"has_3d,omitempty"`
	LeftSource   int     `json:"left_source,omitempty"`
	RightSource  int     `json:"right_source,omitempty"`
	Weight       float64 `json:"weight,omitempty"`
}

func inspectAction(c *cli.Context) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}

	doc, err := loadSequence(c.String("sequence"))
	if err != nil {
		return cli.Exit(fmt.Sprintf("cannot load sequence: %v", err), 1)
	}

	index, err := playback.NewIndex(len(doc.Entries))
	if err != nil {
		return err
	}
	if err := index.Init(types.RawSequence(doc.Observations), doc.Entries); err != nil {
		return cli.Exit(fmt.Sprintf("document is not playable: %v", err), 1)
	}

	frameIdx := c.Int("frame")
	frame, err := index.GetFrame(frameIdx)
	if err != nil {
		return cli.Exit(fmt.Sprintf("cannot materialize frame %d: %v", frameIdx, err), 1)
	}

	entry := doc.Entries[frameIdx]
	resp := InspectResponse{
		LogicalIndex: frameIdx,
		Kind:         string(frame.Kind),
		Verdict:      string(doc.Verdicts[frameIdx]),
		Available:    frame.Available(),
	}
	if frame.Available() {
		resp.Keypoints = len(frame.Observation.Keypoints)
		resp.Confidence = frame.Observation.Confidence
		resp.Has3D = frame.Observation.Has3D
	}
	if entry.Kind == types.EntryInterpolated && entry.Recipe != nil {
		resp.LeftSource = entry.Recipe.LeftSource
		resp.RightSource = entry.Recipe.RightSource
		resp.Weight = entry.Recipe.Weight
	}

	return r.Render(resp)
}
