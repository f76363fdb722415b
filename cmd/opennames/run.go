package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/opennames/internal/core"
	"github.com/JonMunkholm/opennames/internal/pipeline"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one pass over the current release",
	Long: `Run one pass: fetch the current release if it is not registered yet,
then process, import and clean every pending input file. Failures of single
files are reported and retried by the next pass.

Examples:
  opennames run
  opennames run --include TR04.csv --include SU88.csv
  opennames run --batch-size 50 --no-progress`,
	RunE: runPass,
}

func init() {
	f := runCmd.Flags()
	f.StringSliceVar(&includeFiles, "include", nil, "only handle these input files")
	f.IntVar(&batchSize, "batch-size", 0, "cap the records handled per pass (0 = all)")
	f.BoolVar(&noProgress, "no-progress", false, "disable progress bars")

	rootCmd.AddCommand(runCmd)
}

func runPass(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	var progress pipeline.Progress
	if !noProgress {
		bars := &stageBars{out: cmd.ErrOrStderr()}
		defer bars.finish()
		progress = bars.update
	}

	res, err := a.runner(core.NewRunLimiter(0), progress).Run(ctx, pipeline.TriggerCLI)
	if err != nil {
		return err
	}

	out := struct {
		pipeline.Summary
		Errors []string `json:"errors,omitempty"`
	}{Summary: res.Summary}
	for _, re := range res.Errors {
		out.Errors = append(out.Errors, re.Code()+" "+re.Error())
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return err
	}
	if len(res.Errors) > 0 {
		return fmt.Errorf("%d input files failed; the next pass retries them", len(res.Errors))
	}
	return nil
}

// stageBars draws one progress bar per stage.
type stageBars struct {
	out   io.Writer
	stage string
	bar   *progressbar.ProgressBar
}

func (b *stageBars) update(stage string, done, total int) {
	if b.bar == nil || stage != b.stage {
		b.finish()
		b.stage = stage
		b.bar = progressbar.NewOptions(total,
			progressbar.OptionSetWriter(b.out),
			progressbar.OptionSetDescription(stage),
			progressbar.OptionSetWidth(40),
			progressbar.OptionShowCount(),
			progressbar.OptionThrottle(100*time.Millisecond),
			progressbar.OptionOnCompletion(func() { io.WriteString(b.out, "\n") }),
		)
	}
	_ = b.bar.Set(done)
}

func (b *stageBars) finish() {
	if b.bar != nil {
		_ = b.bar.Finish()
		b.bar = nil
	}
}
