package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/JonMunkholm/opennames/internal/config"
)

func TestApplyFlags(t *testing.T) {
	if err := runCmd.Flags().Parse([]string{"--include", "TR04.csv,SU88.csv", "--batch-size", "5"}); err != nil {
		t.Fatal(err)
	}

	c := &config.Config{Pipeline: config.PipelineConfig{ImportDir: "./public", BatchSize: 0}}
	applyFlags(runCmd, c)

	if got := strings.Join(c.Pipeline.IncludeFiles, ","); got != "TR04.csv,SU88.csv" {
		t.Errorf("IncludeFiles = %q", got)
	}
	if c.Pipeline.BatchSize != 5 {
		t.Errorf("BatchSize = %d, want 5", c.Pipeline.BatchSize)
	}
	if c.Pipeline.ImportDir != "./public" {
		t.Errorf("ImportDir changed to %q without the flag", c.Pipeline.ImportDir)
	}
}

func TestStageBars(t *testing.T) {
	var out bytes.Buffer
	bars := &stageBars{out: &out}

	for i := 1; i <= 3; i++ {
		bars.update("process", i, 3)
	}
	first := bars.bar
	bars.update("import", 1, 2)
	if bars.bar == first {
		t.Error("stage change kept the previous bar")
	}
	if bars.stage != "import" {
		t.Errorf("stage = %q", bars.stage)
	}
	bars.finish()
	if bars.bar != nil {
		t.Error("finish left a bar")
	}
	if !strings.Contains(out.String(), "process") {
		t.Errorf("output %q lacks stage description", out.String())
	}
}
