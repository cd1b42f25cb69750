package cli

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/LakshiRajika/Content-Moderation-AI/internal/engine"
	"github.com/LakshiRajika/Content-Moderation-AI/internal/moderation"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestEvaluate_Text(t *testing.T) {
	out, err := run(t, "evaluate", "--text", "I will kill you")
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !strings.Contains(out, "Risk:    High") {
		t.Errorf("expected High risk:\n%s", out)
	}
	if !strings.Contains(out, engine.ActionBlock) {
		t.Errorf("expected block action:\n%s", out)
	}
	if !strings.Contains(out, "Config:  "+engine.DefaultConfigVersion) {
		t.Errorf("expected built-in config version:\n%s", out)
	}
}

func TestEvaluate_ScoresJSON(t *testing.T) {
	out, err := run(t, "evaluate", "--scores", "spam=90%", "--scores", "profanity=0.1,threat=0", "--json")
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	var resp moderation.Response
	if err := json.Unmarshal([]byte(out), &resp); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}
	if resp.Classification["spam"] != 0.9 || resp.Classification["profanity"] != 0.1 {
		t.Errorf("classification %v", resp.Classification)
	}
	if resp.IsShadow {
		t.Error("cli evaluation is never shadowed")
	}
}

func TestEvaluate_Override(t *testing.T) {
	override := writeFile(t, "override.json", `{"categories":{"threat":{"weight":0}}}`)

	out, err := run(t, "evaluate", "--scores", "threat=0.95", "--override", override, "--json")
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	var resp moderation.Response
	if err := json.Unmarshal([]byte(out), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Risk.Score >= 0.3 {
		t.Errorf("zero weight should keep the score low, got %v", resp.Risk.Score)
	}
}

func TestEvaluate_Errors(t *testing.T) {
	badOverride := writeFile(t, "bad.json", `{"categories":{"gore":{"weight":0.5}}}`)

	tests := []struct {
		name string
		args []string
	}{
		{"nothing to evaluate", []string{"evaluate"}},
		{"unknown category", []string{"evaluate", "--scores", "gore=0.5"}},
		{"normal is derived", []string{"evaluate", "--scores", "normal=1"}},
		{"malformed pair", []string{"evaluate", "--scores", "spam"}},
		{"invalid override", []string{"evaluate", "--text", "hi", "--override", badOverride}},
		{"unreadable override", []string{"evaluate", "--text", "hi", "--override", filepath.Join(t.TempDir(), "nope.json")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := run(t, tt.args...); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestValidate(t *testing.T) {
	policy := writeFile(t, "policy.yaml", "version: custom\nlevels:\n  medium_max: 0.65\n")

	out, err := run(t, "validate", "--policy", policy)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !strings.Contains(out, "policy ok: version=custom") {
		t.Errorf("unexpected output: %s", out)
	}

	override := writeFile(t, "override.json", `{"categories":{"spam":{"threshold":0.5,"weight":0.3}}}`)
	out, err = run(t, "validate", "--policy", policy, "--override", override)
	if err != nil {
		t.Fatalf("validate override: %v", err)
	}
	if !strings.Contains(out, "override ok: hash=") {
		t.Errorf("unexpected output: %s", out)
	}
}

func TestValidate_Errors(t *testing.T) {
	good := writeFile(t, "policy.yaml", "version: custom\n")
	invalid := writeFile(t, "invalid.yaml", "levels:\n  low_max: 0.9\n")
	badOverride := writeFile(t, "bad.json", `{"detectors":{}}`)

	tests := []struct {
		name string
		args []string
	}{
		{"policy flag required", []string{"validate"}},
		{"missing file", []string{"validate", "--policy", filepath.Join(t.TempDir(), "nope.yaml")}},
		{"incomplete table", []string{"validate", "--policy", invalid}},
		{"bad override", []string{"validate", "--policy", good, "--override", badOverride}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := run(t, tt.args...); err == nil {
				t.Error("expected error")
			}
		})
	}
}
