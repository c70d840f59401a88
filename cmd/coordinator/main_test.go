package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/morezero/coordinator/pkg/grammar"
)

const mainTestPrefix = "cmd/coordinator:main_test"

// execute runs the root command with args, resetting flag state first.
func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	parsePrefix, parsePartial = "", false
	journalOlderThan = 30 * 24 * time.Hour

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&bytes.Buffer{})
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func writeResponse(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "response.txt")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("%s - write: %v", mainTestPrefix, err)
	}
	return path
}

func TestCommandTree(t *testing.T) {
	want := map[string][]string{
		"serve":   nil,
		"migrate": {"up", "status"},
		"journal": {"prune", "clear"},
		"parse":   nil,
	}
	for name, subs := range want {
		cmd, _, err := rootCmd.Find([]string{name})
		if err != nil || cmd.Name() != name {
			t.Errorf("%s - command %q not registered", mainTestPrefix, name)
			continue
		}
		for _, sub := range subs {
			if c, _, err := cmd.Find([]string{sub}); err != nil || c.Name() != sub {
				t.Errorf("%s - command %q missing subcommand %q", mainTestPrefix, name, sub)
			}
		}
	}
}

func TestParse_File(t *testing.T) {
	path := writeResponse(t, `Looking.<t1_invocation capability="search" action="web"><t1_parameter name="query">go</t1_parameter></t1_invocation>`)

	out, err := execute(t, "", "parse", path, "--prefix", "t1_")
	if err != nil {
		t.Fatalf("%s - parse failed: %v", mainTestPrefix, err)
	}
	var res grammar.Result
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("%s - output is not JSON: %v\n%s", mainTestPrefix, err, out)
	}
	if len(res.Invocations) != 1 || res.Invocations[0].Parameters["query"] != "go" {
		t.Errorf("%s - invocations = %+v", mainTestPrefix, res.Invocations)
	}
}

func TestParse_GrammarErrors(t *testing.T) {
	path := writeResponse(t, `<t1_invocation capability="search" action="web">`)

	out, err := execute(t, "", "parse", path, "--prefix", "t1_")
	if err == nil {
		t.Fatalf("%s - expected error for unclosed invocation", mainTestPrefix)
	}
	if !strings.Contains(out, "grammar_errors") {
		t.Errorf("%s - errors not printed: %s", mainTestPrefix, out)
	}
}

func TestParse_PartialStdin(t *testing.T) {
	out, err := execute(t, `<t1_invocation capability="search" action="web">`, "parse", "-", "--prefix", "t1_", "--partial")
	if err != nil {
		t.Fatalf("%s - partial buffer should not fail: %v", mainTestPrefix, err)
	}
	if strings.Contains(out, "grammar_errors") {
		t.Errorf("%s - partial buffer reported errors: %s", mainTestPrefix, out)
	}
}

func TestParse_MissingFile(t *testing.T) {
	if _, err := execute(t, "", "parse", filepath.Join(t.TempDir(), "gone.txt")); err == nil {
		t.Errorf("%s - expected error for missing file", mainTestPrefix)
	}
}

func TestJournalPrune_RejectsNonPositiveAge(t *testing.T) {
	_, err := execute(t, "", "journal", "prune", "--older-than", "0s")
	if err == nil || !strings.Contains(err.Error(), "older-than") {
		t.Errorf("%s - err = %v, want --older-than error", mainTestPrefix, err)
	}
}
