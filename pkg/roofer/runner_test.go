package roofer

import (
	"bytes"
	"context"
	"strings"
	"testing"
)

// TestReconstructCommand tests the reconstruction invocation
func TestReconstructCommand(t *testing.T) {
	spec := ReconstructCommand("/tmp/staging/config/roofer.toml")

	if spec.Name != "roofer" {
		t.Errorf("Expected tool 'roofer', got %q", spec.Name)
	}
	want := []string{"-c", "/tmp/staging/config/roofer.toml", "--no-tiling", "--lod12", "--lod13", "--lod22", "--no-simplify"}
	if len(spec.Args) != len(want) {
		t.Fatalf("Expected %d args, got %d: %v", len(want), len(spec.Args), spec.Args)
	}
	for i, arg := range want {
		if spec.Args[i] != arg {
			t.Errorf("Expected arg %d to be %q, got %q", i, arg, spec.Args[i])
		}
	}
}

// TestCollectCommand tests the feature collection invocation
func TestCollectCommand(t *testing.T) {
	in := strings.NewReader("{}")
	var out bytes.Buffer

	spec := CollectCommand(in, &out)
	if spec.Name != "cjseq" {
		t.Errorf("Expected tool 'cjseq', got %q", spec.Name)
	}
	if len(spec.Args) != 1 || spec.Args[0] != "collect" {
		t.Errorf("Expected args [collect], got %v", spec.Args)
	}
	if spec.Stdin == nil || spec.Stdout == nil {
		t.Error("Expected stdin and stdout wired")
	}
}

// TestExecRunnerStderrTail tests that a failing command reports its stderr
func TestExecRunnerStderrTail(t *testing.T) {
	err := ExecRunner{}.Run(context.Background(), CommandSpec{
		Name: "sh",
		Args: []string{"-c", "echo no such tile >&2; exit 3"},
	})
	if err == nil {
		t.Fatal("Expected error for failing command, got nil")
	}
	if !strings.Contains(err.Error(), "no such tile") {
		t.Errorf("Expected stderr in error, got %q", err.Error())
	}
}

// TestExecRunnerStdio tests stdin to stdout plumbing
func TestExecRunnerStdio(t *testing.T) {
	var out bytes.Buffer
	err := ExecRunner{}.Run(context.Background(), CommandSpec{
		Name:   "cat",
		Stdin:  strings.NewReader("feature-lines"),
		Stdout: &out,
	})
	if err != nil {
		t.Fatalf("Run() returned error: %v", err)
	}
	if out.String() != "feature-lines" {
		t.Errorf("Expected 'feature-lines', got %q", out.String())
	}
}
