package roofer

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"

	"github.com/rs/zerolog/log"
)

// CommandSpec is a fully built external tool invocation. Commands are
// assembled by the builders below so argument lists stay explicit and
// testable without spawning anything.
type CommandSpec struct {
	Name   string
	Args   []string
	Dir    string
	Stdin  io.Reader
	Stdout io.Writer
}

func (c CommandSpec) String() string {
	return c.Name + " " + strings.Join(c.Args, " ")
}

// Runner executes external tool commands. Tests inject a fake.
type Runner interface {
	Run(ctx context.Context, spec CommandSpec) error
}

// ExecRunner runs commands as real subprocesses.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, spec CommandSpec) error {
	cmd := exec.CommandContext(ctx, spec.Name, spec.Args...)
	cmd.Dir = spec.Dir
	cmd.Stdin = spec.Stdin
	cmd.Stdout = spec.Stdout

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	log.Debug().Str("command", spec.String()).Msg("Running external tool")
	if err := cmd.Run(); err != nil {
		tail := stderr.String()
		if len(tail) > 2048 {
			tail = tail[len(tail)-2048:]
		}
		return fmt.Errorf("%s failed: %w: %s", spec.Name, err, tail)
	}
	return nil
}

// reconstructionTool is the external per-tile building reconstruction tool.
const reconstructionTool = "roofer"

// collectTool merges the tool's newline-delimited cityjson features into a
// single cityjson document.
const collectTool = "cjseq"

// ReconstructCommand builds the reconstruction invocation for a generated
// config file.
func ReconstructCommand(configPath string) CommandSpec {
	return CommandSpec{
		Name: reconstructionTool,
		Args: []string{
			"-c", configPath,
			"--no-tiling",
			"--lod12",
			"--lod13",
			"--lod22",
			"--no-simplify",
		},
	}
}

// CollectCommand builds the jsonl-to-cityjson collection step, reading
// features from stdin and writing the document to stdout.
func CollectCommand(stdin io.Reader, stdout io.Writer) CommandSpec {
	return CommandSpec{
		Name:   collectTool,
		Args:   []string{"collect"},
		Stdin:  stdin,
		Stdout: stdout,
	}
}
