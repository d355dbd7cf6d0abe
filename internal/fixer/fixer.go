// Package fixer implements the Fixer Adapter: invoking an external
// code-synthesis tool in one of two modes and applying its output to the
// workspace.
package fixer

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"regexp"

	foundationerrors "github.com/autorepair/autorepair/internal/foundation/errors"
	"github.com/autorepair/autorepair/internal/fixer/pathsafe"
)

// Mode selects which Fixer Adapter capability to invoke.
type Mode string

const (
	ModeAgentic Mode = "agentic"
	ModeBlocks  Mode = "blocks"
)

// Runner is the generic capability surface: run a prompt against the
// external tool and return its raw stdout.
type Runner interface {
	Run(ctx context.Context, workspaceDir, prompt string) (stdout string, err error)
}

// CodeBlock is one parsed `<code_block filename="...">...</code_block>`
// unit from a Blocks-mode Runner's stdout.
type CodeBlock struct {
	Filename string
	Content  string
}

var codeBlockRe = regexp.MustCompile(`(?s)<code_block filename="([^"]+)">\n?(.*?)</code_block>`)

// AgenticRunner shells out to an agentic code-editing tool (e.g. the
// `CLAUDE_COMMAND`/`CLAUDE_ARGS` binary) that edits files in
// the workspace directly; its stdout is a free-form transcript.
type AgenticRunner struct {
	Command string
	Args    []string
}

// Run invokes the configured command with prompt appended, in workspaceDir.
func (r AgenticRunner) Run(ctx context.Context, workspaceDir, prompt string) (string, error) {
	args := append(append([]string{}, r.Args...), prompt)
	cmd := exec.CommandContext(ctx, r.Command, args...)
	cmd.Dir = workspaceDir
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return out.String(), foundationerrors.ExternalCommandError("fixer: agentic run failed").
			WithContext("command", r.Command).WithContext("output", out.String()).Build()
	}
	return out.String(), nil
}

// BlocksRunner shells out to a tool that prints proposed file contents as
// one or more `<code_block filename="...">` blocks instead of editing the
// workspace itself.
type BlocksRunner struct {
	Command string
	Args    []string
}

// Run invokes the configured command and returns its raw stdout for
// ParseCodeBlocks to consume.
func (r BlocksRunner) Run(ctx context.Context, workspaceDir, prompt string) (string, error) {
	args := append(append([]string{}, r.Args...), prompt)
	cmd := exec.CommandContext(ctx, r.Command, args...)
	cmd.Dir = workspaceDir
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return out.String(), foundationerrors.ExternalCommandError("fixer: blocks run failed").
			WithContext("command", r.Command).WithContext("output", out.String()).Build()
	}
	return out.String(), nil
}

// ParseCodeBlocks extracts every `<code_block filename="...">` block from
// stdout in order of appearance. Zero blocks is an error.
func ParseCodeBlocks(stdout string) ([]CodeBlock, error) {
	matches := codeBlockRe.FindAllStringSubmatch(stdout, -1)
	if len(matches) == 0 {
		return nil, foundationerrors.ValidationError("fixer: no code blocks found in tool output").Build()
	}
	blocks := make([]CodeBlock, 0, len(matches))
	for _, m := range matches {
		blocks = append(blocks, CodeBlock{Filename: m[1], Content: m[2]})
	}
	return blocks, nil
}

// ApplyBlocks writes each block's full content to its sanitized path under
// repoRoot, in iteration order. Every path is resolved before any file is
// written, so a rejected path leaves the tree untouched; a write error
// part-way leaves the earlier blocks written.
func ApplyBlocks(repoRoot string, blocks []CodeBlock) ([]string, error) {
	paths := make([]string, 0, len(blocks))
	for _, b := range blocks {
		abs, err := pathsafe.Resolve(repoRoot, b.Filename)
		if err != nil {
			return nil, err
		}
		paths = append(paths, abs)
	}
	written := make([]string, 0, len(blocks))
	for i, b := range blocks {
		abs := paths[i]
		if err := os.WriteFile(abs, []byte(b.Content), 0o644); err != nil {
			return written, foundationerrors.WrapError(err, foundationerrors.CategoryPathViolation, "fixer: write block failed").
				WithContext("path", abs).Build()
		}
		written = append(written, abs)
	}
	return written, nil
}
