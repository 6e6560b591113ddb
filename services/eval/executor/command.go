// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package executor

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianEval/services/eval/metrics"
)

var (
	// ErrAgentFailed indicates the agent process exited unsuccessfully.
	ErrAgentFailed = errors.New("agent process failed")

	// ErrAgentTimeout indicates the agent exceeded the variant timeout.
	ErrAgentTimeout = errors.New("agent process timed out")
)

// maxEventLine bounds a single JSON event line from the agent.
const maxEventLine = 1 << 20

// AgentEvent is one line of the agent's JSON-lines output.
//
// The agent process receives the task as JSON on stdin and reports what
// it does, one object per line, on stdout:
//
//	{"type":"first_response"}
//	{"type":"api_call","input_tokens":100,"output_tokens":50,"cached_tokens":20,"cost_usd":0.01}
//	{"type":"step","tool":"read_file"}
//	{"type":"file_read"}
//	{"type":"solved","quality":{"syntax_valid":1,"test_pass_rate":1}}
//
// Unknown types are ignored. Lines that are not JSON are ignored.
type AgentEvent struct {
	Type         string           `json:"type"`
	InputTokens  int              `json:"input_tokens,omitempty"`
	OutputTokens int              `json:"output_tokens,omitempty"`
	CachedTokens int              `json:"cached_tokens,omitempty"`
	CostUSD      float64          `json:"cost_usd,omitempty"`
	Tool         string           `json:"tool,omitempty"`
	DurationMs   int64            `json:"duration_ms,omitempty"`
	Quality      *metrics.Quality `json:"quality,omitempty"`
}

// agentInput is written to the agent's stdin.
type agentInput struct {
	TaskID   string   `json:"task_id"`
	Prompt   string   `json:"prompt"`
	Repo     string   `json:"repo,omitempty"`
	Model    string   `json:"model,omitempty"`
	MaxSteps int      `json:"max_steps,omitempty"`
	Tags     []string `json:"tags,omitempty"`
}

// Command runs an external agent process for each task.
//
// Description:
//
//	The variant's Command is started with its Env appended to the
//	current environment. A non-zero exit status fails the task, even if
//	a "solved" event was seen. Per-task timeouts come from
//	Variant.Timeout.
//
// Thread Safety: Safe for concurrent use; each call owns its process.
type Command struct {
	// Dir is the working directory for agent processes. Empty means the
	// current directory.
	Dir string
}

// NewCommand creates a command executor.
func NewCommand() *Command {
	return &Command{}
}

// Execute implements TaskExecutor.
func (x *Command) Execute(ctx context.Context, req Request) error {
	if len(req.Variant.Command) == 0 {
		return fmt.Errorf("%w: variant %s has no command", ErrAgentFailed, req.Variant.Name)
	}

	cmdCtx := ctx
	if req.Variant.Timeout > 0 {
		var cancel context.CancelFunc
		cmdCtx, cancel = context.WithTimeout(ctx, req.Variant.Timeout)
		defer cancel()
	}

	input, err := json.Marshal(agentInput{
		TaskID:   req.Task.ID,
		Prompt:   req.Task.Prompt,
		Repo:     req.Task.Repo,
		Model:    req.Variant.Model,
		MaxSteps: req.MaxSteps(),
		Tags:     req.Task.Tags,
	})
	if err != nil {
		return fmt.Errorf("encode task: %w", err)
	}

	cmd := exec.CommandContext(cmdCtx, req.Variant.Command[0], req.Variant.Command[1:]...)
	cmd.Dir = x.Dir
	cmd.Env = os.Environ()
	for k, v := range req.Variant.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	cmd.Stdin = bytes.NewReader(input)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	cmd.WaitDelay = 2 * time.Second

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%w: start: %v", ErrAgentFailed, err)
	}

	scanErr := consumeEvents(stdout, req)
	waitErr := cmd.Wait()

	if errors.Is(cmdCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return fmt.Errorf("%w after %s", ErrAgentTimeout, req.Variant.Timeout)
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if waitErr != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			return fmt.Errorf("%w: %v", ErrAgentFailed, waitErr)
		}
		return fmt.Errorf("%w: %v: %s", ErrAgentFailed, waitErr, msg)
	}
	if scanErr != nil {
		return fmt.Errorf("read agent output: %w", scanErr)
	}
	return nil
}

// consumeEvents applies agent events to the request's collector until r
// is exhausted.
func consumeEvents(r io.Reader, req Request) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxEventLine)

	steps := 0
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 || line[0] != '{' {
			continue
		}
		var ev AgentEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			continue
		}
		if applyEvent(req.Recorder, ev) {
			steps++
			req.step(steps, ev.Tool)
		}
	}
	err := scanner.Err()
	if err != nil {
		// Drain so the process is not blocked writing to a full pipe.
		_, _ = io.Copy(io.Discard, r)
	}
	return err
}

// applyEvent records ev and reports whether it was an agent step.
func applyEvent(c *metrics.Collector, ev AgentEvent) bool {
	switch ev.Type {
	case "first_response":
		c.RecordFirstResponse()
	case "api_call":
		c.RecordFirstResponse()
		c.RecordAPICall(ev.InputTokens, ev.OutputTokens, ev.CachedTokens, ev.CostUSD)
	case "file_read":
		c.RecordFileRead()
	case "file_write":
		c.RecordFileWrite()
	case "edit_attempt":
		c.RecordEditAttempt()
	case "test_run":
		c.RecordTestRun()
	case "context_retrieval":
		c.RecordContextRetrieval(time.Duration(ev.DurationMs) * time.Millisecond)
	case "step":
		c.RecordAgentStep()
		return true
	case "solved":
		var q metrics.Quality
		if ev.Quality != nil {
			q = *ev.Quality
		}
		c.MarkSolved(q)
	}
	return false
}

var _ TaskExecutor = (*Command)(nil)
