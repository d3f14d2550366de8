package shim

import (
	"context"
	"os"
	"time"

	"github.com/terrazul-ai/tz/internal/config"
	"github.com/terrazul-ai/tz/internal/env"
	"github.com/terrazul-ai/tz/internal/errs"
	snippetexec "github.com/terrazul-ai/tz/internal/snippet/exec"
)

// defaultAgentTimeout bounds an askAgent call when the snippet didn't
// declare timeoutMs, so a hung external CLI can't wedge an install
// forever.
const defaultAgentTimeout = 120 * time.Second

// CLIAgentRunner implements snippetexec.AgentRunner by spawning the
// external coding-agent CLI named in the snippet's tool option, using
// the user's profile.tools configuration (spec §6) to resolve it to a
// command, fixed argument list, and environment. It drives its process
// through env.Spawner rather than os/exec directly, so the same seam
// internal/env declared for "component N's tool-runner shim" is the one
// actually plugged in, and tests can substitute a fake Spawner.
type CLIAgentRunner struct {
	// Profiles resolves a tool name to its launch configuration. A
	// caller with no profile.tools configured may leave this nil; the
	// runner then falls back to invoking req.Tool directly with no
	// extra arguments.
	Profiles map[string]config.ToolProfile
	// Spawn runs the resolved command. Defaults to env.ExecSpawner{}.
	Spawn env.Spawner
}

func (r *CLIAgentRunner) spawner() env.Spawner {
	if r.Spawn == nil {
		return env.ExecSpawner{}
	}
	return r.Spawn
}

// RunAgent implements snippetexec.AgentRunner. The resolved prompt
// (system prompt prefixed, when set) is passed as the final positional
// argument, matching how coding-agent CLIs like `claude -p <prompt>` or
// `codex exec <prompt>` take a one-shot instruction.
func (r *CLIAgentRunner) RunAgent(ctx context.Context, req snippetexec.AgentRequest) (string, error) {
	if req.Tool == "" {
		return "", errs.New(errs.KindInvalidArgument, "askAgent requires a tool option")
	}

	profile, hasProfile := r.Profiles[req.Tool]
	command := req.Tool
	var args []string
	extraEnv := map[string]string{}
	if hasProfile {
		if profile.Command != "" {
			command = profile.Command
		}
		args = append(args, profile.Args...)
		for k, v := range profile.Env {
			extraEnv[k] = v
		}
	}
	args = append(args, promptWithSystem(req))

	procEnv := os.Environ()
	for k, v := range extraEnv {
		procEnv = append(procEnv, k+"="+v)
	}
	if req.SafeMode {
		procEnv = append(procEnv, "TZ_AGENT_SAFE_MODE=1")
	}

	timeout := defaultAgentTimeout
	if req.TimeoutMs > 0 {
		timeout = time.Duration(req.TimeoutMs) * time.Millisecond
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	out, err := r.spawner().Run(runCtx, command, args, req.Cwd, procEnv)
	if err != nil {
		if runCtx.Err() != nil {
			return "", errs.Wrap(errs.KindToolOutputParse, "askAgent tool "+req.Tool+" timed out", runCtx.Err())
		}
		return "", errs.Wrap(errs.KindToolNotFound, "run askAgent tool "+req.Tool, err)
	}
	return string(out), nil
}

func promptWithSystem(req snippetexec.AgentRequest) string {
	if req.SystemPrompt == "" {
		return req.Prompt
	}
	return req.SystemPrompt + "\n\n" + req.Prompt
}
