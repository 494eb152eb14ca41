package fakes

import (
	"context"
	"strings"
	"sync"

	"github.com/joejulian/sshmount/pkg/system"
)

type FakeCmdResult struct {
	Stdout     string
	Stderr     string
	ExitStatus int
	Error      error
}

// FakeCmdRunner records every command and replays canned results keyed by
// the full command line.
type FakeCmdRunner struct {
	mu sync.Mutex

	commandResults    map[string][]FakeCmdResult
	RunCommands       [][]string
	ComplexCommands   []system.Command
	AvailableCommands map[string]bool
}

func NewFakeCmdRunner() *FakeCmdRunner {
	return &FakeCmdRunner{
		commandResults:    map[string][]FakeCmdResult{},
		AvailableCommands: map[string]bool{},
	}
}

// AddCmdResult queues a result for the command line. Results for the same
// line are returned in order; the last one repeats.
func (r *FakeCmdRunner) AddCmdResult(fullCmd string, result FakeCmdResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commandResults[fullCmd] = append(r.commandResults[fullCmd], result)
}

func (r *FakeCmdRunner) RunComplexCommand(ctx context.Context, cmd system.Command) (string, string, int, error) {
	r.mu.Lock()
	r.ComplexCommands = append(r.ComplexCommands, cmd)
	r.mu.Unlock()
	return r.RunCommand(ctx, cmd.Name, cmd.Args...)
}

func (r *FakeCmdRunner) RunCommand(_ context.Context, cmdName string, args ...string) (string, string, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	runCmd := append([]string{cmdName}, args...)
	r.RunCommands = append(r.RunCommands, runCmd)

	fullCmd := strings.Join(runCmd, " ")
	results, found := r.commandResults[fullCmd]
	if !found || len(results) == 0 {
		return "", "", 0, nil
	}
	result := results[0]
	if len(results) > 1 {
		r.commandResults[fullCmd] = results[1:]
	}
	return result.Stdout, result.Stderr, result.ExitStatus, result.Error
}

func (r *FakeCmdRunner) CommandExists(cmdName string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.AvailableCommands[cmdName]
}

// Commands returns the recorded command lines joined by spaces.
func (r *FakeCmdRunner) Commands() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.RunCommands))
	for _, c := range r.RunCommands {
		out = append(out, strings.Join(c, " "))
	}
	return out
}
