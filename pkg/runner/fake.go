package runner

import (
	"context"
	"strings"
)

// FakeRunner records commands and replays scripted results.
// Commands are looked up by their space-joined argument vector; anything
// not scripted succeeds with empty output.
type FakeRunner struct {
	Calls   [][]string
	Results map[string]*Result
	Errors  map[string]error
}

// NewFakeRunner creates an empty fake runner
func NewFakeRunner() *FakeRunner {
	return &FakeRunner{
		Results: make(map[string]*Result),
		Errors:  make(map[string]error),
	}
}

// Run records argv and returns the scripted result for it
func (f *FakeRunner) Run(_ context.Context, argv []string) (*Result, error) {
	f.Calls = append(f.Calls, append([]string(nil), argv...))
	key := strings.Join(argv, " ")
	if err, ok := f.Errors[key]; ok {
		return nil, err
	}
	if result, ok := f.Results[key]; ok {
		return result, nil
	}
	return &Result{}, nil
}

// SetOutput scripts a successful command with the given stdout
func (f *FakeRunner) SetOutput(argv []string, stdout string) {
	f.Results[strings.Join(argv, " ")] = &Result{Stdout: []byte(stdout)}
}

// SetFailure scripts a command that exits with the given code and stderr
func (f *FakeRunner) SetFailure(argv []string, exitCode int, stderr string) {
	f.Results[strings.Join(argv, " ")] = &Result{ExitCode: exitCode, Stderr: []byte(stderr)}
}

// Called reports whether argv was run
func (f *FakeRunner) Called(argv []string) bool {
	key := strings.Join(argv, " ")
	for _, call := range f.Calls {
		if strings.Join(call, " ") == key {
			return true
		}
	}
	return false
}

// CalledWithPrefix reports whether any command starting with prefix was run
func (f *FakeRunner) CalledWithPrefix(prefix []string) bool {
	for _, call := range f.Calls {
		if len(call) < len(prefix) {
			continue
		}
		if strings.Join(call[:len(prefix)], " ") == strings.Join(prefix, " ") {
			return true
		}
	}
	return false
}
