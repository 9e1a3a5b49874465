package listen

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os/exec"
	"sync"

	"github.com/mattn/go-shellwords"
)

// execEngine shells out to an external recognizer that captures the
// microphone and streams result batches as JSON lines on stdout:
//
//	{"text":"hello wor","final":false}
//	{"text":"hello world","final":true}
//	{"error":"not-allowed"}
//
// Stop closes stdin so the backend can flush a last final segment before
// exiting; Abort kills the process. Process exit maps to EventEnded.
type execEngine struct {
	cmd []string

	mu     sync.Mutex
	active *execSession
}

type execSession struct {
	proc  *exec.Cmd
	stdin func()
	once  sync.Once
}

type execResultLine struct {
	Text  string `json:"text"`
	Final bool   `json:"final"`
	Error string `json:"error,omitempty"`
}

// NewExecEngine parses the recognizer command.
func NewExecEngine(command string) (Engine, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse recognition command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("recognition command empty")
	}
	return &execEngine{cmd: args}, nil
}

func (e *execEngine) Supported() bool { return true }

func (e *execEngine) Start(cfg Config, events func(Event)) (Session, error) {
	e.mu.Lock()
	if e.active != nil {
		e.mu.Unlock()
		return nil, ErrAlreadyActive
	}

	base := e.cmd[0]
	args := append([]string{}, e.cmd[1:]...)
	if cfg.Locale != "" {
		args = append(args, "--language", cfg.Locale)
	}
	if cfg.Continuous {
		args = append(args, "--continuous")
	}
	if cfg.InterimResults {
		args = append(args, "--interim")
	}

	cmd := exec.Command(base, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		e.mu.Unlock()
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		e.mu.Unlock()
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		e.mu.Unlock()
		return nil, fmt.Errorf("start recognition command: %w", err)
	}

	s := &execSession{proc: cmd, stdin: func() { _ = stdin.Close() }}
	e.active = s
	e.mu.Unlock()

	go func() {
		scanner := bufio.NewScanner(stdout)
		for scanner.Scan() {
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}
			var result execResultLine
			if err := json.Unmarshal(line, &result); err != nil {
				continue
			}
			if result.Error != "" {
				events(Event{Kind: EventFailed, Code: result.Error})
				continue
			}
			events(Event{Kind: EventResult, Segments: []Segment{
				{Text: result.Text, Final: result.Final},
			}})
		}
		_ = cmd.Wait()

		e.mu.Lock()
		if e.active == s {
			e.active = nil
		}
		e.mu.Unlock()
		events(Event{Kind: EventEnded})
	}()

	return s, nil
}

func (s *execSession) Stop() {
	s.once.Do(s.stdin)
}

func (s *execSession) Abort() {
	s.Stop()
	if s.proc != nil && s.proc.Process != nil {
		_ = s.proc.Process.Kill()
	}
}
