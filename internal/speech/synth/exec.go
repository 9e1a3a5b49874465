package synth

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"syscall"

	"github.com/mattn/go-shellwords"
)

// execEngine shells out to an external synthesizer. The playback command
// receives the utterance as JSON on stdin and reports progress as JSON
// lines on stdout. Pause and resume are delivered as SIGSTOP/SIGCONT so
// the same process continues where it left off. An optional voices
// command prints the catalog as a JSON array; it runs once in the
// background, which gives the catalog the same late-loading behavior as
// platform engines.
type execEngine struct {
	cmd       []string
	voicesCmd []string

	mu        sync.Mutex
	active    *execUtterance
	voices    []Voice
	loaded    bool
	watchers  map[int]func()
	nextWatch int
}

type execUtterance struct {
	proc     *exec.Cmd
	events   func(Event)
	canceled bool
}

type execUtterancePayload struct {
	Text   string  `json:"text"`
	Voice  string  `json:"voice,omitempty"`
	Locale string  `json:"locale,omitempty"`
	Rate   float64 `json:"rate"`
	Pitch  float64 `json:"pitch"`
}

type execPlaybackLine struct {
	Event   string `json:"event"` // word, end, error
	Index   int    `json:"index,omitempty"`
	Message string `json:"message,omitempty"`
}

type execVoiceEntry struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Locale   string `json:"locale"`
	Provider string `json:"provider"`
}

// NewExecEngine parses the playback and voices commands. The voices
// command may be empty, in which case the catalog stays empty and every
// utterance plays with the backend default voice.
func NewExecEngine(command, voicesCommand string) (Engine, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse synthesis command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("synthesis command empty")
	}
	e := &execEngine{cmd: args, watchers: make(map[int]func())}
	if strings.TrimSpace(voicesCommand) != "" {
		voicesArgs, err := parser.Parse(voicesCommand)
		if err != nil {
			return nil, fmt.Errorf("parse voices command: %w", err)
		}
		e.voicesCmd = voicesArgs
		go e.loadCatalog()
	}
	return e, nil
}

func (e *execEngine) Speak(u Utterance, events func(Event)) {
	e.mu.Lock()
	prev := e.cancelActiveLocked()

	payload := execUtterancePayload{Text: u.Text, Locale: u.Locale, Rate: u.Rate, Pitch: u.Pitch}
	if u.Voice != nil {
		payload.Voice = u.Voice.ID
	}

	utt := &execUtterance{events: events}
	e.active = utt
	e.mu.Unlock()

	if prev != nil {
		prev.events(Event{Kind: EventCanceled})
	}

	go e.run(utt, payload)
}

func (e *execEngine) run(utt *execUtterance, payload execUtterancePayload) {
	fail := func(err error) {
		e.detach(utt)
		utt.events(Event{Kind: EventFailed, Err: err})
	}

	data, err := json.Marshal(payload)
	if err != nil {
		fail(err)
		return
	}

	base := e.cmd[0]
	args := append([]string{}, e.cmd[1:]...)
	cmd := exec.Command(base, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		fail(err)
		return
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		fail(err)
		return
	}
	if err := cmd.Start(); err != nil {
		fail(err)
		return
	}

	e.mu.Lock()
	if e.active != utt {
		// Superseded between Speak and Start; tear down quietly.
		e.mu.Unlock()
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return
	}
	utt.proc = cmd
	e.mu.Unlock()

	if _, err := stdin.Write(data); err != nil {
		_ = cmd.Wait()
		e.finish(utt, err)
		return
	}
	stdin.Close()

	scanner := bufio.NewScanner(stdout)
	sawEnd := false
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var evt execPlaybackLine
		if err := json.Unmarshal(line, &evt); err != nil {
			continue
		}
		switch evt.Event {
		case "word":
			if e.isActive(utt) {
				utt.events(Event{Kind: EventWordBoundary, WordIndex: evt.Index})
			}
		case "end":
			sawEnd = true
		case "error":
			_ = cmd.Wait()
			e.finish(utt, fmt.Errorf("synthesis backend: %s", evt.Message))
			return
		}
	}
	err = cmd.Wait()
	if sawEnd {
		e.finish(utt, nil)
		return
	}
	if err == nil {
		err = fmt.Errorf("synthesis backend exited without end event")
	}
	e.finish(utt, err)
}

// finish delivers the terminal event for utt exactly once, honoring a
// cancellation that raced with process exit.
func (e *execEngine) finish(utt *execUtterance, err error) {
	e.mu.Lock()
	canceled := utt.canceled
	if e.active == utt {
		e.active = nil
	}
	e.mu.Unlock()
	switch {
	case canceled:
		utt.events(Event{Kind: EventCanceled})
	case err != nil:
		utt.events(Event{Kind: EventFailed, Err: err})
	default:
		utt.events(Event{Kind: EventCompleted})
	}
}

func (e *execEngine) detach(utt *execUtterance) {
	e.mu.Lock()
	if e.active == utt {
		e.active = nil
	}
	e.mu.Unlock()
}

func (e *execEngine) isActive(utt *execUtterance) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active == utt
}

func (e *execEngine) Pause() {
	e.signalActive(syscall.SIGSTOP)
}

func (e *execEngine) Resume() {
	e.signalActive(syscall.SIGCONT)
}

func (e *execEngine) signalActive(sig syscall.Signal) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.active != nil && e.active.proc != nil && e.active.proc.Process != nil {
		_ = e.active.proc.Process.Signal(sig)
	}
}

func (e *execEngine) CancelAll() {
	e.mu.Lock()
	utt := e.cancelActiveLocked()
	e.mu.Unlock()
	if utt != nil {
		utt.events(Event{Kind: EventCanceled})
	}
}

// cancelActiveLocked detaches the active utterance. When its process is
// already running the reader goroutine owns the terminal event, so nil is
// returned; otherwise the caller must deliver Canceled itself.
func (e *execEngine) cancelActiveLocked() *execUtterance {
	utt := e.active
	if utt == nil {
		return nil
	}
	utt.canceled = true
	e.active = nil
	if utt.proc != nil && utt.proc.Process != nil {
		_ = utt.proc.Process.Signal(syscall.SIGCONT)
		_ = utt.proc.Process.Kill()
		return nil
	}
	return utt
}

func (e *execEngine) loadCatalog() {
	base := e.voicesCmd[0]
	args := append([]string{}, e.voicesCmd[1:]...)
	output, err := exec.Command(base, args...).Output()
	if err != nil {
		return
	}
	var entries []execVoiceEntry
	if err := json.Unmarshal(output, &entries); err != nil {
		return
	}
	voices := make([]Voice, 0, len(entries))
	for _, v := range entries {
		voices = append(voices, Voice{ID: v.ID, Name: v.Name, Locale: v.Locale, Provider: v.Provider})
	}

	e.mu.Lock()
	e.voices = voices
	e.loaded = true
	fns := make([]func(), 0, len(e.watchers))
	for _, fn := range e.watchers {
		fns = append(fns, fn)
	}
	e.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (e *execEngine) Voices() []Voice {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.loaded {
		return nil
	}
	return append([]Voice(nil), e.voices...)
}

func (e *execEngine) OnVoicesChanged(fn func()) (unsubscribe func()) {
	e.mu.Lock()
	id := e.nextWatch
	e.nextWatch++
	e.watchers[id] = fn
	e.mu.Unlock()
	return func() {
		e.mu.Lock()
		delete(e.watchers, id)
		e.mu.Unlock()
	}
}
