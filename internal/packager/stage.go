package packager

import (
	"fmt"
	"time"

	"github.com/Norgate-AV/xbuild/internal/target"
)

// Stage is a step of the packaging state machine:
//
//	Start -> Native(arch)* -> Resources -> Assemble -> Align -> Sign -> Done
//
// Any stage may move to Failed, which is terminal.
type Stage int

const (
	Start Stage = iota
	Native
	Resources
	Assemble
	Align
	Sign
	Done
	Failed
)

var stageNames = [...]string{"start", "native", "resources", "assemble", "align", "sign", "done", "failed"}

func (s Stage) String() string {
	if int(s) < len(stageNames) {
		return stageNames[s]
	}

	return fmt.Sprintf("stage(%d)", int(s))
}

// Terminal reports whether no transition may leave s.
func (s Stage) Terminal() bool {
	return s == Done || s == Failed
}

// next lists the legal successors of each stage. Native may repeat once per architecture.
var next = map[Stage][]Stage{
	Start:     {Native},
	Native:    {Native, Resources},
	Resources: {Assemble},
	Assemble:  {Align},
	Align:     {Sign},
	Sign:      {Done},
}

// Transition is one recorded stage change.
type Transition struct {
	Stage Stage
	Arch  target.Arch // Set for Native.
	At    time.Time
}

func (t Transition) String() string {
	if t.Arch != "" {
		return fmt.Sprintf("%s(%s)", t.Stage, t.Arch)
	}

	return t.Stage.String()
}

// machine enforces the legal stage order for one packaging run.
type machine struct {
	current Stage
	history []Transition
	now     func() time.Time
}

func newMachine(now func() time.Time) *machine {
	m := &machine{current: Start, now: now}
	m.history = append(m.history, Transition{Stage: Start, At: now()})

	return m
}

// enter moves to s. Moving to Failed is always allowed from a non-terminal stage.
func (m *machine) enter(s Stage, arch target.Arch) error {
	if m.current.Terminal() {
		return fmt.Errorf("packaging already %s", m.current)
	}

	legal := s == Failed
	for _, n := range next[m.current] {
		legal = legal || n == s
	}

	if !legal {
		return fmt.Errorf("illegal packaging transition %s -> %s", m.current, s)
	}

	m.current = s
	m.history = append(m.history, Transition{Stage: s, Arch: arch, At: m.now()})

	return nil
}

func (m *machine) stages() []string {
	out := make([]string, len(m.history))
	for i, t := range m.history {
		out[i] = t.String()
	}

	return out
}
