package dispatch

import (
	"errors"
	"fmt"

	"github.com/23skdu/longbow-quiver/internal/device"
)

// State is a step of the kernel invocation protocol.
type State int

const (
	Idle State = iota
	SizeQueried
	WorkspaceReserved
	Executed
	Synchronized
	Released
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case SizeQueried:
		return "size-queried"
	case WorkspaceReserved:
		return "workspace-reserved"
	case Executed:
		return "executed"
	case Synchronized:
		return "synchronized"
	case Released:
		return "released"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// ErrInvalidTransition is returned when an Invocation step is taken out of
// order or after release.
var ErrInvalidTransition = errors.New("invalid invocation transition")

// Invocation is one call of one kernel. It moves strictly forward through
// Idle, SizeQueried, WorkspaceReserved, Executed, Synchronized and Released
// and is never reused. Release may be taken from any state.
type Invocation struct {
	dc     *device.Context
	name   string
	state  State
	kernel device.Kernel
	exec   device.Executor
	size   uint64
	ws     *device.Buffer
}

// Begin starts an invocation of the named kernel on dc.
func Begin(dc *device.Context, kernel string) *Invocation {
	return &Invocation{dc: dc, name: kernel}
}

// Kernel returns the kernel name.
func (inv *Invocation) Kernel() string { return inv.name }

// State returns the current protocol step.
func (inv *Invocation) State() State { return inv.state }

// WorkspaceSize is the byte count the size query asked for.
func (inv *Invocation) WorkspaceSize() uint64 { return inv.size }

func (inv *Invocation) advance(from, to State) error {
	if inv.state != from {
		return fmt.Errorf("%w: %s %s -> %s", ErrInvalidTransition, inv.name, inv.state, to)
	}
	inv.state = to
	return nil
}

// Query resolves the kernel and asks it for its workspace requirement.
func (inv *Invocation) Query(args *device.Args) error {
	if err := inv.advance(Idle, SizeQueried); err != nil {
		return err
	}
	k, err := inv.dc.Kernel(inv.name)
	if err != nil {
		return err
	}
	size, exec, st := k.WorkspaceSize(args)
	if !st.OK() {
		return device.Translate(inv.name, device.StageQuery, st, inv.dc.Runtime().RecentErrMsg())
	}
	if exec == nil {
		return device.Translate(inv.name, device.StageQuery, device.StatusParamNullptr, "size query returned no executor")
	}
	inv.kernel, inv.exec, inv.size = k, exec, size
	return nil
}

// Reserve allocates the workspace when the query asked for one.
func (inv *Invocation) Reserve() error {
	if err := inv.advance(SizeQueried, WorkspaceReserved); err != nil {
		return err
	}
	if inv.size == 0 {
		return nil
	}
	ws, err := inv.dc.Alloc(inv.name, inv.size)
	if err != nil {
		return err
	}
	inv.ws = ws
	return nil
}

// Execute issues the kernel on the context's stream.
func (inv *Invocation) Execute() error {
	if err := inv.advance(WorkspaceReserved, Executed); err != nil {
		return err
	}
	st := inv.kernel.Execute(inv.ws.Ptr(), inv.ws.Size(), inv.exec, inv.dc.Stream())
	if !st.OK() {
		return device.Translate(inv.name, device.StageExecute, st, inv.dc.Runtime().RecentErrMsg())
	}
	return nil
}

// Synchronize waits for the stream to drain.
func (inv *Invocation) Synchronize() error {
	if err := inv.advance(Executed, Synchronized); err != nil {
		return err
	}
	return inv.dc.Synchronize(inv.name)
}

// Release frees the workspace. It runs from any state and is idempotent.
func (inv *Invocation) Release() error {
	if inv.state == Released {
		return nil
	}
	inv.state = Released
	inv.exec = nil
	err := inv.ws.Free()
	inv.ws = nil
	return err
}
