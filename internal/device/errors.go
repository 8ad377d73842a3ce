package device

import (
	"errors"
	"fmt"
)

// Stage identifies where in the device protocol a failure happened.
type Stage int

const (
	StageSetup Stage = iota
	StageAllocate
	StageQuery
	StageExecute
	StageSync
	StageMemcpy
	StageFree
)

func (s Stage) String() string {
	switch s {
	case StageSetup:
		return "setup"
	case StageAllocate:
		return "allocate"
	case StageQuery:
		return "query"
	case StageExecute:
		return "execute"
	case StageSync:
		return "sync"
	case StageMemcpy:
		return "memcpy"
	case StageFree:
		return "free"
	}
	return fmt.Sprintf("stage(%d)", int(s))
}

// Sentinels matched with errors.Is against any *Error of the same stage.
var (
	ErrAllocation            = errors.New("device allocation failed")
	ErrKernelQuery           = errors.New("kernel workspace query failed")
	ErrKernelExecution       = errors.New("kernel execution failed")
	ErrDeviceSynchronization = errors.New("device synchronization failed")
	ErrMemcpy                = errors.New("device memcpy failed")
	ErrRuntime               = errors.New("device runtime failure")
	ErrClosed                = errors.New("device context is closed")
)

func (s Stage) sentinel() error {
	switch s {
	case StageAllocate:
		return ErrAllocation
	case StageQuery:
		return ErrKernelQuery
	case StageExecute:
		return ErrKernelExecution
	case StageSync:
		return ErrDeviceSynchronization
	case StageMemcpy:
		return ErrMemcpy
	}
	return ErrRuntime
}

// Error is a device-reported failure: the operation, the protocol stage,
// the raw status and the runtime's diagnostic text.
type Error struct {
	Op      string
	Stage   Stage
	Status  Status
	Message string
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s %s error = %d (%s)", e.Op, e.Stage, int32(e.Status), e.Status)
	if e.Message != "" {
		msg += " - " + e.Message
	}
	return msg
}

// Is matches the sentinel for the error's stage.
func (e *Error) Is(target error) bool {
	return target == e.Stage.sentinel()
}

// Translate converts a raw status into an error. It returns nil only for
// StatusSuccess.
func Translate(op string, stage Stage, status Status, diag string) error {
	if status.OK() {
		return nil
	}
	return &Error{Op: op, Stage: stage, Status: status, Message: diag}
}

// StageOf extracts the failing stage from err, if it carries one.
func StageOf(err error) (Stage, bool) {
	var de *Error
	if errors.As(err, &de) {
		return de.Stage, true
	}
	return 0, false
}
