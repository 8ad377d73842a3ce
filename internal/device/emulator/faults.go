package emulator

import (
	"fmt"

	"github.com/23skdu/longbow-quiver/internal/device"
)

// Fault makes a protocol stage report failure.
type Fault struct {
	// Stage is one of StageAllocate, StageQuery, StageExecute or StageSync.
	Stage device.Stage
	// Kernel restricts query and execute faults to one kernel. Empty
	// matches any.
	Kernel string
	// Status is returned instead of success. Zero picks the stage default.
	Status device.Status
	// Message becomes the runtime diagnostic.
	Message string
	// Skip lets this many matching events succeed before the fault fires.
	Skip int
	// Times is how often the fault fires. Zero means once.
	Times int
}

func (f *Fault) status() device.Status {
	if f.Status != device.StatusSuccess {
		return f.Status
	}
	switch f.Stage {
	case device.StageAllocate:
		return device.StatusMemoryAllocation
	case device.StageQuery:
		return device.StatusParamInvalid
	case device.StageSync:
		return device.StatusStreamSync
	}
	return device.StatusInner
}

// Inject arms a fault.
func (e *Emulator) Inject(f Fault) {
	if f.Times <= 0 {
		f.Times = 1
	}
	if f.Message == "" {
		f.Message = fmt.Sprintf("injected %s fault", f.Stage)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.faults = append(e.faults, &f)
}

// ClearFaults disarms every pending fault.
func (e *Emulator) ClearFaults() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.faults = nil
}

// ArmedFaults returns the number of faults that have not fired yet.
func (e *Emulator) ArmedFaults() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.faults)
}

func (e *Emulator) trip(stage device.Stage, kernel string) (device.Status, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tripLocked(stage, kernel)
}

func (e *Emulator) tripLocked(stage device.Stage, kernel string) (device.Status, bool) {
	for i, f := range e.faults {
		if f.Stage != stage || (f.Kernel != "" && kernel != "" && f.Kernel != kernel) {
			continue
		}
		if f.Skip > 0 {
			f.Skip--
			continue
		}
		f.Times--
		if f.Times == 0 {
			e.faults = append(e.faults[:i], e.faults[i+1:]...)
		}
		e.lastErr = f.Message
		return f.status(), true
	}
	return device.StatusSuccess, false
}
