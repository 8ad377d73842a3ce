package device

import "fmt"

// Status is a raw device runtime return code. Zero is success.
type Status int32

const (
	StatusSuccess          Status = 0
	StatusInvalidParam     Status = 100000
	StatusParamNullptr     Status = 161001
	StatusParamInvalid     Status = 161002
	StatusBadAlloc         Status = 200000
	StatusMemoryAllocation Status = 207001
	StatusInvalidPtr       Status = 207002
	StatusRuntime          Status = 361001
	StatusStreamSync       Status = 507018
	StatusExecutorReused   Status = 561001
	StatusInner            Status = 561000
)

var statusNames = map[Status]string{
	StatusSuccess:          "success",
	StatusInvalidParam:     "invalid parameter",
	StatusParamNullptr:     "null pointer parameter",
	StatusParamInvalid:     "invalid kernel parameter",
	StatusBadAlloc:         "bad allocation",
	StatusMemoryAllocation: "device memory allocation failed",
	StatusInvalidPtr:       "invalid device pointer",
	StatusRuntime:          "runtime error",
	StatusStreamSync:       "stream synchronize failed",
	StatusExecutorReused:   "executor already consumed",
	StatusInner:            "inner error",
}

func (s Status) String() string {
	if n, ok := statusNames[s]; ok {
		return n
	}
	return fmt.Sprintf("status %d", int32(s))
}

// OK reports whether s is StatusSuccess.
func (s Status) OK() bool { return s == StatusSuccess }
