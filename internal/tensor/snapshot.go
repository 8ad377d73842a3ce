package tensor

import (
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"

	"github.com/23skdu/longbow-quiver/internal/device"
	"github.com/23skdu/longbow-quiver/internal/dtype"
	"github.com/23skdu/longbow-quiver/internal/shape"
)

// Snapshot is the host-side, CBOR-encodable image of a tensor.
type Snapshot struct {
	DType string  `cbor:"dtype"`
	Shape []int64 `cbor:"shape"`
	Data  []byte  `cbor:"data"`
}

// Snapshot downloads the tensor into a Snapshot.
func (t *Tensor) Snapshot() (*Snapshot, error) {
	data, err := t.Bytes()
	if err != nil {
		return nil, err
	}
	return &Snapshot{DType: t.dtype.String(), Shape: []int64(t.shape.Clone()), Data: data}, nil
}

// Restore uploads the snapshot to dc.
func (s *Snapshot) Restore(dc *device.Context) (*Tensor, error) {
	dt, err := dtype.Parse(s.DType)
	if err != nil {
		return nil, err
	}
	sh := shape.Shape(s.Shape)
	if sh == nil {
		sh = shape.Shape{}
	}
	return FromBytes(dc, sh, dt, s.Data)
}

// WriteSnapshot encodes t as CBOR to w.
func WriteSnapshot(w io.Writer, t *Tensor) error {
	snap, err := t.Snapshot()
	if err != nil {
		return err
	}
	if err := cbor.NewEncoder(w).Encode(snap); err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	return nil
}

// ReadSnapshot decodes one CBOR snapshot from r and uploads it to dc.
func ReadSnapshot(r io.Reader, dc *device.Context) (*Tensor, error) {
	var snap Snapshot
	if err := cbor.NewDecoder(r).Decode(&snap); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return snap.Restore(dc)
}
