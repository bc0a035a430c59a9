// Package posaccounting implements the layered delta map used by
// staking rules (§4.J): a per-key signed amount aggregate plus a
// per-key structured-record change, both combinable across layers
// with matching undo records so applying then undoing a combine is
// always an identity operation.
package posaccounting

import (
	"errors"
	"fmt"
)

// Op names the structured-record change a DataDelta represents.
type Op int

const (
	OpCreate Op = iota
	OpModify
	OpDelete
)

func (o Op) String() string {
	switch o {
	case OpCreate:
		return "create"
	case OpModify:
		return "modify"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// DataDelta is a structured-record change for one key: Create and
// Modify carry the new record; Delete carries none.
type DataDelta struct {
	Op     Op
	Record []byte
}

// ErrDataConflict is returned when a child DataDelta cannot be
// combined into the parent's current state for a key (§4.J's table
// marks these cells "error").
var ErrDataConflict = errors.New("posaccounting: incompatible data delta combination")

// ErrAmountOverflow is returned when combining a signed amount delta
// would overflow int64.
var ErrAmountOverflow = errors.New("posaccounting: amount delta overflow")

// combineData implements the §4.J combination table. parent is nil
// when the key is absent from the parent layer.
func combineData(parent *DataDelta, child DataDelta) (*DataDelta, error) {
	if parent == nil {
		if child.Op != OpCreate {
			return nil, fmt.Errorf("%w: %v over absent key", ErrDataConflict, child.Op)
		}
		result := child
		return &result, nil
	}

	switch parent.Op {
	case OpCreate:
		switch child.Op {
		case OpModify:
			return &DataDelta{Op: OpCreate, Record: child.Record}, nil
		case OpDelete:
			return nil, nil // Create then Delete cancels out: net absent.
		default:
			return nil, fmt.Errorf("%w: create over pending create", ErrDataConflict)
		}
	case OpModify:
		switch child.Op {
		case OpModify:
			return &DataDelta{Op: OpModify, Record: child.Record}, nil
		case OpDelete:
			return &DataDelta{Op: OpDelete}, nil
		default:
			return nil, fmt.Errorf("%w: create over pending modify", ErrDataConflict)
		}
	case OpDelete:
		switch child.Op {
		case OpCreate:
			return &DataDelta{Op: OpModify, Record: child.Record}, nil
		default:
			return nil, fmt.Errorf("%w: %v over pending delete", ErrDataConflict, child.Op)
		}
	default:
		return nil, fmt.Errorf("posaccounting: unknown parent op %v", parent.Op)
	}
}

// Delta is one layer of pending pool-accounting changes, keyed by an
// opaque identifier (a pool id or delegation id, hex- or
// binary-encoded by the caller — this package has no opinion on key
// shape).
type Delta struct {
	Amounts map[string]int64
	Data    map[string]DataDelta
}

// NewDelta returns an empty delta layer.
func NewDelta() *Delta {
	return &Delta{Amounts: make(map[string]int64), Data: make(map[string]DataDelta)}
}

// AmountUndo reverses one MergeAmount call.
type AmountUndo struct {
	Key      string
	Previous int64
	HadEntry bool
}

// DataUndo reverses one MergeData call.
type DataUndo struct {
	Key      string
	Previous DataDelta
	HadEntry bool
}

// MergeAmount adds delta to key's running signed aggregate, trapping
// overflow, and returns an undo record that restores the key's prior
// value.
func (d *Delta) MergeAmount(key string, delta int64) (*AmountUndo, error) {
	prev, had := d.Amounts[key]
	sum := prev + delta
	if (delta > 0 && sum < prev) || (delta < 0 && sum > prev) {
		return nil, ErrAmountOverflow
	}
	d.Amounts[key] = sum
	return &AmountUndo{Key: key, Previous: prev, HadEntry: had}, nil
}

// UndoMergeAmount reverses a MergeAmount call.
func (d *Delta) UndoMergeAmount(u *AmountUndo) {
	if u.HadEntry {
		d.Amounts[u.Key] = u.Previous
	} else {
		delete(d.Amounts, u.Key)
	}
}

// MergeData combines a child DataDelta for key into this layer
// in-place per the §4.J table, returning an undo record that restores
// the layer's prior state for key.
func (d *Delta) MergeData(key string, child DataDelta) (*DataUndo, error) {
	prev, had := d.Data[key]
	var parentPtr *DataDelta
	if had {
		parentPtr = &prev
	}

	combined, err := combineData(parentPtr, child)
	if err != nil {
		return nil, err
	}

	undo := &DataUndo{Key: key, Previous: prev, HadEntry: had}
	if combined == nil {
		delete(d.Data, key)
	} else {
		d.Data[key] = *combined
	}
	return undo, nil
}

// UndoMergeData reverses a MergeData call.
func (d *Delta) UndoMergeData(u *DataUndo) {
	if u.HadEntry {
		d.Data[u.Key] = u.Previous
	} else {
		delete(d.Data, u.Key)
	}
}

// AmountAt returns the key's current signed aggregate in this layer
// alone (0 if absent) — callers combine against a base/parent layer
// themselves, the same way utxo.CachedView layers over a parent View.
func (d *Delta) AmountAt(key string) int64 {
	return d.Amounts[key]
}

// DataAt returns the key's current structured delta in this layer
// alone, and whether one is present.
func (d *Delta) DataAt(key string) (DataDelta, bool) {
	v, ok := d.Data[key]
	return v, ok
}
