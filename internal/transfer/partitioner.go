package transfer

import (
	"errors"
	"io"
)

// Unit is a contiguous, sequence-numbered slice of the source stream.
// Data is owned by the unit and never reused by the Partitioner.
type Unit struct {
	Index int
	Data  []byte
}

// Size returns the payload length in bytes.
func (u Unit) Size() int {
	return len(u.Data)
}

// Partitioner splits a reader into units of at most unitSize bytes. It reads exactly one unit per call to
// Next, so memory use is bounded by the unit size regardless of the source length.
type Partitioner struct {
	r        io.Reader
	unitSize int
	next     int
	done     bool
}

func NewPartitioner(r io.Reader, unitSize int) (*Partitioner, error) {
	if unitSize <= 0 {
		return nil, ErrInvalidUnitSize
	}
	return &Partitioner{r: r, unitSize: unitSize}, nil
}

// Next returns the next unit, io.EOF once the source is exhausted, or a *ReadError if the source failed.
// The sequence cannot be restarted; after io.EOF or an error every further call returns io.EOF.
func (p *Partitioner) Next() (Unit, error) {
	if p.done {
		return Unit{}, io.EOF
	}
	// a fresh buffer per unit: units are handed to concurrent workers
	buf := make([]byte, p.unitSize)
	n, err := io.ReadFull(p.r, buf)
	switch {
	case errors.Is(err, io.EOF):
		p.done = true
		return Unit{}, io.EOF
	case errors.Is(err, io.ErrUnexpectedEOF):
		p.done = true
	case err != nil:
		p.done = true
		return Unit{}, &ReadError{Index: p.next, Err: err}
	}
	u := Unit{Index: p.next, Data: buf[:n]}
	p.next++
	return u, nil
}

// UnitCount returns how many units a source of size bytes partitions into.
func UnitCount(size int64, unitSize int) int {
	if size <= 0 || unitSize <= 0 {
		return 0
	}
	us := int64(unitSize)
	return int((size + us - 1) / us)
}
