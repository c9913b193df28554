// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package storage

import (
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/mus-format/mus-go/ord"
	"github.com/mus-format/mus-go/varint"
	"github.com/poiesic/kbpipe/core"
)

// Records are encoded field by field with mus-go primitives. Field order is the
// wire format: append new fields at the end only.

// MarshalCheckpoint serializes a Checkpoint to bytes.
func MarshalCheckpoint(c *core.Checkpoint) []byte {
	var s sizer
	s.string(c.Definition)
	s.string(c.Version)
	s.cursor(c.Cursor)
	s.int64(c.Items)
	s.string(c.RunID)
	s.time(c.UpdatedAt)

	e := newEncoder(s.n)
	e.string(c.Definition)
	e.string(c.Version)
	e.cursor(c.Cursor)
	e.int64(c.Items)
	e.string(c.RunID)
	e.time(c.UpdatedAt)
	return e.bs
}

// UnmarshalCheckpoint deserializes a Checkpoint from bytes.
func UnmarshalCheckpoint(data []byte) (*core.Checkpoint, error) {
	d := decoder{bs: data}
	c := &core.Checkpoint{
		Definition: d.string(),
		Version:    d.string(),
		Cursor:     d.cursor(),
		Items:      d.int64(),
		RunID:      d.string(),
		UpdatedAt:  d.time(),
	}
	if d.err != nil {
		return nil, fmt.Errorf("%w: checkpoint: %w", ErrSerializationFailed, d.err)
	}
	return c, nil
}

// MarshalLease serializes a Lease to bytes.
func MarshalLease(l *core.Lease) []byte {
	var s sizer
	s.string(l.Definition)
	s.string(l.Holder)
	s.time(l.AcquiredAt)
	s.time(l.ExpiresAt)

	e := newEncoder(s.n)
	e.string(l.Definition)
	e.string(l.Holder)
	e.time(l.AcquiredAt)
	e.time(l.ExpiresAt)
	return e.bs
}

// UnmarshalLease deserializes a Lease from bytes.
func UnmarshalLease(data []byte) (*core.Lease, error) {
	d := decoder{bs: data}
	l := &core.Lease{
		Definition: d.string(),
		Holder:     d.string(),
		AcquiredAt: d.time(),
		ExpiresAt:  d.time(),
	}
	if d.err != nil {
		return nil, fmt.Errorf("%w: lease: %w", ErrSerializationFailed, d.err)
	}
	return l, nil
}

// MarshalRun serializes a Run to bytes.
func MarshalRun(r *core.Run) []byte {
	var s sizer
	writeRun(&s, r)
	e := newEncoder(s.n)
	writeRun(e, r)
	return e.bs
}

func writeRun(w writer, r *core.Run) {
	w.string(r.ID)
	w.string(r.Definition)
	w.string(r.Version)
	w.string(string(r.State))
	w.bool(r.Retryable)
	w.string(r.Error)
	w.cursor(r.StartCursor)
	w.cursor(r.EndCursor)
	w.int64(int64(r.Batches))
	w.int64(int64(r.ItemsCommitted))
	w.int64(int64(r.ChunksCommitted))
	w.int64(int64(r.ImageFailures))
	w.time(r.CreatedAt)
	w.time(r.StartedAt)
	w.time(r.FinishedAt)
}

// UnmarshalRun deserializes a Run from bytes.
func UnmarshalRun(data []byte) (*core.Run, error) {
	d := decoder{bs: data}
	r := &core.Run{
		ID:              d.string(),
		Definition:      d.string(),
		Version:         d.string(),
		State:           core.RunState(d.string()),
		Retryable:       d.bool(),
		Error:           d.string(),
		StartCursor:     d.cursor(),
		EndCursor:       d.cursor(),
		Batches:         int(d.int64()),
		ItemsCommitted:  int(d.int64()),
		ChunksCommitted: int(d.int64()),
		ImageFailures:   int(d.int64()),
		CreatedAt:       d.time(),
		StartedAt:       d.time(),
		FinishedAt:      d.time(),
	}
	if d.err != nil {
		return nil, fmt.Errorf("%w: run: %w", ErrSerializationFailed, d.err)
	}
	if !r.State.Valid() {
		return nil, fmt.Errorf("%w: run: unknown state %q", ErrSerializationFailed, r.State)
	}
	return r, nil
}

// MarshalIndexRecord serializes an IndexRecord to bytes.
func MarshalIndexRecord(r *IndexRecord) []byte {
	var s sizer
	writeIndexRecord(&s, r)
	e := newEncoder(s.n)
	writeIndexRecord(e, r)
	return e.bs
}

func writeIndexRecord(w writer, r *IndexRecord) {
	w.string(r.ID)
	w.string(r.DocumentID)
	w.string(r.Source)
	w.string(r.Title)
	w.string(r.Definition)
	w.string(r.Version)
	w.string(r.Topic)
	w.int64(int64(r.Page))
	w.int64(int64(r.ChunkIndex))
	w.string(r.Text)
	w.vector(r.Vector)
	w.time(r.ModifiedAt)
	w.strings(r.Metadata)
}

// UnmarshalIndexRecord deserializes an IndexRecord from bytes.
func UnmarshalIndexRecord(data []byte) (*IndexRecord, error) {
	d := decoder{bs: data}
	r := &IndexRecord{
		ID:         d.string(),
		DocumentID: d.string(),
		Source:     d.string(),
		Title:      d.string(),
		Definition: d.string(),
		Version:    d.string(),
		Topic:      d.string(),
		Page:       int(d.int64()),
		ChunkIndex: int(d.int64()),
		Text:       d.string(),
		Vector:     d.vector(),
		ModifiedAt: d.time(),
		Metadata:   d.strings(),
	}
	if d.err != nil {
		return nil, fmt.Errorf("%w: index record: %w", ErrSerializationFailed, d.err)
	}
	return r, nil
}

// MarshalStrings serializes a string map with keys in sorted order.
func MarshalStrings(m map[string]string) []byte {
	var s sizer
	s.strings(m)
	e := newEncoder(s.n)
	e.strings(m)
	return e.bs
}

// UnmarshalStrings deserializes a string map.
func UnmarshalStrings(data []byte) (map[string]string, error) {
	d := decoder{bs: data}
	m := d.strings()
	if d.err != nil {
		return nil, fmt.Errorf("%w: strings: %w", ErrSerializationFailed, d.err)
	}
	return m, nil
}

type writer interface {
	string(v string)
	bool(v bool)
	int64(v int64)
	time(t time.Time)
	cursor(c core.Cursor)
	vector(v []float32)
	strings(m map[string]string)
}

// unixMicros maps the zero time to 0 so it round-trips as zero.
func unixMicros(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMicro()
}

func fromUnixMicros(v int64) time.Time {
	if v == 0 {
		return time.Time{}
	}
	return time.UnixMicro(v).UTC()
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

type sizer struct {
	n int
}

func (s *sizer) string(v string)      { s.n += ord.String.Size(v) }
func (s *sizer) bool(v bool)          { s.n += ord.Bool.Size(v) }
func (s *sizer) int64(v int64)        { s.n += varint.Int64.Size(v) }
func (s *sizer) time(t time.Time)     { s.int64(unixMicros(t)) }
func (s *sizer) cursor(c core.Cursor) { s.time(c.ModifiedAt); s.string(c.ItemID) }

func (s *sizer) vector(v []float32) {
	s.int64(int64(len(v)))
	for _, f := range v {
		s.n += varint.Uint64.Size(uint64(math.Float32bits(f)))
	}
}

func (s *sizer) strings(m map[string]string) {
	s.int64(int64(len(m)))
	for _, k := range sortedKeys(m) {
		s.string(k)
		s.string(m[k])
	}
}

type encoder struct {
	bs []byte
	n  int
}

func newEncoder(size int) *encoder {
	return &encoder{bs: make([]byte, size)}
}

func (e *encoder) string(v string)      { e.n += ord.String.Marshal(v, e.bs[e.n:]) }
func (e *encoder) bool(v bool)          { e.n += ord.Bool.Marshal(v, e.bs[e.n:]) }
func (e *encoder) int64(v int64)        { e.n += varint.Int64.Marshal(v, e.bs[e.n:]) }
func (e *encoder) time(t time.Time)     { e.int64(unixMicros(t)) }
func (e *encoder) cursor(c core.Cursor) { e.time(c.ModifiedAt); e.string(c.ItemID) }

func (e *encoder) vector(v []float32) {
	e.int64(int64(len(v)))
	for _, f := range v {
		e.n += varint.Uint64.Marshal(uint64(math.Float32bits(f)), e.bs[e.n:])
	}
}

func (e *encoder) strings(m map[string]string) {
	e.int64(int64(len(m)))
	for _, k := range sortedKeys(m) {
		e.string(k)
		e.string(m[k])
	}
}

// decoder reads fields in order and keeps the first error.
type decoder struct {
	bs  []byte
	n   int
	err error
}

func (d *decoder) string() string {
	if d.err != nil {
		return ""
	}
	v, n, err := ord.String.Unmarshal(d.bs[d.n:])
	d.n += n
	d.err = err
	return v
}

func (d *decoder) bool() bool {
	if d.err != nil {
		return false
	}
	v, n, err := ord.Bool.Unmarshal(d.bs[d.n:])
	d.n += n
	d.err = err
	return v
}

func (d *decoder) int64() int64 {
	if d.err != nil {
		return 0
	}
	v, n, err := varint.Int64.Unmarshal(d.bs[d.n:])
	d.n += n
	d.err = err
	return v
}

func (d *decoder) time() time.Time {
	return fromUnixMicros(d.int64())
}

func (d *decoder) cursor() core.Cursor {
	return core.Cursor{ModifiedAt: d.time(), ItemID: d.string()}
}

func (d *decoder) vector() []float32 {
	n := d.length()
	if n == 0 {
		return nil
	}
	v := make([]float32, n)
	for i := range v {
		if d.err != nil {
			return nil
		}
		bits, read, err := varint.Uint64.Unmarshal(d.bs[d.n:])
		d.n += read
		d.err = err
		v[i] = math.Float32frombits(uint32(bits))
	}
	return v
}

func (d *decoder) strings() map[string]string {
	n := d.length()
	if n == 0 {
		return nil
	}
	m := make(map[string]string, n)
	for i := 0; i < n && d.err == nil; i++ {
		k := d.string()
		m[k] = d.string()
	}
	return m
}

// length reads a collection length and rejects values the remaining input cannot hold.
func (d *decoder) length() int {
	n := d.int64()
	if d.err != nil {
		return 0
	}
	if n < 0 || n > int64(len(d.bs)-d.n) {
		d.err = fmt.Errorf("invalid length %d", n)
		return 0
	}
	return int(n)
}
