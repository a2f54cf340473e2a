/*
 * MIT License
 *
 * Copyright (c) 2024 Nicolas JUHEL
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 */

// Package atomicx provides small generic lock-free value holders for fields
// read and written without taking a stream or endpoint lock: state enums,
// reference counts, and flag triples.
package atomicx

import "sync/atomic"

// Value is a type-safe wrapper around atomic.Value for any T.
type Value[T any] struct {
	v atomic.Value
}

type box[T any] struct {
	t T
}

func NewValue[T any](initial T) *Value[T] {
	v := &Value[T]{}
	v.Store(initial)
	return v
}

func (v *Value[T]) Load() T {
	var zero T
	if b, ok := v.v.Load().(box[T]); ok {
		return b.t
	}
	return zero
}

func (v *Value[T]) Store(val T) {
	v.v.Store(box[T]{t: val})
}

func (v *Value[T]) Swap(val T) T {
	old, _ := v.v.Swap(box[T]{t: val}).(box[T])
	return old.t
}

// Bool is a simple atomic boolean flag.
type Bool struct {
	v atomic.Bool
}

func NewBool(initial bool) *Bool {
	b := &Bool{}
	b.v.Store(initial)
	return b
}

func (b *Bool) Load() bool       { return b.v.Load() }
func (b *Bool) Store(val bool)   { b.v.Store(val) }
func (b *Bool) Swap(val bool) bool {
	return b.v.Swap(val)
}

// CompareAndSwap sets the flag to new only if it currently holds old,
// reporting success: Transport uses it so only one Start or Join proceeds.
func (b *Bool) CompareAndSwap(old, new bool) bool {
	return b.v.CompareAndSwap(old, new)
}

// Counter is an atomic int32 counter used for outstanding-writes and
// waiters-count bookkeeping in the Stream backpressure loop.
type Counter struct {
	v atomic.Int32
}

func (c *Counter) Load() int32    { return c.v.Load() }
func (c *Counter) Inc() int32     { return c.v.Add(1) }
func (c *Counter) Dec() int32     { return c.v.Add(-1) }
func (c *Counter) Add(d int32) int32 { return c.v.Add(d) }
