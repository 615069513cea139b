// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpuselect

import (
	"encoding/binary"
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// Buffer usage combinations shared by the wrapper types and MaskBuffer.
const (
	gpuUniformUsage = gputypes.BufferUsageUniform | gputypes.BufferUsageCopyDst
	gpuStorageUsage = gputypes.BufferUsageStorage | gputypes.BufferUsageCopyDst
	gpuMaskUsage    = gputypes.BufferUsageStorage | gputypes.BufferUsageCopySrc | gputypes.BufferUsageCopyDst
	gpuStagingUsage = gputypes.BufferUsageMapRead | gputypes.BufferUsageCopyDst
)

// BufferWrapper is a GPU buffer usable as an extra resource of a custom
// operation. The concrete wrappers in this package (UniformBuffer,
// ElementBuffer, TransformBuffer) all satisfy it; callers may supply
// their own as long as the underlying buffer matches the operation's
// declared layout.
type BufferWrapper interface {
	Buffer() hal.Buffer
}

// minBufferSize is the smallest allocation requested from the device.
// Zero-sized buffers are rejected by backends.
const minBufferSize = 4

// opUniformSize is the byte size of the per-dispatch parameter uniform:
// a u32 op code followed by a u32 element count.
const opUniformSize = 8

// opBuffer is the uniform carrying the op code and element count for a
// single dispatch.
type opBuffer struct {
	device hal.Device
	buf    hal.Buffer
}

func newOpBuffer(device hal.Device, queue hal.Queue, op, count uint32) (*opBuffer, error) {
	buf, err := device.CreateBuffer(&hal.BufferDescriptor{
		Label: "gpuselect:op",
		Size:  opUniformSize,
		Usage: gpuUniformUsage,
	})
	if err != nil {
		return nil, fmt.Errorf("create op uniform: %w", err)
	}
	var data [opUniformSize]byte
	binary.LittleEndian.PutUint32(data[0:], op)
	binary.LittleEndian.PutUint32(data[4:], count)
	if err := queue.WriteBuffer(buf, 0, data[:]); err != nil {
		device.DestroyBuffer(buf)
		return nil, fmt.Errorf("write op uniform: %w", err)
	}
	return &opBuffer{device: device, buf: buf}, nil
}

func (o *opBuffer) Buffer() hal.Buffer { return o.buf }

func (o *opBuffer) Destroy() {
	if o.buf != nil {
		o.device.DestroyBuffer(o.buf)
		o.buf = nil
	}
}

// UniformBuffer is a caller-managed uniform buffer for custom operation
// parameters.
type UniformBuffer struct {
	device hal.Device
	queue  hal.Queue
	buf    hal.Buffer
	size   uint64
}

// NewUniformBuffer allocates a uniform buffer holding data. The contents
// can be replaced later with Set.
func NewUniformBuffer(device hal.Device, queue hal.Queue, data []byte) (*UniformBuffer, error) {
	size := uint64(len(data))
	if size < minBufferSize {
		size = minBufferSize
	}
	buf, err := device.CreateBuffer(&hal.BufferDescriptor{
		Label: "gpuselect:uniform",
		Size:  size,
		Usage: gpuUniformUsage,
	})
	if err != nil {
		return nil, fmt.Errorf("create uniform buffer: %w", err)
	}
	u := &UniformBuffer{device: device, queue: queue, buf: buf, size: size}
	if len(data) > 0 {
		if err := queue.WriteBuffer(buf, 0, data); err != nil {
			u.Destroy()
			return nil, fmt.Errorf("write uniform buffer: %w", err)
		}
	}
	return u, nil
}

// Buffer returns the underlying device buffer.
func (u *UniformBuffer) Buffer() hal.Buffer { return u.buf }

// Size returns the allocated size in bytes.
func (u *UniformBuffer) Size() uint64 { return u.size }

// Set replaces the buffer contents starting at offset zero.
func (u *UniformBuffer) Set(data []byte) error {
	if uint64(len(data)) > u.size {
		return fmt.Errorf("uniform data %d bytes exceeds buffer size %d", len(data), u.size)
	}
	return u.queue.WriteBuffer(u.buf, 0, data)
}

// Destroy releases the device buffer. The wrapper must not be used
// afterwards.
func (u *UniformBuffer) Destroy() {
	if u.buf != nil {
		u.device.DestroyBuffer(u.buf)
		u.buf = nil
	}
}

// ShapeKind discriminates the built-in selection volumes.
type ShapeKind uint32

const (
	// ShapeBox selects elements inside the unit box spanning ±1 on each
	// axis, placed by the shape transform.
	ShapeBox ShapeKind = iota
	// ShapeEllipsoid selects elements inside the unit sphere, placed by
	// the shape transform.
	ShapeEllipsoid
)

// Shape is a placed selection volume: a unit box or unit sphere
// positioned, rotated and scaled by Transform. Programs receive the
// INVERSE of Transform and test points in the shape's local space.
type Shape struct {
	Kind      ShapeKind
	Transform Mat4
}

// BoxShape returns a box shape placed by transform.
func BoxShape(transform Mat4) Shape {
	return Shape{Kind: ShapeBox, Transform: transform}
}

// EllipsoidShape returns an ellipsoid shape placed by transform.
func EllipsoidShape(transform Mat4) Shape {
	return Shape{Kind: ShapeEllipsoid, Transform: transform}
}

// shapePodSize is the byte size of the shape uniform: kind u32, three
// u32 of padding, then the inverse transform mat4x4<f32> at offset 16.
const shapePodSize = 80

// podBytes encodes the shape for the GPU, inverting the placement
// transform.
func (s Shape) podBytes() ([]byte, error) {
	inv, ok := s.Transform.Inverse()
	if !ok {
		return nil, fmt.Errorf("shape transform is singular")
	}
	out := make([]byte, shapePodSize)
	binary.LittleEndian.PutUint32(out[0:], uint32(s.Kind))
	copy(out[16:], inv.bytes())
	return out, nil
}

// ShapeBuffer is a uniform buffer holding one shape pod, the
// conventional extra resource of shape selection programs. The WGSL
// side declares it as
//
//	struct Shape {
//	    kind: u32,
//	    inv_transform: mat4x4<f32>,
//	}
type ShapeBuffer struct {
	device hal.Device
	queue  hal.Queue
	buf    hal.Buffer
}

// NewShapeBuffer allocates a shape uniform initialized to shape. The
// shape's transform must be invertible.
func NewShapeBuffer(device hal.Device, queue hal.Queue, shape Shape) (*ShapeBuffer, error) {
	data, err := shape.podBytes()
	if err != nil {
		return nil, err
	}
	buf, err := device.CreateBuffer(&hal.BufferDescriptor{
		Label: "gpuselect:shape",
		Size:  shapePodSize,
		Usage: gpuUniformUsage,
	})
	if err != nil {
		return nil, fmt.Errorf("create shape buffer: %w", err)
	}
	s := &ShapeBuffer{device: device, queue: queue, buf: buf}
	if err := queue.WriteBuffer(buf, 0, data); err != nil {
		s.Destroy()
		return nil, fmt.Errorf("write shape buffer: %w", err)
	}
	return s, nil
}

// Buffer returns the underlying device buffer.
func (s *ShapeBuffer) Buffer() hal.Buffer { return s.buf }

// Set replaces the stored shape.
func (s *ShapeBuffer) Set(shape Shape) error {
	data, err := shape.podBytes()
	if err != nil {
		return err
	}
	if err := s.queue.WriteBuffer(s.buf, 0, data); err != nil {
		return fmt.Errorf("write shape buffer: %w", err)
	}
	return nil
}

// Destroy releases the device buffer.
func (s *ShapeBuffer) Destroy() {
	if s.buf != nil {
		s.device.DestroyBuffer(s.buf)
		s.buf = nil
	}
}

// ElementBuffer is a read-only storage buffer holding per-element data
// (positions, attributes) consulted by selection programs.
type ElementBuffer struct {
	device hal.Device
	buf    hal.Buffer
	count  uint32
}

// NewElementBuffer uploads data as a storage buffer describing count
// elements. count is the logical element count, independent of the
// per-element stride.
func NewElementBuffer(device hal.Device, queue hal.Queue, data []byte, count uint32) (*ElementBuffer, error) {
	size := uint64(len(data))
	if size < minBufferSize {
		size = minBufferSize
	}
	buf, err := device.CreateBuffer(&hal.BufferDescriptor{
		Label: "gpuselect:elements",
		Size:  size,
		Usage: gpuStorageUsage,
	})
	if err != nil {
		return nil, fmt.Errorf("create element buffer: %w", err)
	}
	if len(data) > 0 {
		if err := queue.WriteBuffer(buf, 0, data); err != nil {
			device.DestroyBuffer(buf)
			return nil, fmt.Errorf("write element buffer: %w", err)
		}
	}
	return &ElementBuffer{device: device, buf: buf, count: count}, nil
}

// Buffer returns the underlying device buffer.
func (b *ElementBuffer) Buffer() hal.Buffer { return b.buf }

// Len returns the logical element count.
func (b *ElementBuffer) Len() uint32 { return b.count }

// Destroy releases the device buffer.
func (b *ElementBuffer) Destroy() {
	if b.buf != nil {
		b.device.DestroyBuffer(b.buf)
		b.buf = nil
	}
}
