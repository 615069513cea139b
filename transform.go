// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpuselect

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/gogpu/wgpu/hal"
)

// Mat4 is a 4x4 float32 matrix in column-major order, matching the WGSL
// mat4x4<f32> layout.
type Mat4 [16]float32

// Mat4Identity returns the identity matrix.
func Mat4Identity() Mat4 {
	return Mat4{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	}
}

// Mat4Translate returns a translation matrix.
func Mat4Translate(x, y, z float32) Mat4 {
	m := Mat4Identity()
	m[12], m[13], m[14] = x, y, z
	return m
}

// Mat4Scale returns a scale matrix.
func Mat4Scale(x, y, z float32) Mat4 {
	m := Mat4Identity()
	m[0], m[5], m[10] = x, y, z
	return m
}

// Mul returns the product m * n, applying n first.
func (m Mat4) Mul(n Mat4) Mat4 {
	var r Mat4
	for col := 0; col < 4; col++ {
		for row := 0; row < 4; row++ {
			var sum float32
			for k := 0; k < 4; k++ {
				sum += m[k*4+row] * n[col*4+k]
			}
			r[col*4+row] = sum
		}
	}
	return r
}

// Inverse returns the inverse of m. ok is false when m is singular, in
// which case the identity is returned.
func (m Mat4) Inverse() (inv Mat4, ok bool) {
	// Cofactor expansion, column-major indices.
	a := m
	inv[0] = a[5]*a[10]*a[15] - a[5]*a[11]*a[14] - a[9]*a[6]*a[15] +
		a[9]*a[7]*a[14] + a[13]*a[6]*a[11] - a[13]*a[7]*a[10]
	inv[4] = -a[4]*a[10]*a[15] + a[4]*a[11]*a[14] + a[8]*a[6]*a[15] -
		a[8]*a[7]*a[14] - a[12]*a[6]*a[11] + a[12]*a[7]*a[10]
	inv[8] = a[4]*a[9]*a[15] - a[4]*a[11]*a[13] - a[8]*a[5]*a[15] +
		a[8]*a[7]*a[13] + a[12]*a[5]*a[11] - a[12]*a[7]*a[9]
	inv[12] = -a[4]*a[9]*a[14] + a[4]*a[10]*a[13] + a[8]*a[5]*a[14] -
		a[8]*a[6]*a[13] - a[12]*a[5]*a[10] + a[12]*a[6]*a[9]
	inv[1] = -a[1]*a[10]*a[15] + a[1]*a[11]*a[14] + a[9]*a[2]*a[15] -
		a[9]*a[3]*a[14] - a[13]*a[2]*a[11] + a[13]*a[3]*a[10]
	inv[5] = a[0]*a[10]*a[15] - a[0]*a[11]*a[14] - a[8]*a[2]*a[15] +
		a[8]*a[3]*a[14] + a[12]*a[2]*a[11] - a[12]*a[3]*a[10]
	inv[9] = -a[0]*a[9]*a[15] + a[0]*a[11]*a[13] + a[8]*a[1]*a[15] -
		a[8]*a[3]*a[13] - a[12]*a[1]*a[11] + a[12]*a[3]*a[9]
	inv[13] = a[0]*a[9]*a[14] - a[0]*a[10]*a[13] - a[8]*a[1]*a[14] +
		a[8]*a[2]*a[13] + a[12]*a[1]*a[10] - a[12]*a[2]*a[9]
	inv[2] = a[1]*a[6]*a[15] - a[1]*a[7]*a[14] - a[5]*a[2]*a[15] +
		a[5]*a[3]*a[14] + a[13]*a[2]*a[7] - a[13]*a[3]*a[6]
	inv[6] = -a[0]*a[6]*a[15] + a[0]*a[7]*a[14] + a[4]*a[2]*a[15] -
		a[4]*a[3]*a[14] - a[12]*a[2]*a[7] + a[12]*a[3]*a[6]
	inv[10] = a[0]*a[5]*a[15] - a[0]*a[7]*a[13] - a[4]*a[1]*a[15] +
		a[4]*a[3]*a[13] + a[12]*a[1]*a[7] - a[12]*a[3]*a[5]
	inv[14] = -a[0]*a[5]*a[14] + a[0]*a[6]*a[13] + a[4]*a[1]*a[14] -
		a[4]*a[2]*a[13] - a[12]*a[1]*a[6] + a[12]*a[2]*a[5]
	inv[3] = -a[1]*a[6]*a[11] + a[1]*a[7]*a[10] + a[5]*a[2]*a[11] -
		a[5]*a[3]*a[10] - a[9]*a[2]*a[7] + a[9]*a[3]*a[6]
	inv[7] = a[0]*a[6]*a[11] - a[0]*a[7]*a[10] - a[4]*a[2]*a[11] +
		a[4]*a[3]*a[10] + a[8]*a[2]*a[7] - a[8]*a[3]*a[6]
	inv[11] = -a[0]*a[5]*a[11] + a[0]*a[7]*a[9] + a[4]*a[1]*a[11] -
		a[4]*a[3]*a[9] - a[8]*a[1]*a[7] + a[8]*a[3]*a[5]
	inv[15] = a[0]*a[5]*a[10] - a[0]*a[6]*a[9] - a[4]*a[1]*a[10] +
		a[4]*a[2]*a[9] + a[8]*a[1]*a[6] - a[8]*a[2]*a[5]

	det := a[0]*inv[0] + a[1]*inv[4] + a[2]*inv[8] + a[3]*inv[12]
	if det == 0 || math.IsNaN(float64(det)) || math.IsInf(float64(det), 0) {
		return Mat4Identity(), false
	}
	d := 1 / det
	for i := range inv {
		inv[i] *= d
	}
	return inv, true
}

// bytes encodes the matrix as 64 little-endian bytes.
func (m Mat4) bytes() []byte {
	out := make([]byte, 64)
	for i, v := range m {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(v))
	}
	return out
}

// transformUniformSize is the byte size of a mat4x4<f32> uniform.
const transformUniformSize = 64

// TransformBuffer is a uniform buffer holding a single 4x4 matrix, used
// for the model and element transform slots.
type TransformBuffer struct {
	device hal.Device
	queue  hal.Queue
	buf    hal.Buffer
}

// NewTransformBuffer allocates a transform uniform initialized to m.
func NewTransformBuffer(device hal.Device, queue hal.Queue, m Mat4) (*TransformBuffer, error) {
	buf, err := device.CreateBuffer(&hal.BufferDescriptor{
		Label: "gpuselect:transform",
		Size:  transformUniformSize,
		Usage: gpuUniformUsage,
	})
	if err != nil {
		return nil, fmt.Errorf("create transform buffer: %w", err)
	}
	t := &TransformBuffer{device: device, queue: queue, buf: buf}
	if err := t.Set(m); err != nil {
		t.Destroy()
		return nil, err
	}
	return t, nil
}

// Buffer returns the underlying device buffer.
func (t *TransformBuffer) Buffer() hal.Buffer { return t.buf }

// Set replaces the stored matrix.
func (t *TransformBuffer) Set(m Mat4) error {
	if err := t.queue.WriteBuffer(t.buf, 0, m.bytes()); err != nil {
		return fmt.Errorf("write transform buffer: %w", err)
	}
	return nil
}

// Destroy releases the device buffer.
func (t *TransformBuffer) Destroy() {
	if t.buf != nil {
		t.device.DestroyBuffer(t.buf)
		t.buf = nil
	}
}
