// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpuselect

import (
	"context"
	"encoding/binary"
	"fmt"
	"math/bits"
	"time"

	"github.com/gogpu/wgpu/hal"
)

// WordCount returns the number of 32-bit words needed to hold a mask
// over count elements.
func WordCount(count uint32) uint32 {
	return (count + 31) / 32
}

// Popcount returns the number of set bits in words.
func Popcount(words []uint32) int {
	total := 0
	for _, w := range words {
		total += bits.OnesCount32(w)
	}
	return total
}

// BitSet reports whether bit i is set in words.
func BitSet(words []uint32, i uint32) bool {
	return words[i/32]&(1<<(i%32)) != 0
}

// gpuWaitTimeout bounds fence waits on readback.
const gpuWaitTimeout = 5 * time.Second

// MaskBuffer is a device-resident selection mask over a fixed number of
// elements, one bit per element packed into 32-bit words. Element i
// lives at bit i%32 of word i/32. Bits past the element count in the
// final word are always zero.
//
// The storage is zero-filled at creation, so a buffer that has never
// been written reads back as the empty selection.
type MaskBuffer struct {
	device  hal.Device
	queue   hal.Queue
	count   uint32
	words   uint32
	data    hal.Buffer
	staging hal.Buffer
}

// NewMaskBuffer allocates a zero-filled mask over count elements.
func NewMaskBuffer(device hal.Device, queue hal.Queue, count uint32) (*MaskBuffer, error) {
	return NewMaskBufferLabeled(device, queue, count, "gpuselect:mask")
}

// NewMaskBufferLabeled is NewMaskBuffer with a debug label attached to
// the device allocations.
func NewMaskBufferLabeled(device hal.Device, queue hal.Queue, count uint32, label string) (*MaskBuffer, error) {
	words := WordCount(count)
	size := uint64(words) * 4
	if size < minBufferSize {
		size = minBufferSize
	}
	data, err := device.CreateBuffer(&hal.BufferDescriptor{
		Label: label,
		Size:  size,
		Usage: gpuMaskUsage,
	})
	if err != nil {
		return nil, fmt.Errorf("create mask buffer: %w", err)
	}
	staging, err := device.CreateBuffer(&hal.BufferDescriptor{
		Label: label + ":staging",
		Size:  size,
		Usage: gpuStagingUsage,
	})
	if err != nil {
		device.DestroyBuffer(data)
		return nil, fmt.Errorf("create mask staging buffer: %w", err)
	}
	if err := queue.WriteBuffer(data, 0, make([]byte, size)); err != nil {
		device.DestroyBuffer(staging)
		device.DestroyBuffer(data)
		return nil, fmt.Errorf("zero mask buffer: %w", err)
	}
	return &MaskBuffer{
		device:  device,
		queue:   queue,
		count:   count,
		words:   words,
		data:    data,
		staging: staging,
	}, nil
}

// ElementCount returns the number of elements the mask covers.
func (m *MaskBuffer) ElementCount() uint32 { return m.count }

// WordCount returns the number of 32-bit words in the mask.
func (m *MaskBuffer) WordCount() uint32 { return m.words }

// Buffer returns the underlying storage buffer.
func (m *MaskBuffer) Buffer() hal.Buffer { return m.data }

// Upload replaces the mask contents with words, which must hold exactly
// WordCount() entries. Bits past the element count must be zero; they
// are written as given.
func (m *MaskBuffer) Upload(words []uint32) error {
	if uint32(len(words)) != m.words {
		return fmt.Errorf("%w: got %d words, mask has %d", ErrCountMismatch, len(words), m.words)
	}
	if m.words == 0 {
		return nil
	}
	data := make([]byte, len(words)*4)
	for i, w := range words {
		binary.LittleEndian.PutUint32(data[i*4:], w)
	}
	if err := m.queue.WriteBuffer(m.data, 0, data); err != nil {
		return fmt.Errorf("upload mask: %w", err)
	}
	return nil
}

// Download copies the mask to the host and returns its packed words.
// It blocks until the GPU has finished all previously submitted work
// affecting the mask, bounded by an internal timeout and by ctx.
func (m *MaskBuffer) Download(ctx context.Context) ([]uint32, error) {
	if m.words == 0 {
		return []uint32{}, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	size := uint64(m.words) * 4

	encoder, err := m.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: "gpuselect:download"})
	if err != nil {
		return nil, fmt.Errorf("create command encoder: %w", err)
	}
	if err := encoder.BeginEncoding("mask download"); err != nil {
		return nil, fmt.Errorf("begin encoding: %w", err)
	}
	encoder.CopyBufferToBuffer(m.data, m.staging, []hal.BufferCopy{{
		SrcOffset: 0,
		DstOffset: 0,
		Size:      size,
	}})
	cmdBuf, err := encoder.EndEncoding()
	if err != nil {
		return nil, fmt.Errorf("end encoding: %w", err)
	}
	defer m.device.FreeCommandBuffer(cmdBuf)

	fence, err := m.device.CreateFence()
	if err != nil {
		return nil, fmt.Errorf("create fence: %w", err)
	}
	defer m.device.DestroyFence(fence)

	if err := m.queue.Submit([]hal.CommandBuffer{cmdBuf}, fence, 1); err != nil {
		return nil, fmt.Errorf("submit download: %w", err)
	}
	ok, err := m.device.Wait(fence, 1, gpuWaitTimeout)
	if err != nil || !ok {
		return nil, fmt.Errorf("%w: ok=%v err=%v", ErrDeviceWait, ok, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	raw := make([]byte, size)
	if err := m.queue.ReadBuffer(m.staging, 0, raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrReadback, err)
	}
	words := make([]uint32, m.words)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(raw[i*4:])
	}
	return words, nil
}

// Destroy releases the device allocations. The mask must not be used
// afterwards, and must not be referenced by any in-flight evaluation.
func (m *MaskBuffer) Destroy() {
	if m.staging != nil {
		m.device.DestroyBuffer(m.staging)
		m.staging = nil
	}
	if m.data != nil {
		m.device.DestroyBuffer(m.data)
		m.data = nil
	}
}
