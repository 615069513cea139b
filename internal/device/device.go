// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package device opens a HAL compute device for selection evaluation,
// either standalone over Vulkan or from a shared gpucontext provider.
package device

import (
	"fmt"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	_ "github.com/gogpu/wgpu/hal/vulkan"
)

// Handle bundles an opened device with its queue. Close releases the
// device and instance only when this package created them.
type Handle struct {
	Instance    hal.Instance
	Device      hal.Device
	Queue       hal.Queue
	AdapterName string

	external bool
}

// Standalone opens a compute-only Vulkan device, preferring a discrete
// or integrated GPU.
func Standalone() (*Handle, error) {
	backend, ok := hal.GetBackend(gputypes.BackendVulkan)
	if !ok {
		return nil, fmt.Errorf("vulkan backend not available")
	}
	instance, err := backend.CreateInstance(&hal.InstanceDescriptor{Flags: 0})
	if err != nil {
		return nil, fmt.Errorf("create instance: %w", err)
	}

	adapters := instance.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		instance.Destroy()
		return nil, fmt.Errorf("no GPU adapters found")
	}

	var selected *hal.ExposedAdapter
	for i := range adapters {
		if adapters[i].Info.DeviceType == gputypes.DeviceTypeDiscreteGPU ||
			adapters[i].Info.DeviceType == gputypes.DeviceTypeIntegratedGPU {
			selected = &adapters[i]
			break
		}
	}
	if selected == nil {
		selected = &adapters[0]
	}

	openDev, err := selected.Adapter.Open(gputypes.Features(0), gputypes.DefaultLimits())
	if err != nil {
		instance.Destroy()
		return nil, fmt.Errorf("open device: %w", err)
	}
	return &Handle{
		Instance:    instance,
		Device:      openDev.Device,
		Queue:       openDev.Queue,
		AdapterName: selected.Info.Name,
	}, nil
}

// FromProvider extracts the HAL device and queue from a shared device
// provider. The provider must expose HalDevice() any and HalQueue() any
// returning hal.Device and hal.Queue. The returned handle does not own
// the device; Close is a no-op.
func FromProvider(provider gpucontext.DeviceProvider) (*Handle, error) {
	type halProvider interface {
		HalDevice() any
		HalQueue() any
	}
	hp, ok := provider.(halProvider)
	if !ok {
		return nil, fmt.Errorf("provider does not expose HAL types")
	}
	dev, ok := hp.HalDevice().(hal.Device)
	if !ok || dev == nil {
		return nil, fmt.Errorf("provider HalDevice is not hal.Device")
	}
	queue, ok := hp.HalQueue().(hal.Queue)
	if !ok || queue == nil {
		return nil, fmt.Errorf("provider HalQueue is not hal.Queue")
	}
	return &Handle{Device: dev, Queue: queue, external: true}, nil
}

// Close destroys the device and instance for standalone handles.
func (h *Handle) Close() {
	if h.external {
		return
	}
	if h.Device != nil {
		h.Device.Destroy()
		h.Device = nil
	}
	if h.Instance != nil {
		h.Instance.Destroy()
		h.Instance = nil
	}
}
