// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package gpuselect evaluates boolean set expressions over per-element
// selection masks on the GPU.
//
// A selection is one bit per element of a large collection (points,
// primitives, splats), packed into 32-bit words in a MaskBuffer. Callers
// compose an Expr from leaf predicates and the five primitive set
// operations (union, intersection, difference, symmetric difference,
// complement), optionally extended with custom compute programs
// registered in a Registry. An Evaluator lowers the expression tree into
// a single recorded command sequence of compute dispatches and buffer
// copies, submits it, and leaves the result in a caller-supplied
// destination MaskBuffer, which can then be downloaded to host memory.
//
// Every combination step runs as a GPU dispatch; the host never touches
// mask contents except through MaskBuffer.Upload and MaskBuffer.Download.
//
// The package talks to the GPU through github.com/gogpu/wgpu/hal. It
// never creates a device on its own; see internal/device for the
// standalone bring-up used by the tests and examples, or pass a device
// shared with a host application.
package gpuselect
