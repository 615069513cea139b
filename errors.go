// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpuselect

import "errors"

// Contract errors. These indicate a programming error in the caller and
// are never retried.
var (
	// ErrCountMismatch is returned when a destination mask, a referenced
	// mask, or an element collection disagree about the element count.
	ErrCountMismatch = errors.New("gpuselect: element count mismatch")

	// ErrUnknownCustomOp is returned when an expression references a
	// custom operation index with no registered program.
	ErrUnknownCustomOp = errors.New("gpuselect: custom operation has no registered program")

	// ErrExtraCountMismatch is returned when a node supplies a different
	// number of extra resources than the selected program declares.
	ErrExtraCountMismatch = errors.New("gpuselect: extra resource count does not match declared layout")

	// ErrEvaluatorClosed is returned when using an Evaluator after Close.
	ErrEvaluatorClosed = errors.New("gpuselect: evaluator is closed")

	// ErrMissingSource is returned when an evaluation input is absent: a
	// nil destination, an empty expression, or a buffer leaf referencing
	// a destroyed mask.
	ErrMissingSource = errors.New("gpuselect: missing evaluation input")
)

// Registration errors, reported immediately by NewRegistry.
var (
	// ErrSnippetExtras is returned when a snippet operation declares
	// extra bindings. The shared dispatcher pipeline has a fixed layout,
	// so only full WGSL programs may carry extras.
	ErrSnippetExtras = errors.New("gpuselect: snippet operations cannot declare extra bindings")

	// ErrBindingCollision is returned when an extra layout declares the
	// same binding index twice.
	ErrBindingCollision = errors.New("gpuselect: duplicate binding index in extra layout")
)

// Device runtime errors, surfaced only by MaskBuffer.Download. These are
// recoverable from the caller's point of view; retry policy is theirs.
var (
	// ErrDeviceWait is returned when polling the device for completion
	// fails or times out.
	ErrDeviceWait = errors.New("gpuselect: device wait failed")

	// ErrReadback is returned when reading staged bytes back to the host
	// fails.
	ErrReadback = errors.New("gpuselect: buffer readback failed")
)
