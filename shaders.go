// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpuselect

import _ "embed"

//go:embed shaders/primitive_ops.wgsl
var primitiveOpsWGSL string

//go:embed shaders/dispatcher.wgsl
var dispatcherWGSL string

// dispatchMarker is the line in dispatcher.wgsl replaced by the spliced
// snippet branches.
const dispatchMarker = "//gpuselect:dispatch"
