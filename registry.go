// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpuselect

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/naga"
	"github.com/gogpu/wgpu/hal"
)

// workgroupSize is the compute workgroup size used by every selection
// program in this package. Shaders registered with full WGSL sources
// must use the same size.
const workgroupSize = 256

// Standard group(0) binding slots shared by every selection program.
const (
	bindingOp               = 0 // uniform: op code + element count
	bindingSource           = 1 // read-only storage: source mask words
	bindingDest             = 2 // read-write storage: destination mask words (atomic)
	bindingModelTransform   = 3 // uniform: mat4x4 model transform
	bindingElementTransform = 4 // uniform: mat4x4 element transform
	bindingElements         = 5 // read-only storage: per-element data
)

// CustomOp describes one custom selection operation to register.
//
// Snippet operations supply a WGSL statement block that the registry
// splices into a shared dispatcher program; they run against the six
// standard bindings only and must not declare Extra entries. Full
// operations supply a complete WGSL compute program declaring the
// standard group(0) bindings (or the subset it reads) plus, when Extra
// is non-empty, a group(1) with the listed entries.
type CustomOp struct {
	// Name identifies the operation in logs and errors. Optional.
	Name string

	// WGSL is either a statement block (Snippet true) or a complete
	// compute program (Snippet false).
	WGSL string

	// EntryPoint names the compute entry point of a full program.
	// Defaults to "main". Ignored for snippets.
	EntryPoint string

	// Snippet selects the spliced-dispatcher registration strategy.
	Snippet bool

	// Extra lists additional group(1) resources the program binds, in
	// binding order. Only full programs may declare extras.
	Extra []gputypes.BindGroupLayoutEntry
}

type opEntry struct {
	name        string
	snippet     bool
	pipeline    hal.ComputePipeline
	layout      hal.PipelineLayout // nil for snippets (dispatcher layout is shared)
	extraLayout hal.BindGroupLayout
	extra       []gputypes.BindGroupLayoutEntry
}

// Registry compiles and owns the compute pipelines for the primitive
// set operations and a fixed set of custom operations. Custom operation
// i is addressed by expressions as op index i (op code CustomOpStart+i).
//
// A Registry is immutable after construction and safe for concurrent
// reads. Close releases all GPU resources.
type Registry struct {
	device hal.Device

	group0 hal.BindGroupLayout

	primitiveModule   hal.ShaderModule
	primitiveLayout   hal.PipelineLayout
	primitivePipeline hal.ComputePipeline

	dispatcherModule   hal.ShaderModule
	dispatcherLayout   hal.PipelineLayout
	dispatcherPipeline hal.ComputePipeline

	// Full-program shader modules, deduplicated by source hash.
	modules map[uint64]hal.ShaderModule

	ops []opEntry
}

// standardLayoutEntries returns the shared group(0) layout: the six
// binding slots every selection program dispatches against.
func standardLayoutEntries() []gputypes.BindGroupLayoutEntry {
	uniform := func(binding uint32) gputypes.BindGroupLayoutEntry {
		return gputypes.BindGroupLayoutEntry{
			Binding:    binding,
			Visibility: gputypes.ShaderStageCompute,
			Buffer:     &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeUniform},
		}
	}
	storageRO := func(binding uint32) gputypes.BindGroupLayoutEntry {
		return gputypes.BindGroupLayoutEntry{
			Binding:    binding,
			Visibility: gputypes.ShaderStageCompute,
			Buffer:     &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeReadOnlyStorage},
		}
	}
	storageRW := func(binding uint32) gputypes.BindGroupLayoutEntry {
		return gputypes.BindGroupLayoutEntry{
			Binding:    binding,
			Visibility: gputypes.ShaderStageCompute,
			Buffer:     &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeStorage},
		}
	}
	return []gputypes.BindGroupLayoutEntry{
		uniform(bindingOp),
		storageRO(bindingSource),
		storageRW(bindingDest),
		uniform(bindingModelTransform),
		uniform(bindingElementTransform),
		storageRO(bindingElements),
	}
}

// buildDispatcherSource splices the snippet branches into the
// dispatcher template. snippets maps op code to statement block.
func buildDispatcherSource(template string, snippets map[uint32]string) (string, error) {
	if !strings.Contains(template, dispatchMarker) {
		return "", fmt.Errorf("dispatcher template missing %q marker", dispatchMarker)
	}
	codes := slices.Sorted(maps.Keys(snippets))
	var b strings.Builder
	for _, code := range codes {
		fmt.Fprintf(&b, "if (params.op == %du) {\n", code)
		b.WriteString(snippets[code])
		b.WriteString("\nreturn;\n}\n")
	}
	return strings.Replace(template, dispatchMarker, b.String(), 1), nil
}

// NewRegistry validates ops and compiles every pipeline eagerly: the
// primitive program, one spliced dispatcher shared by all snippet
// operations, and one pipeline per full-program operation. Identical
// full-program sources share a shader module.
func NewRegistry(device hal.Device, ops []CustomOp) (*Registry, error) {
	for i, op := range ops {
		if op.WGSL == "" {
			return nil, fmt.Errorf("custom op %d (%s): empty WGSL source", i, opName(op, i))
		}
		if op.Snippet && len(op.Extra) > 0 {
			return nil, fmt.Errorf("%w: op %d (%s) declares %d extra bindings",
				ErrSnippetExtras, i, opName(op, i), len(op.Extra))
		}
		seen := make(map[uint32]bool, len(op.Extra))
		for _, e := range op.Extra {
			if seen[e.Binding] {
				return nil, fmt.Errorf("%w: op %d (%s) binding %d",
					ErrBindingCollision, i, opName(op, i), e.Binding)
			}
			seen[e.Binding] = true
		}
	}

	r := &Registry{
		device:  device,
		modules: make(map[uint64]hal.ShaderModule),
		ops:     make([]opEntry, len(ops)),
	}

	group0, err := device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label:   "gpuselect_bgl",
		Entries: standardLayoutEntries(),
	})
	if err != nil {
		return nil, fmt.Errorf("create bind group layout: %w", err)
	}
	r.group0 = group0

	if err := r.initPrimitive(); err != nil {
		r.Close()
		return nil, err
	}

	snippets := make(map[uint32]string)
	for i, op := range ops {
		if op.Snippet {
			snippets[CustomOpStart+uint32(i)] = op.WGSL
		}
	}
	if len(snippets) > 0 {
		if err := r.initDispatcher(snippets); err != nil {
			r.Close()
			return nil, err
		}
	}

	for i, op := range ops {
		entry, err := r.initOp(i, op)
		if err != nil {
			r.Close()
			return nil, err
		}
		r.ops[i] = entry
	}

	slogger().Debug("selection registry ready",
		"customOps", len(ops),
		"snippets", len(snippets))
	return r, nil
}

func opName(op CustomOp, i int) string {
	if op.Name != "" {
		return op.Name
	}
	return fmt.Sprintf("op%d", i)
}

func (r *Registry) initPrimitive() error {
	module, err := r.device.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  "gpuselect_primitive",
		Source: hal.ShaderSource{WGSL: primitiveOpsWGSL},
	})
	if err != nil {
		return fmt.Errorf("create primitive shader module: %w", err)
	}
	r.primitiveModule = module

	layout, err := r.device.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label:            "gpuselect_primitive_pl",
		BindGroupLayouts: []hal.BindGroupLayout{r.group0},
	})
	if err != nil {
		return fmt.Errorf("create primitive pipeline layout: %w", err)
	}
	r.primitiveLayout = layout

	pipeline, err := r.device.CreateComputePipeline(&hal.ComputePipelineDescriptor{
		Label:  "gpuselect_primitive",
		Layout: layout,
		Compute: hal.ComputeState{
			Module:     module,
			EntryPoint: "main",
		},
	})
	if err != nil {
		return fmt.Errorf("create primitive pipeline: %w", err)
	}
	r.primitivePipeline = pipeline
	return nil
}

func (r *Registry) initDispatcher(snippets map[uint32]string) error {
	src, err := buildDispatcherSource(dispatcherWGSL, snippets)
	if err != nil {
		return err
	}
	// Snippets are arbitrary text, so compile through naga up front to
	// surface splice errors with the full source context.
	spirv, err := compileWGSL(src)
	if err != nil {
		return fmt.Errorf("compile dispatcher: %w", err)
	}
	module, err := r.device.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  "gpuselect_dispatcher",
		Source: hal.ShaderSource{SPIRV: spirv},
	})
	if err != nil {
		return fmt.Errorf("create dispatcher shader module: %w", err)
	}
	r.dispatcherModule = module

	layout, err := r.device.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label:            "gpuselect_dispatcher_pl",
		BindGroupLayouts: []hal.BindGroupLayout{r.group0},
	})
	if err != nil {
		return fmt.Errorf("create dispatcher pipeline layout: %w", err)
	}
	r.dispatcherLayout = layout

	pipeline, err := r.device.CreateComputePipeline(&hal.ComputePipelineDescriptor{
		Label:  "gpuselect_dispatcher",
		Layout: layout,
		Compute: hal.ComputeState{
			Module:     module,
			EntryPoint: "main",
		},
	})
	if err != nil {
		return fmt.Errorf("create dispatcher pipeline: %w", err)
	}
	r.dispatcherPipeline = pipeline
	return nil
}

func (r *Registry) initOp(i int, op CustomOp) (opEntry, error) {
	name := opName(op, i)
	if op.Snippet {
		return opEntry{
			name:     name,
			snippet:  true,
			pipeline: r.dispatcherPipeline,
		}, nil
	}

	hash := xxhash.Sum64String(op.WGSL)
	module, ok := r.modules[hash]
	if !ok {
		var err error
		module, err = r.device.CreateShaderModule(&hal.ShaderModuleDescriptor{
			Label:  "gpuselect_" + name,
			Source: hal.ShaderSource{WGSL: op.WGSL},
		})
		if err != nil {
			return opEntry{}, fmt.Errorf("create shader module for op %d (%s): %w", i, name, err)
		}
		r.modules[hash] = module
	}

	layouts := []hal.BindGroupLayout{r.group0}
	var extraLayout hal.BindGroupLayout
	if len(op.Extra) > 0 {
		var err error
		extraLayout, err = r.device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
			Label:   "gpuselect_" + name + "_extra",
			Entries: op.Extra,
		})
		if err != nil {
			return opEntry{}, fmt.Errorf("create extra layout for op %d (%s): %w", i, name, err)
		}
		layouts = append(layouts, extraLayout)
	}

	layout, err := r.device.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label:            "gpuselect_" + name + "_pl",
		BindGroupLayouts: layouts,
	})
	if err != nil {
		if extraLayout != nil {
			r.device.DestroyBindGroupLayout(extraLayout)
		}
		return opEntry{}, fmt.Errorf("create pipeline layout for op %d (%s): %w", i, name, err)
	}

	entryPoint := op.EntryPoint
	if entryPoint == "" {
		entryPoint = "main"
	}
	pipeline, err := r.device.CreateComputePipeline(&hal.ComputePipelineDescriptor{
		Label:  "gpuselect_" + name,
		Layout: layout,
		Compute: hal.ComputeState{
			Module:     module,
			EntryPoint: entryPoint,
		},
	})
	if err != nil {
		r.device.DestroyPipelineLayout(layout)
		if extraLayout != nil {
			r.device.DestroyBindGroupLayout(extraLayout)
		}
		return opEntry{}, fmt.Errorf("create pipeline for op %d (%s): %w", i, name, err)
	}

	return opEntry{
		name:        name,
		snippet:     false,
		pipeline:    pipeline,
		layout:      layout,
		extraLayout: extraLayout,
		extra:       op.Extra,
	}, nil
}

// compileWGSL compiles WGSL source to SPIR-V words.
func compileWGSL(src string) ([]uint32, error) {
	spirvBytes, err := naga.Compile(src)
	if err != nil {
		return nil, err
	}
	words := make([]uint32, len(spirvBytes)/4)
	for i := range words {
		words[i] = uint32(spirvBytes[i*4]) |
			uint32(spirvBytes[i*4+1])<<8 |
			uint32(spirvBytes[i*4+2])<<16 |
			uint32(spirvBytes[i*4+3])<<24
	}
	return words, nil
}

// NumOps returns the number of registered custom operations.
func (r *Registry) NumOps() int { return len(r.ops) }

// OpName returns the name of custom operation op.
func (r *Registry) OpName(op uint32) string {
	if int(op) >= len(r.ops) {
		return ""
	}
	return r.ops[op].name
}

// Layout returns the shared standard bind group layout.
func (r *Registry) Layout() hal.BindGroupLayout { return r.group0 }

// pipelineFor returns the pipeline to dispatch for custom operation op.
func (r *Registry) pipelineFor(op uint32) (hal.ComputePipeline, error) {
	if int(op) >= len(r.ops) {
		return nil, fmt.Errorf("%w: op index %d, registry has %d", ErrUnknownCustomOp, op, len(r.ops))
	}
	return r.ops[op].pipeline, nil
}

// extraFor returns the extra bind group layout and its entries for
// custom operation op. The layout is nil when the operation declares no
// extras.
func (r *Registry) extraFor(op uint32) (hal.BindGroupLayout, []gputypes.BindGroupLayoutEntry, error) {
	if int(op) >= len(r.ops) {
		return nil, nil, fmt.Errorf("%w: op index %d, registry has %d", ErrUnknownCustomOp, op, len(r.ops))
	}
	return r.ops[op].extraLayout, r.ops[op].extra, nil
}

// Close releases every pipeline, layout and shader module the registry
// owns. Safe to call more than once.
func (r *Registry) Close() {
	for i := range r.ops {
		e := &r.ops[i]
		if e.snippet {
			continue
		}
		if e.pipeline != nil {
			r.device.DestroyComputePipeline(e.pipeline)
			e.pipeline = nil
		}
		if e.layout != nil {
			r.device.DestroyPipelineLayout(e.layout)
			e.layout = nil
		}
		if e.extraLayout != nil {
			r.device.DestroyBindGroupLayout(e.extraLayout)
			e.extraLayout = nil
		}
	}
	for hash, module := range r.modules {
		r.device.DestroyShaderModule(module)
		delete(r.modules, hash)
	}
	if r.dispatcherPipeline != nil {
		r.device.DestroyComputePipeline(r.dispatcherPipeline)
		r.dispatcherPipeline = nil
	}
	if r.dispatcherLayout != nil {
		r.device.DestroyPipelineLayout(r.dispatcherLayout)
		r.dispatcherLayout = nil
	}
	if r.dispatcherModule != nil {
		r.device.DestroyShaderModule(r.dispatcherModule)
		r.dispatcherModule = nil
	}
	if r.primitivePipeline != nil {
		r.device.DestroyComputePipeline(r.primitivePipeline)
		r.primitivePipeline = nil
	}
	if r.primitiveLayout != nil {
		r.device.DestroyPipelineLayout(r.primitiveLayout)
		r.primitiveLayout = nil
	}
	if r.primitiveModule != nil {
		r.device.DestroyShaderModule(r.primitiveModule)
		r.primitiveModule = nil
	}
	if r.group0 != nil {
		r.device.DestroyBindGroupLayout(r.group0)
		r.group0 = nil
	}
}
