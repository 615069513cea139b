// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpuselect

import (
	"fmt"
	"sync"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// Evaluator lowers selection expressions to compute dispatches against
// a destination mask.
//
// Evaluate records and submits the work without waiting for it; the
// result becomes observable through MaskBuffer.Download, which
// synchronizes with the device. Resources of an in-flight evaluation
// (temporaries, bind groups, uniforms) are reclaimed on the next
// Evaluate call or on Close, after a fence wait.
//
// An Evaluator owns its Registry and closes it on Close. Methods are
// safe for concurrent use; evaluations are serialized.
type Evaluator struct {
	mu       sync.Mutex
	device   hal.Device
	queue    hal.Queue
	registry *Registry

	// scratch fills the source slot of dispatches that read no source
	// mask: unary operations, complement and selection leaves.
	scratch hal.Buffer

	// identity transform bound when the caller passes nil.
	identity *TransformBuffer

	pending *frameResources
	closed  bool
}

// frameResources holds everything one submitted evaluation keeps alive
// until its fence signals.
type frameResources struct {
	device     hal.Device
	fence      hal.Fence
	cmdBuf     hal.CommandBuffer
	bindGroups []hal.BindGroup
	temps      []hal.Buffer
	opBufs     []*opBuffer
}

func (fr *frameResources) release() {
	for _, bg := range fr.bindGroups {
		fr.device.DestroyBindGroup(bg)
	}
	fr.bindGroups = nil
	for _, ob := range fr.opBufs {
		ob.Destroy()
	}
	fr.opBufs = nil
	for _, t := range fr.temps {
		fr.device.DestroyBuffer(t)
	}
	fr.temps = nil
	if fr.cmdBuf != nil {
		fr.device.FreeCommandBuffer(fr.cmdBuf)
		fr.cmdBuf = nil
	}
	if fr.fence != nil {
		fr.device.DestroyFence(fr.fence)
		fr.fence = nil
	}
}

// NewEvaluator creates an evaluator over device and queue. The registry
// is adopted: closing the evaluator closes it.
func NewEvaluator(device hal.Device, queue hal.Queue, registry *Registry) (*Evaluator, error) {
	scratch, err := device.CreateBuffer(&hal.BufferDescriptor{
		Label: "gpuselect:scratch",
		Size:  minBufferSize,
		Usage: gpuMaskUsage,
	})
	if err != nil {
		return nil, fmt.Errorf("create scratch buffer: %w", err)
	}
	if err := queue.WriteBuffer(scratch, 0, make([]byte, minBufferSize)); err != nil {
		device.DestroyBuffer(scratch)
		return nil, fmt.Errorf("zero scratch buffer: %w", err)
	}
	identity, err := NewTransformBuffer(device, queue, Mat4Identity())
	if err != nil {
		device.DestroyBuffer(scratch)
		return nil, err
	}
	return &Evaluator{
		device:   device,
		queue:    queue,
		registry: registry,
		scratch:  scratch,
		identity: identity,
	}, nil
}

// reclaim waits for the previous evaluation's fence and frees its
// resources. Caller holds e.mu.
func (e *Evaluator) reclaim() error {
	if e.pending == nil {
		return nil
	}
	ok, err := e.device.Wait(e.pending.fence, 1, gpuWaitTimeout)
	if err != nil || !ok {
		return fmt.Errorf("%w: ok=%v err=%v", ErrDeviceWait, ok, err)
	}
	e.pending.release()
	e.pending = nil
	return nil
}

// frame carries the per-evaluation state threaded through lowering.
type frame struct {
	expr     *Expr
	count    uint32
	words    uint32
	encoder  hal.CommandEncoder
	res      *frameResources
	elements hal.Buffer
	model    hal.Buffer
	element  hal.Buffer
}

// Evaluate lowers expr against dest and submits the resulting compute
// work. dest holds the result once the device finishes; Download on it
// synchronizes.
//
// elements supplies the per-element data slot read by custom programs;
// nil binds a placeholder. Its logical count, when set, must match the
// destination's. modelTransform and elementTransform fill the two
// transform slots; nil binds the identity.
//
// An identity expression records nothing and leaves dest untouched.
func (e *Evaluator) Evaluate(expr Expr, dest *MaskBuffer, elements *ElementBuffer, modelTransform, elementTransform *TransformBuffer) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrEvaluatorClosed
	}
	if dest == nil {
		return fmt.Errorf("%w: nil destination mask", ErrMissingSource)
	}
	if expr.Len() == 0 {
		return fmt.Errorf("%w: empty expression", ErrMissingSource)
	}
	count := dest.ElementCount()
	if elements != nil && elements.Len() != count {
		return fmt.Errorf("%w: destination has %d elements, element buffer has %d",
			ErrCountMismatch, count, elements.Len())
	}
	if err := e.validate(expr, count); err != nil {
		return err
	}

	if err := e.reclaim(); err != nil {
		return err
	}

	if expr.IsIdentity() && expr.Len() == 1 {
		return nil
	}
	if count == 0 {
		return nil
	}

	f := &frame{
		expr:    &expr,
		count:   count,
		words:   WordCount(count),
		res:     &frameResources{device: e.device},
		model:   e.identity.Buffer(),
		element: e.identity.Buffer(),
	}
	if elements != nil {
		f.elements = elements.Buffer()
	} else {
		f.elements = e.scratch
	}
	if modelTransform != nil {
		f.model = modelTransform.Buffer()
	}
	if elementTransform != nil {
		f.element = elementTransform.Buffer()
	}

	encoder, err := e.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: "gpuselect:evaluate"})
	if err != nil {
		return fmt.Errorf("create command encoder: %w", err)
	}
	if err := encoder.BeginEncoding("selection evaluate"); err != nil {
		return fmt.Errorf("begin encoding: %w", err)
	}
	f.encoder = encoder

	if err := e.lower(f, expr.root(), dest.Buffer()); err != nil {
		encoder.DiscardEncoding()
		f.res.release()
		return err
	}

	cmdBuf, err := encoder.EndEncoding()
	if err != nil {
		f.res.release()
		return fmt.Errorf("end encoding: %w", err)
	}
	f.res.cmdBuf = cmdBuf

	fence, err := e.device.CreateFence()
	if err != nil {
		f.res.release()
		return fmt.Errorf("create fence: %w", err)
	}
	f.res.fence = fence

	if err := e.queue.Submit([]hal.CommandBuffer{cmdBuf}, fence, 1); err != nil {
		f.res.release()
		return fmt.Errorf("submit evaluation: %w", err)
	}
	e.pending = f.res

	slogger().Debug("selection evaluated",
		"nodes", expr.Len(),
		"elements", count,
		"temporaries", len(f.res.temps))
	return nil
}

// validate walks the expression and rejects structural errors before
// any GPU work is recorded.
func (e *Evaluator) validate(expr Expr, count uint32) error {
	for i := range expr.nodes {
		n := &expr.nodes[i]
		// Operation nodes built on a zero Expr carry a -1 child index.
		switch n.kind {
		case kindUnion, kindIntersection, kindDifference, kindSymmetricDifference, kindBinary:
			if n.left < 0 || n.right < 0 {
				return fmt.Errorf("%w: operation node %d is missing an operand", ErrMissingSource, i)
			}
		case kindComplement, kindUnary:
			if n.left < 0 {
				return fmt.Errorf("%w: operation node %d is missing an operand", ErrMissingSource, i)
			}
		}
		switch n.kind {
		case kindBuffer:
			if n.buf == nil || n.buf.Buffer() == nil {
				return fmt.Errorf("%w: buffer leaf references a destroyed mask", ErrMissingSource)
			}
			if n.buf.ElementCount() != count {
				return fmt.Errorf("%w: destination has %d elements, buffer leaf has %d",
					ErrCountMismatch, count, n.buf.ElementCount())
			}
		case kindUnary, kindBinary, kindSelection:
			_, extra, err := e.registry.extraFor(n.op)
			if err != nil {
				return err
			}
			if len(n.extra) != len(extra) {
				return fmt.Errorf("%w: op %d (%s) declares %d extra bindings, expression supplies %d",
					ErrExtraCountMismatch, n.op, e.registry.OpName(n.op), len(extra), len(n.extra))
			}
		}
	}
	return nil
}

// lower records the dispatches computing node idx into target.
func (e *Evaluator) lower(f *frame, idx int32, target hal.Buffer) error {
	n := &f.expr.nodes[idx]
	switch n.kind {
	case kindIdentity:
		return nil

	case kindBuffer:
		f.encoder.CopyBufferToBuffer(n.buf.Buffer(), target, []hal.BufferCopy{{
			SrcOffset: 0,
			DstOffset: 0,
			Size:      uint64(f.words) * 4,
		}})
		return nil

	case kindUnion, kindIntersection, kindDifference, kindSymmetricDifference:
		temp, err := e.newTemp(f)
		if err != nil {
			return err
		}
		if err := e.lower(f, n.left, temp); err != nil {
			return err
		}
		if err := e.lower(f, n.right, target); err != nil {
			return err
		}
		code, _ := n.opCode()
		return e.dispatch(f, e.registry.primitivePipeline, code, temp, target, nil)

	case kindComplement:
		if err := e.lower(f, n.left, target); err != nil {
			return err
		}
		return e.dispatch(f, e.registry.primitivePipeline, OpComplement, e.scratch, target, nil)

	case kindUnary:
		if err := e.lower(f, n.left, target); err != nil {
			return err
		}
		return e.dispatchCustom(f, n, e.scratch, target)

	case kindBinary:
		temp, err := e.newTemp(f)
		if err != nil {
			return err
		}
		if err := e.lower(f, n.left, temp); err != nil {
			return err
		}
		if err := e.lower(f, n.right, target); err != nil {
			return err
		}
		return e.dispatchCustom(f, n, temp, target)

	case kindSelection:
		return e.dispatchCustom(f, n, e.scratch, target)

	default:
		return fmt.Errorf("unknown expression node kind %d", n.kind)
	}
}

// newTemp allocates a zero-filled mask-sized storage buffer owned by
// the current frame.
func (e *Evaluator) newTemp(f *frame) (hal.Buffer, error) {
	size := uint64(f.words) * 4
	if size < minBufferSize {
		size = minBufferSize
	}
	buf, err := e.device.CreateBuffer(&hal.BufferDescriptor{
		Label: "gpuselect:temp",
		Size:  size,
		Usage: gpuMaskUsage,
	})
	if err != nil {
		return nil, fmt.Errorf("create temporary mask: %w", err)
	}
	f.res.temps = append(f.res.temps, buf)
	if err := e.queue.WriteBuffer(buf, 0, make([]byte, size)); err != nil {
		return nil, fmt.Errorf("zero temporary mask: %w", err)
	}
	return buf, nil
}

// dispatchCustom resolves the pipeline and extra bindings of a custom
// node and records its dispatch.
func (e *Evaluator) dispatchCustom(f *frame, n *exprNode, source, target hal.Buffer) error {
	pipeline, err := e.registry.pipelineFor(n.op)
	if err != nil {
		return err
	}
	extraLayout, extraEntries, err := e.registry.extraFor(n.op)
	if err != nil {
		return err
	}
	var extraBG hal.BindGroup
	if extraLayout != nil {
		entries := make([]gputypes.BindGroupEntry, len(extraEntries))
		for i, le := range extraEntries {
			entries[i] = gputypes.BindGroupEntry{
				Binding: le.Binding,
				Resource: gputypes.BufferBinding{
					Buffer: n.extra[i].Buffer().NativeHandle(),
					Offset: 0,
					Size:   0,
				},
			}
		}
		extraBG, err = e.device.CreateBindGroup(&hal.BindGroupDescriptor{
			Label:   "gpuselect_extra_bg",
			Layout:  extraLayout,
			Entries: entries,
		})
		if err != nil {
			return fmt.Errorf("create extra bind group for op %d (%s): %w", n.op, e.registry.OpName(n.op), err)
		}
		f.res.bindGroups = append(f.res.bindGroups, extraBG)
	}
	code, _ := n.opCode()
	return e.dispatch(f, pipeline, code, source, target, extraBG)
}

// dispatch records one compute pass running pipeline with op code
// against source and target. extraBG, when non-nil, is bound at
// group(1).
func (e *Evaluator) dispatch(f *frame, pipeline hal.ComputePipeline, code uint32, source, target hal.Buffer, extraBG hal.BindGroup) error {
	opBuf, err := newOpBuffer(e.device, e.queue, code, f.count)
	if err != nil {
		return err
	}
	f.res.opBufs = append(f.res.opBufs, opBuf)

	entry := func(binding uint32, buf hal.Buffer) gputypes.BindGroupEntry {
		return gputypes.BindGroupEntry{
			Binding: binding,
			Resource: gputypes.BufferBinding{
				Buffer: buf.NativeHandle(),
				Offset: 0,
				Size:   0, // 0 = entire buffer
			},
		}
	}
	bg, err := e.device.CreateBindGroup(&hal.BindGroupDescriptor{
		Label:  "gpuselect_bg",
		Layout: e.registry.group0,
		Entries: []gputypes.BindGroupEntry{
			entry(bindingOp, opBuf.Buffer()),
			entry(bindingSource, source),
			entry(bindingDest, target),
			entry(bindingModelTransform, f.model),
			entry(bindingElementTransform, f.element),
			entry(bindingElements, f.elements),
		},
	})
	if err != nil {
		return fmt.Errorf("create bind group: %w", err)
	}
	f.res.bindGroups = append(f.res.bindGroups, bg)

	wgCount := (f.count + workgroupSize - 1) / workgroupSize
	if wgCount == 0 {
		return nil
	}
	pass := f.encoder.BeginComputePass(&hal.ComputePassDescriptor{Label: "gpuselect_op"})
	pass.SetPipeline(pipeline)
	pass.SetBindGroup(0, bg, nil)
	if extraBG != nil {
		pass.SetBindGroup(1, extraBG, nil)
	}
	pass.Dispatch(wgCount, 1, 1)
	pass.End()
	return nil
}

// Flush waits for the in-flight evaluation, if any, and frees its
// transient resources.
func (e *Evaluator) Flush() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrEvaluatorClosed
	}
	return e.reclaim()
}

// Close waits for in-flight work and releases every resource the
// evaluator and its registry own. Safe to call more than once.
func (e *Evaluator) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	err := e.reclaim()
	if e.pending != nil {
		// Fence wait failed; free what we can anyway.
		e.pending.release()
		e.pending = nil
	}
	if e.identity != nil {
		e.identity.Destroy()
		e.identity = nil
	}
	if e.scratch != nil {
		e.device.DestroyBuffer(e.scratch)
		e.scratch = nil
	}
	if e.registry != nil {
		e.registry.Close()
		e.registry = nil
	}
	return err
}
