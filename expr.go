// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpuselect

// Op codes for the five primitive set operations. The value of a
// primitive node's OpCode is one of these; custom nodes report
// CustomOpStart plus their operation index.
const (
	OpUnion uint32 = iota
	OpIntersection
	OpDifference
	OpSymmetricDifference
	OpComplement

	// CustomOpStart is the first op code assigned to custom operations.
	CustomOpStart = 5
)

// nodeKind discriminates the expression node variants.
type nodeKind uint8

const (
	kindIdentity nodeKind = iota
	kindUnion
	kindIntersection
	kindDifference
	kindSymmetricDifference
	kindComplement
	kindUnary
	kindBinary
	kindSelection
	kindBuffer
)

// exprNode is one node of the expression arena. Children are referenced
// by index into the owning Expr's node table; -1 means no child.
type exprNode struct {
	kind  nodeKind
	op    uint32 // custom operation index for kindUnary/kindBinary/kindSelection
	left  int32
	right int32
	buf   *MaskBuffer // kindBuffer only; referenced, not owned
	extra []BufferWrapper
}

// Expr is an immutable selection expression.
//
// Nodes live in a flat arena and reference children by index; the root
// is the last node. Builder methods consume their receiver and operands:
// after c := a.Union(b), neither a nor b may be used again. Expressions
// never alias subtrees and never form cycles.
//
// The zero Expr is not valid; start from Identity, NewBuffer or
// NewSelection.
type Expr struct {
	nodes []exprNode
}

// Identity returns the neutral expression. Evaluated against a
// destination it records nothing: the destination is left untouched.
func Identity() Expr {
	return Expr{nodes: []exprNode{{kind: kindIdentity, left: -1, right: -1}}}
}

// NewBuffer returns an expression that reads an existing mask buffer.
// The buffer is referenced, not owned; it must stay alive and must not
// be written by another in-flight command sequence while an evaluation
// using it is in flight.
func NewBuffer(buf *MaskBuffer) Expr {
	return Expr{nodes: []exprNode{{kind: kindBuffer, left: -1, right: -1, buf: buf}}}
}

// NewSelection returns a leaf that invokes the custom operation op
// directly against the destination. The source binding is unused by
// programs dispatched for this kind. extra lists the additional
// resources the program's declared layout expects, in binding order.
func NewSelection(op uint32, extra ...BufferWrapper) Expr {
	return Expr{nodes: []exprNode{{kind: kindSelection, op: op, left: -1, right: -1, extra: extra}}}
}

// binary appends rhs's arena after the receiver's and adds a parent node.
func (e Expr) binary(kind nodeKind, op uint32, rhs Expr, extra []BufferWrapper) Expr {
	nodes := make([]exprNode, 0, len(e.nodes)+len(rhs.nodes)+1)
	nodes = append(nodes, e.nodes...)
	off := int32(len(nodes))
	for _, n := range rhs.nodes {
		if n.left >= 0 {
			n.left += off
		}
		if n.right >= 0 {
			n.right += off
		}
		nodes = append(nodes, n)
	}
	nodes = append(nodes, exprNode{
		kind:  kind,
		op:    op,
		left:  off - 1,
		right: int32(len(nodes)) - 1,
		extra: extra,
	})
	return Expr{nodes: nodes}
}

// unary adds a parent node over the receiver's root.
func (e Expr) unary(kind nodeKind, op uint32, extra []BufferWrapper) Expr {
	nodes := make([]exprNode, 0, len(e.nodes)+1)
	nodes = append(nodes, e.nodes...)
	nodes = append(nodes, exprNode{
		kind:  kind,
		op:    op,
		left:  int32(len(nodes)) - 1,
		right: -1,
		extra: extra,
	})
	return Expr{nodes: nodes}
}

// Union returns the union of the two selections.
func (e Expr) Union(rhs Expr) Expr {
	return e.binary(kindUnion, 0, rhs, nil)
}

// Intersection returns the intersection of the two selections.
func (e Expr) Intersection(rhs Expr) Expr {
	return e.binary(kindIntersection, 0, rhs, nil)
}

// Difference returns the elements selected by the receiver but not by
// rhs.
func (e Expr) Difference(rhs Expr) Expr {
	return e.binary(kindDifference, 0, rhs, nil)
}

// SymmetricDifference returns the elements selected by exactly one of
// the two selections.
func (e Expr) SymmetricDifference(rhs Expr) Expr {
	return e.binary(kindSymmetricDifference, 0, rhs, nil)
}

// Complement returns the elements not selected by the receiver.
func (e Expr) Complement() Expr {
	return e.unary(kindComplement, 0, nil)
}

// Unary applies the custom operation op to the receiver in place.
func (e Expr) Unary(op uint32, extra ...BufferWrapper) Expr {
	return e.unary(kindUnary, op, extra)
}

// Binary combines the receiver and rhs with the custom operation op.
//
// The operand convention is fixed: the receiver (left operand) is bound
// at the source slot and rhs (right operand) at the destination slot,
// which the program transforms in place. Non-commutative programs must
// respect this assignment.
func (e Expr) Binary(op uint32, rhs Expr, extra ...BufferWrapper) Expr {
	return e.binary(kindBinary, op, rhs, extra)
}

// Len returns the number of nodes in the expression.
func (e Expr) Len() int { return len(e.nodes) }

// root returns the index of the root node, or -1 for the zero Expr.
func (e Expr) root() int32 { return int32(len(e.nodes)) - 1 }

func (e Expr) rootNode() *exprNode {
	return &e.nodes[e.root()]
}

// OpCode returns the numeric operation code of the root node: 0-4 for
// the primitives, CustomOpStart+index for custom nodes. Identity and
// Buffer have no code; ok is false for them.
func (e Expr) OpCode() (code uint32, ok bool) {
	return e.nodes[e.root()].opCode()
}

func (n *exprNode) opCode() (uint32, bool) {
	switch n.kind {
	case kindUnion:
		return OpUnion, true
	case kindIntersection:
		return OpIntersection, true
	case kindDifference:
		return OpDifference, true
	case kindSymmetricDifference:
		return OpSymmetricDifference, true
	case kindComplement:
		return OpComplement, true
	case kindUnary, kindBinary, kindSelection:
		return CustomOpStart + n.op, true
	default:
		return 0, false
	}
}

// CustomOpIndex returns the zero-based custom operation index of the
// root node. ok is false for every non-custom variant.
func (e Expr) CustomOpIndex() (op uint32, ok bool) {
	n := e.rootNode()
	switch n.kind {
	case kindUnary, kindBinary, kindSelection:
		return n.op, true
	default:
		return 0, false
	}
}

// IsIdentity reports whether the root node is the identity.
func (e Expr) IsIdentity() bool { return e.rootNode().kind == kindIdentity }

// IsPrimitive reports whether the root node is one of the five primitive
// set operations.
func (e Expr) IsPrimitive() bool {
	switch e.rootNode().kind {
	case kindUnion, kindIntersection, kindDifference, kindSymmetricDifference, kindComplement:
		return true
	default:
		return false
	}
}

// IsCustom reports whether the root node is a custom operation.
func (e Expr) IsCustom() bool {
	switch e.rootNode().kind {
	case kindUnary, kindBinary, kindSelection:
		return true
	default:
		return false
	}
}

// IsBuffer reports whether the root node references a mask buffer.
func (e Expr) IsBuffer() bool { return e.rootNode().kind == kindBuffer }
