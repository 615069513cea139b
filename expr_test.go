// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpuselect

import "testing"

func TestExprOpCodes(t *testing.T) {
	cases := []struct {
		name string
		expr Expr
		code uint32
	}{
		{"union", Identity().Union(Identity()), OpUnion},
		{"intersection", Identity().Intersection(Identity()), OpIntersection},
		{"difference", Identity().Difference(Identity()), OpDifference},
		{"symmetric_difference", Identity().SymmetricDifference(Identity()), OpSymmetricDifference},
		{"complement", Identity().Complement(), OpComplement},
		{"custom_selection", NewSelection(0), CustomOpStart},
		{"custom_unary", Identity().Unary(2), CustomOpStart + 2},
		{"custom_binary", Identity().Binary(7, Identity()), CustomOpStart + 7},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			code, ok := tc.expr.OpCode()
			if !ok {
				t.Fatal("OpCode returned ok=false")
			}
			if code != tc.code {
				t.Errorf("OpCode = %d, want %d", code, tc.code)
			}
		})
	}
}

func TestExprLeavesHaveNoOpCode(t *testing.T) {
	if _, ok := Identity().OpCode(); ok {
		t.Error("identity should have no op code")
	}
	if _, ok := NewBuffer(nil).OpCode(); ok {
		t.Error("buffer leaf should have no op code")
	}
}

func TestExprCustomOpIndex(t *testing.T) {
	op, ok := NewSelection(3).CustomOpIndex()
	if !ok || op != 3 {
		t.Errorf("CustomOpIndex = %d, %v; want 3, true", op, ok)
	}
	if _, ok := Identity().Union(Identity()).CustomOpIndex(); ok {
		t.Error("primitive root should have no custom op index")
	}
}

func TestExprClassification(t *testing.T) {
	if !Identity().IsIdentity() {
		t.Error("Identity().IsIdentity() = false")
	}
	if !NewBuffer(nil).IsBuffer() {
		t.Error("NewBuffer().IsBuffer() = false")
	}
	if !Identity().Complement().IsPrimitive() {
		t.Error("Complement root should be primitive")
	}
	if !NewSelection(0).IsCustom() {
		t.Error("selection root should be custom")
	}
	if Identity().Union(NewSelection(0)).IsCustom() {
		t.Error("union root should not be custom")
	}
}

func TestExprArenaGrowth(t *testing.T) {
	e := Identity()
	if e.Len() != 1 {
		t.Fatalf("Len = %d, want 1", e.Len())
	}
	e = e.Union(NewSelection(0))
	if e.Len() != 3 {
		t.Fatalf("after union: Len = %d, want 3", e.Len())
	}
	e = e.Complement()
	if e.Len() != 4 {
		t.Fatalf("after complement: Len = %d, want 4", e.Len())
	}
	e = e.Binary(1, NewSelection(2).Complement())
	if e.Len() != 7 {
		t.Fatalf("after binary: Len = %d, want 7", e.Len())
	}
	code, ok := e.OpCode()
	if !ok || code != CustomOpStart+1 {
		t.Fatalf("root OpCode = %d, %v; want %d, true", code, ok, CustomOpStart+1)
	}
}

// Child indices must stay valid after a subtree is spliced into a
// larger arena.
func TestExprChildOffsets(t *testing.T) {
	left := NewSelection(0).Complement()
	right := NewSelection(1).Complement()
	e := left.Union(right)

	root := e.nodes[len(e.nodes)-1]
	if root.kind != kindUnion {
		t.Fatalf("root kind = %d, want union", root.kind)
	}
	l := e.nodes[root.left]
	r := e.nodes[root.right]
	if l.kind != kindComplement || r.kind != kindComplement {
		t.Fatalf("child kinds = %d, %d; want complement, complement", l.kind, r.kind)
	}
	ll := e.nodes[l.left]
	rl := e.nodes[r.left]
	if ll.kind != kindSelection || ll.op != 0 {
		t.Errorf("left grandchild = kind %d op %d; want selection op 0", ll.kind, ll.op)
	}
	if rl.kind != kindSelection || rl.op != 1 {
		t.Errorf("right grandchild = kind %d op %d; want selection op 1", rl.kind, rl.op)
	}
}
