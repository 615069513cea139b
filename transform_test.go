// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpuselect

import (
	"math"
	"testing"
)

func mat4Near(a, b Mat4, eps float32) bool {
	for i := range a {
		if float32(math.Abs(float64(a[i]-b[i]))) > eps {
			return false
		}
	}
	return true
}

func TestMat4MulIdentity(t *testing.T) {
	m := Mat4Translate(1, 2, 3).Mul(Mat4Scale(2, 4, 8))
	if got := m.Mul(Mat4Identity()); !mat4Near(got, m, 0) {
		t.Errorf("m * I = %v, want %v", got, m)
	}
	if got := Mat4Identity().Mul(m); !mat4Near(got, m, 0) {
		t.Errorf("I * m = %v, want %v", got, m)
	}
}

func TestMat4Inverse(t *testing.T) {
	m := Mat4Translate(1, -2, 3).Mul(Mat4Scale(2, 0.5, 4))
	inv, ok := m.Inverse()
	if !ok {
		t.Fatal("Inverse reported singular")
	}
	if got := m.Mul(inv); !mat4Near(got, Mat4Identity(), 1e-5) {
		t.Errorf("m * m^-1 = %v, want identity", got)
	}
	if got := inv.Mul(m); !mat4Near(got, Mat4Identity(), 1e-5) {
		t.Errorf("m^-1 * m = %v, want identity", got)
	}
}

func TestMat4InverseSingular(t *testing.T) {
	if _, ok := Mat4Scale(1, 1, 0).Inverse(); ok {
		t.Error("zero-scale matrix should be singular")
	}
	var zero Mat4
	if _, ok := zero.Inverse(); ok {
		t.Error("zero matrix should be singular")
	}
}

func TestMat4TranslatePoint(t *testing.T) {
	// Column-major: translation lives in elements 12..14.
	m := Mat4Translate(5, 6, 7)
	if m[12] != 5 || m[13] != 6 || m[14] != 7 {
		t.Errorf("translation components = %v, %v, %v; want 5, 6, 7", m[12], m[13], m[14])
	}
	inv, ok := m.Inverse()
	if !ok {
		t.Fatal("translation should be invertible")
	}
	if inv[12] != -5 || inv[13] != -6 || inv[14] != -7 {
		t.Errorf("inverse translation = %v, %v, %v; want -5, -6, -7", inv[12], inv[13], inv[14])
	}
}

func TestMat4Bytes(t *testing.T) {
	b := Mat4Identity().bytes()
	if len(b) != transformUniformSize {
		t.Fatalf("len = %d, want %d", len(b), transformUniformSize)
	}
	// First column x component is 1.0f (0x3f800000 little-endian).
	if b[0] != 0 || b[1] != 0 || b[2] != 0x80 || b[3] != 0x3f {
		t.Errorf("first float bytes = % x, want 00 00 80 3f", b[:4])
	}
}
