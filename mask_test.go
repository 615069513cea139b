// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpuselect

import (
	"context"
	"errors"
	"math/rand"
	"testing"

	"github.com/gogpu/gpuselect/internal/device"
)

// testDevice opens a standalone compute device or skips the test when
// no GPU is present.
func testDevice(t *testing.T) *device.Handle {
	t.Helper()
	h, err := device.Standalone()
	if err != nil {
		t.Skipf("GPU not available: %v", err)
	}
	t.Cleanup(h.Close)
	return h
}

func TestWordCount(t *testing.T) {
	cases := []struct {
		count, words uint32
	}{
		{0, 0},
		{1, 1},
		{31, 1},
		{32, 1},
		{33, 2},
		{64, 2},
		{65, 3},
		{10000, 313},
	}
	for _, tc := range cases {
		if got := WordCount(tc.count); got != tc.words {
			t.Errorf("WordCount(%d) = %d, want %d", tc.count, got, tc.words)
		}
	}
}

func TestPopcount(t *testing.T) {
	if got := Popcount(nil); got != 0 {
		t.Errorf("Popcount(nil) = %d, want 0", got)
	}
	if got := Popcount([]uint32{0, 0xffffffff, 0b1011}); got != 35 {
		t.Errorf("Popcount = %d, want 35", got)
	}
}

func TestBitSet(t *testing.T) {
	words := []uint32{1 << 5, 1 << 0}
	if !BitSet(words, 5) {
		t.Error("bit 5 should be set")
	}
	if !BitSet(words, 32) {
		t.Error("bit 32 should be set")
	}
	if BitSet(words, 6) || BitSet(words, 33) {
		t.Error("unset bits reported as set")
	}
}

func TestMaskBufferRoundTrip(t *testing.T) {
	h := testDevice(t)

	for _, count := range []uint32{1, 32, 33, 1000, 4096 * 32} {
		mask, err := NewMaskBuffer(h.Device, h.Queue, count)
		if err != nil {
			t.Fatalf("count %d: NewMaskBuffer: %v", count, err)
		}
		words := make([]uint32, mask.WordCount())
		rng := rand.New(rand.NewSource(int64(count)))
		for i := range words {
			words[i] = rng.Uint32()
		}
		// Clear bits past the element count.
		if tail := count % 32; tail != 0 {
			words[len(words)-1] &= (1 << tail) - 1
		}
		if err := mask.Upload(words); err != nil {
			t.Fatalf("count %d: Upload: %v", count, err)
		}
		got, err := mask.Download(context.Background())
		if err != nil {
			t.Fatalf("count %d: Download: %v", count, err)
		}
		if len(got) != len(words) {
			t.Fatalf("count %d: got %d words, want %d", count, len(got), len(words))
		}
		for i := range words {
			if got[i] != words[i] {
				t.Fatalf("count %d: word %d = %#x, want %#x", count, i, got[i], words[i])
			}
		}
		mask.Destroy()
	}
}

func TestMaskBufferZeroFilled(t *testing.T) {
	h := testDevice(t)

	mask, err := NewMaskBuffer(h.Device, h.Queue, 999)
	if err != nil {
		t.Fatalf("NewMaskBuffer: %v", err)
	}
	defer mask.Destroy()

	words, err := mask.Download(context.Background())
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if got := Popcount(words); got != 0 {
		t.Errorf("fresh mask has %d set bits, want 0", got)
	}
}

func TestMaskBufferUploadCountMismatch(t *testing.T) {
	h := testDevice(t)

	mask, err := NewMaskBuffer(h.Device, h.Queue, 64)
	if err != nil {
		t.Fatalf("NewMaskBuffer: %v", err)
	}
	defer mask.Destroy()

	if err := mask.Upload(make([]uint32, 3)); !errors.Is(err, ErrCountMismatch) {
		t.Errorf("Upload wrong size: err = %v, want ErrCountMismatch", err)
	}
}

func TestMaskBufferEmpty(t *testing.T) {
	h := testDevice(t)

	mask, err := NewMaskBuffer(h.Device, h.Queue, 0)
	if err != nil {
		t.Fatalf("NewMaskBuffer(0): %v", err)
	}
	defer mask.Destroy()

	if mask.WordCount() != 0 {
		t.Errorf("WordCount = %d, want 0", mask.WordCount())
	}
	words, err := mask.Download(context.Background())
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if len(words) != 0 {
		t.Errorf("Download returned %d words, want 0", len(words))
	}
	if err := mask.Upload(nil); err != nil {
		t.Errorf("Upload(nil) on empty mask: %v", err)
	}
}
