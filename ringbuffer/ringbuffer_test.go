package ringbuffer

import "testing"

func TestFIFOOrder(t *testing.T) {
	rb := New[int](8)
	for i := 0; i < 5; i++ {
		if !rb.Write(i) {
			t.Fatalf("write %d failed unexpectedly", i)
		}
	}
	for i := 0; i < 5; i++ {
		v, ok := rb.Read()
		if !ok || v != i {
			t.Fatalf("read %d: got (%v, %v)", i, v, ok)
		}
	}
}

func TestFullEmptyBoundary(t *testing.T) {
	rb := New[int](4) // capacity 4 -> holds 3

	for i := 0; i < 3; i++ {
		if !rb.Write(i) {
			t.Fatalf("write %d should have succeeded", i)
		}
	}
	if rb.Write(99) {
		t.Fatal("expected buffer to report full after capacity-1 writes")
	}
	if !rb.IsFull() {
		t.Fatal("expected IsFull true")
	}

	if _, ok := rb.Read(); !ok {
		t.Fatal("expected a read to succeed")
	}
	if !rb.Write(99) {
		t.Fatal("expected write to succeed after freeing a slot")
	}
}

func TestCountMatchesWrittenMinusRead(t *testing.T) {
	rb := New[int](16)
	written, read := 0, 0
	seq := []int{1, 2, 3, 4, 5, 6, 7}
	for i, v := range seq {
		if rb.Write(v) {
			written++
		}
		if i%2 == 0 {
			if _, ok := rb.Read(); ok {
				read++
			}
		}
		if rb.Count() != written-read {
			t.Fatalf("count mismatch: got %d want %d", rb.Count(), written-read)
		}
	}
}

func TestWriteBulkAndReadBulkPadding(t *testing.T) {
	rb := New[int](4) // holds 3
	n := rb.WriteBulk([]int{1, 2, 3, 4, 5})
	if n != 3 {
		t.Fatalf("expected 3 written, got %d", n)
	}
	out, got := rb.ReadBulk(5, -1)
	if got != 3 {
		t.Fatalf("expected 3 real elements, got %d", got)
	}
	want := []int{1, 2, 3, -1, -1}
	for i := range want {
		if out[i] != want[i] {
			t.Fatalf("ReadBulk[%d] = %d, want %d", i, out[i], want[i])
		}
	}
}

func TestSkipAndPeek(t *testing.T) {
	rb := New[int](8)
	rb.WriteBulk([]int{1, 2, 3, 4})
	if v, ok := rb.Peek(); !ok || v != 1 {
		t.Fatalf("peek = (%v, %v), want (1, true)", v, ok)
	}
	skipped := rb.Skip(2)
	if skipped != 2 {
		t.Fatalf("skip returned %d, want 2", skipped)
	}
	v, ok := rb.Read()
	if !ok || v != 3 {
		t.Fatalf("read after skip = (%v, %v), want (3, true)", v, ok)
	}
}

func TestClear(t *testing.T) {
	rb := New[int](8)
	rb.WriteBulk([]int{1, 2, 3})
	rb.Clear()
	if !rb.IsEmpty() {
		t.Fatal("expected empty after clear")
	}
	if rb.Count() != 0 {
		t.Fatalf("expected count 0, got %d", rb.Count())
	}
}

func TestAvailableSpace(t *testing.T) {
	rb := New[int](4)
	if rb.AvailableSpace() != 3 {
		t.Fatalf("expected 3 available, got %d", rb.AvailableSpace())
	}
	rb.Write(1)
	if rb.AvailableSpace() != 2 {
		t.Fatalf("expected 2 available, got %d", rb.AvailableSpace())
	}
}
