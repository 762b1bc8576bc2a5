package audio

import (
	"testing"
)

func TestRingBuffer_Write(t *testing.T) {
	rb := NewRingBuffer(10)

	written := rb.Write([]float32{0.1, 0.2, 0.3, 0.4, 0.5})
	if written != 5 {
		t.Errorf("Expected to write 5 samples, got %d", written)
	}
	if rb.available() != 5 {
		t.Errorf("Expected available 5, got %d", rb.available())
	}

	written = rb.Write([]float32{0.6, 0.7, 0.8})
	if written != 3 {
		t.Errorf("Expected to write 3 samples, got %d", written)
	}
	if rb.available() != 8 {
		t.Errorf("Expected available 8, got %d", rb.available())
	}
}

func TestRingBuffer_WriteOverflow(t *testing.T) {
	rb := NewRingBuffer(5)

	// Capacity is size-1 to avoid full/empty ambiguity
	if written := rb.Write([]float32{1, 2, 3, 4}); written != 4 {
		t.Fatalf("Expected to write 4 samples, got %d", written)
	}

	written := rb.Write([]float32{5, 6})
	if written != 0 {
		t.Errorf("Expected to write 0 samples (buffer already full), got %d", written)
	}
	if rb.available() != 4 {
		t.Errorf("Expected available 4 after overflow, got %d", rb.available())
	}
}

func TestRingBuffer_WrapAround(t *testing.T) {
	rb := NewRingBuffer(5)

	rb.Write([]float32{1, 2, 3, 4})
	if _, ok := rb.ReadBlock(2); !ok {
		t.Fatal("Expected a block of 2")
	}

	// Should wrap around
	rb.Write([]float32{5, 6})
	if rb.available() != 4 {
		t.Errorf("Expected available 4, got %d", rb.available())
	}

	block, ok := rb.ReadBlock(4)
	if !ok {
		t.Fatal("Expected a block of 4")
	}
	expected := []float32{3, 4, 5, 6}
	for i := range expected {
		if block[i] != expected[i] {
			t.Errorf("Expected %v at position %d, got %v", expected[i], i, block[i])
		}
	}
}

func TestRingBuffer_ReadBlock(t *testing.T) {
	rb := NewRingBuffer(16)
	rb.Write([]float32{1, 2, 3})

	if _, ok := rb.ReadBlock(4); ok {
		t.Fatal("Expected ReadBlock to refuse a partial block")
	}
	if rb.available() != 3 {
		t.Errorf("Expected partial read to leave 3 samples, got %d", rb.available())
	}

	rb.Write([]float32{4, 5})
	block, ok := rb.ReadBlock(4)
	if !ok {
		t.Fatal("Expected a full block")
	}
	if len(block) != 4 || block[0] != 1 || block[3] != 4 {
		t.Errorf("Unexpected block %v", block)
	}
	if rb.available() != 1 {
		t.Errorf("Expected 1 sample left, got %d", rb.available())
	}
}

func TestRingBuffer_Clear(t *testing.T) {
	rb := NewRingBuffer(10)
	rb.Write([]float32{1, 2, 3, 4, 5})

	rb.Clear()
	if rb.available() != 0 {
		t.Errorf("Expected buffer to be empty after clear, got %d", rb.available())
	}
	if _, ok := rb.ReadBlock(1); ok {
		t.Error("Expected no block after clear")
	}
	if written := rb.Write(make([]float32, 9)); written != 9 {
		t.Errorf("Expected full capacity after clear, wrote %d", written)
	}
}
