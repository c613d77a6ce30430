package wire

import "testing"

func TestSplitChunksBoundsEachPiece(t *testing.T) {
	data := make([]byte, 25)
	for i := range data {
		data[i] = byte(i)
	}
	chunks := SplitChunks(data, 10)
	if len(chunks) != 3 {
		t.Fatalf("got %d chunks, want 3", len(chunks))
	}
	if len(chunks[0].Data) != 10 || len(chunks[1].Data) != 10 || len(chunks[2].Data) != 5 {
		t.Fatalf("unexpected chunk sizes: %d %d %d", len(chunks[0].Data), len(chunks[1].Data), len(chunks[2].Data))
	}
	if chunks[0].Complete || chunks[1].Complete || !chunks[2].Complete {
		t.Fatal("only the last chunk should be marked complete")
	}
}

func TestSplitChunksEmptyPayload(t *testing.T) {
	chunks := SplitChunks(nil, 10)
	if len(chunks) != 1 || !chunks[0].Complete || len(chunks[0].Data) != 0 {
		t.Fatalf("expected a single empty complete chunk, got %+v", chunks)
	}
}

func TestReassemblerAccumulatesInOrder(t *testing.T) {
	var r Reassembler
	r.Append([]byte("abc"), false)
	if r.Complete() {
		t.Fatal("should not be complete yet")
	}
	r.Append([]byte("def"), true)
	if !r.Complete() {
		t.Fatal("expected complete after terminal chunk")
	}
	if string(r.Bytes()) != "abcdef" {
		t.Fatalf("got %q", r.Bytes())
	}
}

func TestReassemblerResetsCompletionOnTrailingChunk(t *testing.T) {
	var r Reassembler
	r.Append([]byte("abc"), true)
	if !r.Complete() {
		t.Fatal("expected complete after terminal chunk")
	}
	r.Append([]byte("xyz"), false)
	if r.Complete() {
		t.Fatal("a chunk arriving after completion must reset the flag to false")
	}
}
