package filetransfer

import (
	"bytes"
	"crypto/rand"
	"os"
	"path/filepath"
	"testing"
)

func TestChunkCountAndSizeMatchWorkedExample(t *testing.T) {
	// spec.md §8 scenario 4: 100000 bytes, 32 KiB chunks -> 4 chunks, last 100000 - 3*32768 = 1696 B.
	size := uint64(100000)
	chunkSize := uint32(32 * 1024)

	if got := ChunkCount(size, chunkSize); got != 4 {
		t.Fatalf("expected 4 chunks, got %d", got)
	}
	if got := ChunkSize(size, chunkSize, 3); got != 1696 {
		t.Fatalf("expected last chunk size 1696, got %d", got)
	}
	for i := uint32(0); i < 3; i++ {
		if got := ChunkSize(size, chunkSize, i); got != chunkSize {
			t.Fatalf("expected chunk %d to be full size, got %d", i, got)
		}
	}
}

func TestNewOutgoingRejectsOversizedFile(t *testing.T) {
	_, err := NewOutgoing("big.bin", MaxFileSize+1, DefaultChunkSize)
	if err != ErrTooLarge {
		t.Fatalf("expected ErrTooLarge, got %v", err)
	}
}

func TestFileTransferEndToEnd(t *testing.T) {
	data := make([]byte, 100000)
	if _, err := rand.Read(data); err != nil {
		t.Fatalf("rand: %v", err)
	}

	out, err := NewOutgoing("notes.txt", uint64(len(data)), 32*1024)
	if err != nil {
		t.Fatalf("new outgoing: %v", err)
	}
	if !out.Accept() {
		t.Fatal("expected accept to succeed")
	}

	destDir := t.TempDir()
	in, err := NewIncoming(out.FileID, "notes.txt", out.Size, out.ChunkSize, destDir)
	if err != nil {
		t.Fatalf("new incoming: %v", err)
	}

	source := bytes.NewReader(data)
	var lastProgress Progress
	for {
		index, chunk, ok, err := out.NextChunk(source)
		if err != nil {
			t.Fatalf("next chunk: %v", err)
		}
		if !ok {
			break
		}
		progress, complete, err := in.WriteChunk(index, chunk)
		if err != nil {
			t.Fatalf("write chunk: %v", err)
		}
		if progress.ChunksWritten < lastProgress.ChunksWritten {
			t.Fatal("expected progress to be non-decreasing")
		}
		lastProgress = progress
		if complete && index != out.Chunks()-1 {
			t.Fatalf("transfer completed early at chunk %d", index)
		}
	}

	if !in.Done() {
		t.Fatal("expected transfer to be complete")
	}

	got, err := os.ReadFile(filepath.Join(destDir, "notes.txt"))
	if err != nil {
		t.Fatalf("read final file: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatal("reassembled file does not match input")
	}
}

func TestWriteChunkDuplicateIsIdempotent(t *testing.T) {
	destDir := t.TempDir()
	var id FileID
	in, err := NewIncoming(id, "f.bin", 10, 32*1024, destDir)
	if err != nil {
		t.Fatalf("new incoming: %v", err)
	}

	data := []byte("0123456789")
	p1, complete1, err := in.WriteChunk(0, data)
	if err != nil || !complete1 {
		t.Fatalf("expected single-chunk transfer to complete, err=%v complete=%v", err, complete1)
	}

	// A duplicate chunk after completion must error, not corrupt state.
	_, _, err = in.WriteChunk(0, data)
	if err != ErrAlreadyComplete {
		t.Fatalf("expected ErrAlreadyComplete, got %v", err)
	}
	if p1.ChunksWritten != 1 {
		t.Fatalf("expected 1 chunk written, got %d", p1.ChunksWritten)
	}
}

func TestWriteChunkOutOfRangeIndex(t *testing.T) {
	destDir := t.TempDir()
	var id FileID
	in, err := NewIncoming(id, "f.bin", 100, 32*1024, destDir)
	if err != nil {
		t.Fatalf("new incoming: %v", err)
	}

	_, _, err = in.WriteChunk(99, []byte("x"))
	if err != ErrChunkOutOfRange {
		t.Fatalf("expected ErrChunkOutOfRange, got %v", err)
	}
}

func TestAbortRemovesTempFile(t *testing.T) {
	destDir := t.TempDir()
	var id FileID
	in, err := NewIncoming(id, "f.bin", 100, 32*1024, destDir)
	if err != nil {
		t.Fatalf("new incoming: %v", err)
	}

	tempName := in.tempFile.Name()
	in.Abort()

	if _, err := os.Stat(tempName); !os.IsNotExist(err) {
		t.Fatalf("expected temp file to be removed, stat err=%v", err)
	}
}
