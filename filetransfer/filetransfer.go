/*
Package filetransfer implements File Transfer (spec.md §4.H): the
FileOffer/FileAccept/FileChunk state machine, a chunk bitmap for idempotent
out-of-order delivery, and a streamed sink with an atomic temp-file-then-
rename commit.

Grounded on the teacher's warehouse/Store.go (CreateFile: write through a
temp file, hash as it streams, rename into place on completion) for the sink
commit discipline, and fragment/Merkle Tree.go's fragment-count-from-size
arithmetic for chunk counting.
*/
package filetransfer

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// MaxFileSize is the abort threshold from spec.md §4.H ("size above 100 MiB").
const MaxFileSize = 100 * 1024 * 1024

// DefaultChunkSize matches the worked example in spec.md §8 scenario 4.
const DefaultChunkSize = 32 * 1024

var (
	// ErrTooLarge is returned when a FileOffer declares a size over MaxFileSize.
	ErrTooLarge = errors.New("filetransfer: file exceeds maximum size")
	// ErrChunkOutOfRange is returned for a FileChunk whose index does not fit
	// the transfer's declared chunk count.
	ErrChunkOutOfRange = errors.New("filetransfer: chunk index out of range")
	// ErrUnknownTransfer is returned when a FileChunk or FileAccept references
	// a file_id the receiver/sender has no record of.
	ErrUnknownTransfer = errors.New("filetransfer: unknown file_id")
	// ErrAlreadyComplete is returned by operations attempted after Complete.
	ErrAlreadyComplete = errors.New("filetransfer: transfer already complete")
)

// FileID identifies one transfer, generated by the sender at offer time.
type FileID [16]byte

// NewFileID generates a random transfer identifier.
func NewFileID() (FileID, error) {
	var id FileID
	if _, err := rand.Read(id[:]); err != nil {
		return FileID{}, err
	}
	return id, nil
}

// ChunkCount returns ceil(size/chunkSize), the arithmetic spec.md §4.H and
// §8 scenario 4 both rely on: 100000 bytes at 32 KiB is 4 chunks, the last
// one 1696 B.
func ChunkCount(size uint64, chunkSize uint32) uint32 {
	if chunkSize == 0 {
		return 0
	}
	return uint32((size + uint64(chunkSize) - 1) / uint64(chunkSize))
}

// ChunkSize returns the size of chunk index i of a file of the given total
// size and nominal chunk size; the last chunk may be short.
func ChunkSize(size uint64, chunkSize uint32, index uint32) uint32 {
	total := ChunkCount(size, chunkSize)
	if index+1 < total {
		return chunkSize
	}
	last := size - uint64(index)*uint64(chunkSize)
	return uint32(last)
}

// Progress describes a transfer's current completion. WriteChunk returns one
// on every successful call, and the node layer emits a FileProgress event for
// each of them.
type Progress struct {
	FileID        FileID
	ChunksWritten uint32
	ChunksTotal   uint32
}

// Percent returns the completion percentage, 0-100.
func (p Progress) Percent() int {
	if p.ChunksTotal == 0 {
		return 100
	}
	return int(uint64(p.ChunksWritten) * 100 / uint64(p.ChunksTotal))
}

// ReaderAtCloser is the source interface an Outgoing transfer streams chunks
// from: random-access reads so chunks may be read out of cursor order plus
// a Close once every chunk has been sent.
type ReaderAtCloser interface {
	io.ReaderAt
	io.Closer
}

// Outgoing tracks a sender-side transfer awaiting the remote FileAccept and
// then streaming FileChunks.
type Outgoing struct {
	FileID    FileID
	Filename  string
	Size      uint64
	ChunkSize uint32
	chunks    uint32

	mutex     sync.Mutex
	accepted  bool
	nextIndex uint32
	aborted   bool
}

// NewOutgoing begins a sender-side transfer. The caller must still send a
// FileOffer envelope; Outgoing only tracks local state.
func NewOutgoing(filename string, size uint64, chunkSize uint32) (*Outgoing, error) {
	if size > MaxFileSize {
		return nil, ErrTooLarge
	}
	if chunkSize == 0 {
		chunkSize = DefaultChunkSize
	}
	id, err := NewFileID()
	if err != nil {
		return nil, err
	}
	return &Outgoing{
		FileID:    id,
		Filename:  filename,
		Size:      size,
		ChunkSize: chunkSize,
		chunks:    ChunkCount(size, chunkSize),
	}, nil
}

// Chunks returns the total chunk count for this transfer.
func (o *Outgoing) Chunks() uint32 { return o.chunks }

// Accept marks the transfer as accepted by the remote side, per receipt of a
// FileAccept with the same file_id. Returns false if already aborted.
func (o *Outgoing) Accept() bool {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	if o.aborted {
		return false
	}
	o.accepted = true
	return true
}

// Accepted reports whether the remote side has accepted the transfer.
func (o *Outgoing) Accepted() bool {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	return o.accepted
}

// Abort marks the transfer as aborted (sender or receiver disconnected,
// receiver declined).
func (o *Outgoing) Abort() {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	o.aborted = true
}

// Aborted reports whether the transfer was aborted.
func (o *Outgoing) Aborted() bool {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	return o.aborted
}

// NextChunk returns the next chunk of source data to send and advances the
// cursor, or ok=false once every chunk has been read.
func (o *Outgoing) NextChunk(source io.ReaderAt) (index uint32, data []byte, ok bool, err error) {
	o.mutex.Lock()
	if o.nextIndex >= o.chunks {
		o.mutex.Unlock()
		return 0, nil, false, nil
	}
	index = o.nextIndex
	o.nextIndex++
	o.mutex.Unlock()

	size := ChunkSize(o.Size, o.ChunkSize, index)
	buf := make([]byte, size)
	if _, err := source.ReadAt(buf, int64(index)*int64(o.ChunkSize)); err != nil && err != io.EOF {
		return 0, nil, false, err
	}
	return index, buf, true, nil
}

// Bitmap is a minimal bitset tracking which chunk indices have been written,
// used on the receiver side for idempotent duplicate-chunk handling.
type Bitmap struct {
	bits  []uint64
	total uint32
	set   uint32
}

// NewBitmap allocates a bitmap sized for `total` chunks.
func NewBitmap(total uint32) *Bitmap {
	return &Bitmap{bits: make([]uint64, (total+63)/64), total: total}
}

// Set marks index as written; returns true if this is the first time it was
// set (i.e. not a duplicate).
func (b *Bitmap) Set(index uint32) bool {
	word, bit := index/64, index%64
	mask := uint64(1) << bit
	if b.bits[word]&mask != 0 {
		return false
	}
	b.bits[word] |= mask
	b.set++
	return true
}

// Complete reports whether every chunk has been set.
func (b *Bitmap) Complete() bool {
	return b.set == b.total
}

// Count returns the number of chunks set so far.
func (b *Bitmap) Count() uint32 { return b.set }

// Incoming tracks a receiver-side transfer: the bitmap of received chunks
// and a sink file, written through a temp file and renamed into place on
// completion, matching the teacher's warehouse commit discipline.
type Incoming struct {
	FileID    FileID
	Filename  string
	Size      uint64
	ChunkSize uint32
	chunks    uint32

	mutex     sync.Mutex
	bitmap    *Bitmap
	tempFile  *os.File
	finalPath string
	done      bool
	aborted   bool
}

// NewIncoming begins a receiver-side transfer after a FileOffer is accepted.
// destDir is where the final file will be placed once complete.
func NewIncoming(fileID FileID, filename string, size uint64, chunkSize uint32, destDir string) (*Incoming, error) {
	if size > MaxFileSize {
		return nil, ErrTooLarge
	}
	if chunkSize == 0 {
		chunkSize = DefaultChunkSize
	}

	if err := os.MkdirAll(destDir, 0700); err != nil {
		return nil, err
	}

	tmp, err := os.CreateTemp(destDir, "filetransfer-*.part")
	if err != nil {
		return nil, err
	}
	if size > 0 {
		if err := tmp.Truncate(int64(size)); err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
			return nil, err
		}
	}

	chunks := ChunkCount(size, chunkSize)
	return &Incoming{
		FileID:    fileID,
		Filename:  filename,
		Size:      size,
		ChunkSize: chunkSize,
		chunks:    chunks,
		bitmap:    NewBitmap(chunks),
		tempFile:  tmp,
		finalPath: filepath.Join(destDir, filename),
	}, nil
}

// Chunks returns the total chunk count for this transfer.
func (in *Incoming) Chunks() uint32 { return in.chunks }

// WriteChunk writes one received chunk at its declared offset. Duplicate
// chunks are a silent no-op (spec.md §4.H: "duplicate chunks are idempotent").
// Returns the resulting Progress and whether the transfer is now complete.
func (in *Incoming) WriteChunk(index uint32, data []byte) (progress Progress, complete bool, err error) {
	in.mutex.Lock()
	defer in.mutex.Unlock()

	if in.done {
		return Progress{}, true, ErrAlreadyComplete
	}
	if index >= in.chunks {
		return Progress{}, false, ErrChunkOutOfRange
	}

	if in.bitmap.Set(index) {
		offset := int64(index) * int64(in.ChunkSize)
		if _, err := in.tempFile.WriteAt(data, offset); err != nil {
			return Progress{}, false, err
		}
	}

	progress = Progress{FileID: in.FileID, ChunksWritten: in.bitmap.Count(), ChunksTotal: in.chunks}
	if in.bitmap.Complete() {
		if err := in.commitLocked(); err != nil {
			return progress, false, err
		}
		return progress, true, nil
	}
	return progress, false, nil
}

// commitLocked closes the temp file and renames it into place. Caller holds
// the mutex.
func (in *Incoming) commitLocked() error {
	if err := in.tempFile.Close(); err != nil {
		return err
	}
	if err := os.Rename(in.tempFile.Name(), in.finalPath); err != nil {
		return fmt.Errorf("filetransfer: commit %s: %w", in.finalPath, err)
	}
	in.done = true
	return nil
}

// Abort cancels an in-progress transfer and removes its temp file, per the
// abort conditions in spec.md §4.H (sender disconnection, receiver decline,
// oversize, or out-of-range chunk).
func (in *Incoming) Abort() {
	in.mutex.Lock()
	defer in.mutex.Unlock()
	if in.done || in.aborted {
		return
	}
	in.aborted = true
	in.tempFile.Close()
	os.Remove(in.tempFile.Name())
}

// Done reports whether the transfer has completed and been committed.
func (in *Incoming) Done() bool {
	in.mutex.Lock()
	defer in.mutex.Unlock()
	return in.done
}
