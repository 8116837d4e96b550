package tail

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/MuchTitan/go-log-shipper/internal"
	"github.com/zeebo/blake3"
)

// ErrFileAccess marks a tracked file that exists but cannot be read this cycle.
var ErrFileAccess = errors.New("file access failed")

type Status int

const (
	NoNewData Status = iota
	NewData
	Rotated
)

func (s Status) String() string {
	switch s {
	case NoNewData:
		return "no-new-data"
	case NewData:
		return "new-data"
	case Rotated:
		return "rotated"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

const (
	DefaultHeadBytes     int64 = 1024
	DefaultMaxChunkBytes int64 = 5 << 20 // 5MB
)

// Tailer reads the unshipped suffix of tracked files.
type Tailer struct {
	// MaxChunkBytes caps a single read; 0 reads everything up to the observed size.
	MaxChunkBytes int64
	// HeadBytes is the prefix length fingerprinted to recognise a replaced file.
	HeadBytes int64
}

func NewTailer(maxChunkBytes int64) *Tailer {
	return &Tailer{
		MaxChunkBytes: maxChunkBytes,
		HeadBytes:     DefaultHeadBytes,
	}
}

// ReadSince returns the bytes of path after offset. The read stops at the size observed when the
// file was opened, so a concurrent writer never extends the chunk. A missing file is NoNewData.
// Rotated means the file is a new incarnation and the chunk starts at 0; its Data may be empty.
func (t *Tailer) ReadSince(path string, offset int64, last internal.Signature) (Status, *internal.Chunk, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return NoNewData, nil, nil
		}
		return NoNewData, nil, fmt.Errorf("%w: %v", ErrFileAccess, err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return NoNewData, nil, fmt.Errorf("%w: stat %s: %v", ErrFileAccess, path, err)
	}
	if info.IsDir() {
		return NoNewData, nil, fmt.Errorf("%w: %s is a directory", ErrFileAccess, path)
	}

	size := info.Size()
	inode := fileID(info)

	rotated, err := t.isRotated(file, size, inode, offset, last)
	if err != nil {
		return NoNewData, nil, fmt.Errorf("%w: %v", ErrFileAccess, err)
	}

	start := offset
	if rotated {
		start = 0
	}
	if !rotated && size == start {
		return NoNewData, nil, nil
	}

	end := size
	if t.MaxChunkBytes > 0 && end-start > t.MaxChunkBytes {
		end = start + t.MaxChunkBytes
	}

	data := make([]byte, end-start)
	if _, err := io.ReadFull(io.NewSectionReader(file, start, end-start), data); err != nil {
		return NoNewData, nil, fmt.Errorf("%w: read %s [%d,%d): %v", ErrFileAccess, path, start, end, err)
	}

	headLen := min(t.headBytes(), end)
	head, err := t.headHash(file, headLen)
	if err != nil {
		return NoNewData, nil, fmt.Errorf("%w: %v", ErrFileAccess, err)
	}

	status := NewData
	if rotated {
		status = Rotated
	}
	return status, &internal.Chunk{
		FileID: path,
		Path:   path,
		Start:  start,
		Data:   data,
		Signature: internal.Signature{
			Inode:   inode,
			Size:    size,
			ModTime: info.ModTime(),
			Head:    head,
			HeadLen: headLen,
		},
		Rotated: rotated,
	}, nil
}

func (t *Tailer) isRotated(file *os.File, size int64, inode uint64, offset int64, last internal.Signature) (bool, error) {
	switch {
	case last.Inode != 0 && inode != 0 && inode != last.Inode:
		return true, nil
	case size < offset:
		return true, nil
	case last.HeadLen > 0 && last.HeadLen <= size:
		head, err := t.headHash(file, last.HeadLen)
		if err != nil {
			return false, err
		}
		return head != last.Head, nil
	}
	return false, nil
}

func (t *Tailer) headBytes() int64 {
	if t.HeadBytes <= 0 {
		return DefaultHeadBytes
	}
	return t.HeadBytes
}

func (t *Tailer) headHash(file *os.File, n int64) (string, error) {
	if n <= 0 {
		return "", nil
	}
	buf := make([]byte, n)
	if _, err := file.ReadAt(buf, 0); err != nil {
		return "", fmt.Errorf("read head: %w", err)
	}
	sum := blake3.Sum256(buf)
	return hex.EncodeToString(sum[:]), nil
}
