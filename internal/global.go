package internal

import (
	"time"
)

// Signature identifies one incarnation of a tracked file.
type Signature struct {
	Inode   uint64    `json:"inode"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"modTime"`
	Head    string    `json:"head,omitempty"`    // hex BLAKE3 of the first HeadLen bytes
	HeadLen int64     `json:"headLen,omitempty"` // never larger than the confirmed offset
}

// Position is the last confirmed upload position of a tracked file.
type Position struct {
	Offset    int64     `json:"offset"`
	Signature Signature `json:"signature"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Chunk is the byte range [Start, Start+len(Data)) read from a tracked file in one cycle.
type Chunk struct {
	FileID    string
	Path      string
	Start     int64
	Data      []byte
	Signature Signature
	Rotated   bool
}

func (c *Chunk) End() int64 {
	return c.Start + int64(len(c.Data))
}
