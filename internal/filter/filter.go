package filter

import (
	"bytes"
	"context"

	"github.com/MuchTitan/go-log-shipper/internal"
	"github.com/MuchTitan/go-log-shipper/internal/output"
)

// Uploader drops the lines Grep rejects before handing a chunk to the wrapped sink. Dropped
// lines count as shipped, so offsets still cover the whole file.
type Uploader struct {
	next output.Uploader
	grep *Grep
}

func NewUploader(next output.Uploader, grep *Grep) *Uploader {
	return &Uploader{next: next, grep: grep}
}

func (u *Uploader) Name() string {
	return u.next.Name() + "+" + u.grep.Name()
}

// span maps a kept line in the filtered data back to where it ends in the original chunk.
type span struct {
	filteredEnd int64
	originalEnd int64
}

func (u *Uploader) Send(ctx context.Context, chunk *internal.Chunk) output.Result {
	filtered, spans := u.apply(chunk.Data)
	if len(filtered) == len(chunk.Data) {
		return u.next.Send(ctx, chunk)
	}
	if len(filtered) == 0 {
		return output.DeliveredResult(int64(len(chunk.Data)))
	}

	sub := *chunk
	sub.Data = filtered
	res := u.next.Send(ctx, &sub)
	if res.Kind != output.Delivered {
		return res
	}
	res.Accepted = originalAccepted(spans, res.Accepted, int64(len(chunk.Data)))
	return res
}

// apply returns the kept lines and, for each of them, the end offsets in both buffers.
func (u *Uploader) apply(data []byte) ([]byte, []span) {
	var (
		out   []byte
		spans []span
		pos   int64
	)
	for len(data) > 0 {
		line := data
		if i := bytes.IndexByte(data, '\n'); i >= 0 {
			line = data[:i+1]
		}
		data = data[len(line):]
		pos += int64(len(line))

		if u.grep.Keep(bytes.TrimRight(line, "\r\n")) {
			out = append(out, line...)
			spans = append(spans, span{filteredEnd: int64(len(out)), originalEnd: pos})
		}
	}
	return out, spans
}

// originalAccepted translates the bytes accepted of the filtered data into bytes of the original
// chunk. Dropped lines after the last accepted line are only covered when everything was accepted.
func originalAccepted(spans []span, accepted, total int64) int64 {
	if len(spans) == 0 || accepted >= spans[len(spans)-1].filteredEnd {
		return total
	}
	var end int64
	for _, s := range spans {
		if s.filteredEnd > accepted {
			break
		}
		end = s.originalEnd
	}
	return end
}

func (u *Uploader) Close() error {
	return u.next.Close()
}
