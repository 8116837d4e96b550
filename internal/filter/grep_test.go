package filter

import (
	"context"
	"testing"

	"github.com/MuchTitan/go-log-shipper/internal"
	"github.com/MuchTitan/go-log-shipper/internal/output"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newGrep(t *testing.T, config map[string]any) *Grep {
	t.Helper()
	g := &Grep{}
	require.NoError(t, g.Init(config))
	return g
}

func TestGrepInit(t *testing.T) {
	tests := []struct {
		name    string
		config  map[string]any
		wantErr bool
	}{
		{"defaults", map[string]any{}, false},
		{"yaml list", map[string]any{"Regex": []any{"error", "warn"}}, false},
		{"string list", map[string]any{"Exclude": []string{"debug"}}, false},
		{"bad op", map[string]any{"Op": "xor"}, true},
		{"bad pattern", map[string]any{"Regex": []any{"("}}, true},
		{"not a list", map[string]any{"Regex": "error"}, true},
		{"non string entry", map[string]any{"Exclude": []any{1}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := (&Grep{}).Init(tt.config)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestGrepKeep(t *testing.T) {
	tests := []struct {
		name   string
		config map[string]any
		line   string
		want   bool
	}{
		{"no patterns", map[string]any{}, "anything", true},
		{"or one match", map[string]any{"Op": "or", "Regex": []any{"error.*", "critical"}}, "error occurred", true},
		{"and missing match", map[string]any{"Regex": []any{"error.*", "critical"}}, "error occurred", false},
		{"and all match", map[string]any{"Regex": []any{"error", "critical"}}, "critical error", true},
		{"exclude wins", map[string]any{"Op": "or", "Regex": []any{"error"}, "Exclude": []any{"debug"}}, "debug error", false},
		{"exclude only", map[string]any{"Exclude": []any{"^DEBUG"}}, "INFO started", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newGrep(t, tt.config)
			assert.Equal(t, tt.want, g.Keep([]byte(tt.line)))
		})
	}
}

type recordingUploader struct {
	sent     [][]byte
	accepted int64 // -1 accepts everything
	result   output.Result
}

func (r *recordingUploader) Name() string { return "rec" }

func (r *recordingUploader) Send(_ context.Context, chunk *internal.Chunk) output.Result {
	r.sent = append(r.sent, append([]byte(nil), chunk.Data...))
	if r.result.Kind != output.Delivered {
		return r.result
	}
	if r.accepted >= 0 {
		return output.DeliveredResult(r.accepted)
	}
	return output.DeliveredResult(int64(len(chunk.Data)))
}

func (r *recordingUploader) Close() error { return nil }

func TestUploaderDropsLines(t *testing.T) {
	next := &recordingUploader{accepted: -1}
	u := NewUploader(next, newGrep(t, map[string]any{"Exclude": []any{"^DEBUG"}}))

	data := "INFO a\nDEBUG b\nINFO c\nDEBUG d\n"
	res := u.Send(context.Background(), &internal.Chunk{Path: "a.log", Data: []byte(data)})

	assert.Equal(t, output.Delivered, res.Kind)
	assert.Equal(t, int64(len(data)), res.Accepted)
	require.Len(t, next.sent, 1)
	assert.Equal(t, "INFO a\nINFO c\n", string(next.sent[0]))
	assert.Equal(t, "rec+grep", u.Name())
}

func TestUploaderAllDropped(t *testing.T) {
	next := &recordingUploader{accepted: -1}
	u := NewUploader(next, newGrep(t, map[string]any{"Exclude": []any{"noise"}}))

	res := u.Send(context.Background(), &internal.Chunk{Data: []byte("noise\nnoise\n")})
	assert.Equal(t, output.Delivered, res.Kind)
	assert.Equal(t, int64(12), res.Accepted)
	assert.Empty(t, next.sent)
}

func TestUploaderPassesUnfilteredChunk(t *testing.T) {
	next := &recordingUploader{accepted: 3}
	u := NewUploader(next, newGrep(t, map[string]any{}))

	res := u.Send(context.Background(), &internal.Chunk{Data: []byte("abc\ndef\n")})
	assert.Equal(t, int64(3), res.Accepted)
}

func TestUploaderPartialAcceptance(t *testing.T) {
	// filtered data is "keep1\nkeep2\n"; the sink accepts only the first line.
	next := &recordingUploader{accepted: 6}
	u := NewUploader(next, newGrep(t, map[string]any{"Exclude": []any{"drop"}}))

	res := u.Send(context.Background(), &internal.Chunk{Data: []byte("keep1\ndrop\nkeep2\n")})
	assert.Equal(t, int64(6), res.Accepted)
}

func TestUploaderForwardsFailures(t *testing.T) {
	next := &recordingUploader{result: output.Transient(assert.AnError)}
	u := NewUploader(next, newGrep(t, map[string]any{"Exclude": []any{"drop"}}))

	res := u.Send(context.Background(), &internal.Chunk{Data: []byte("keep\ndrop\n")})
	assert.Equal(t, output.TransientFailure, res.Kind)
	assert.ErrorIs(t, res.Err, assert.AnError)
}
