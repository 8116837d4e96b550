package outputstdout

import (
	"bytes"
	"context"
	"os"
	"strings"
	"testing"
	"text/template"
	"time"

	"github.com/MuchTitan/go-log-shipper/internal"
	"github.com/MuchTitan/go-log-shipper/internal/output"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureStdout(f func()) string {
	r, w, _ := os.Pipe()
	originalStdout := os.Stdout
	os.Stdout = w

	f()

	w.Close()
	os.Stdout = originalStdout

	var buf bytes.Buffer
	_, _ = buf.ReadFrom(r)
	return buf.String()
}

func testChunk() *internal.Chunk {
	return &internal.Chunk{
		Path:  "/logs/app.log",
		Start: 5,
		Data:  []byte("{\"message\":\"hello\"}\nsecond line\n"),
	}
}

func TestStdoutInit(t *testing.T) {
	assert.Error(t, (&Stdout{}).Init(map[string]any{"Format": "xml"}))
	assert.Error(t, (&Stdout{}).Init(map[string]any{"Format": "template"}))
	assert.Error(t, (&Stdout{}).Init(map[string]any{"Colors": "yes"}))

	s := &Stdout{}
	require.NoError(t, s.Init(map[string]any{}))
	assert.Equal(t, "stdout", s.Name())
	assert.Equal(t, "json", s.format)
}

func TestStdoutSendJSON(t *testing.T) {
	s := &Stdout{}
	require.NoError(t, s.Init(map[string]any{"Format": "json"}))

	var res output.Result
	out := captureStdout(func() {
		res = s.Send(context.Background(), testChunk())
	})

	assert.Equal(t, output.Delivered, res.Kind)
	assert.Equal(t, int64(32), res.Accepted)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"offset":5`)
	assert.Contains(t, lines[1], `"offset":25`)
	assert.Contains(t, lines[1], `"line":"second line"`)
}

func TestStdoutSendPlain(t *testing.T) {
	s := &Stdout{}
	require.NoError(t, s.Init(map[string]any{"Format": "plain"}))

	out := captureStdout(func() {
		s.Send(context.Background(), testChunk())
	})

	assert.Contains(t, out, "[/logs/app.log:25] second line")
}

func TestStdoutSendTemplate(t *testing.T) {
	s := &Stdout{}
	require.NoError(t, s.Init(map[string]any{"Template": "{{.Source}}@{{.Offset}}: {{.Line}}"}))

	out := captureStdout(func() {
		s.Send(context.Background(), testChunk())
	})

	assert.Contains(t, out, "/logs/app.log@25: second line")
}

func TestStdoutTemplateFailureIsPermanent(t *testing.T) {
	s := &Stdout{format: "template"}
	s.template = template.Must(template.New("output").Parse("{{.Missing.Field}}"))

	res := s.Send(context.Background(), testChunk())
	assert.Equal(t, output.PermanentFailure, res.Kind)
}

func TestStdoutFormatPlain(t *testing.T) {
	s := &Stdout{}
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	out, err := s.formatPlain(line{Timestamp: ts, Source: "a.log", Offset: 3, Line: "x"})
	assert.NoError(t, err)
	assert.Equal(t, "2024-01-01T00:00:00Z [a.log:3] x", out)
}

func TestStdoutColorize(t *testing.T) {
	s := &Stdout{}
	assert.Contains(t, s.colorize("error: something went wrong"), "\033[31m")
	assert.Contains(t, s.colorize("warn: be careful"), "\033[33m")
	assert.Contains(t, s.colorize("info: all good"), "\033[32m")
}

func TestStdoutClose(t *testing.T) {
	s := &Stdout{}
	assert.NoError(t, s.Close())
}
