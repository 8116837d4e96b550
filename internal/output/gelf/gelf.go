package outputgelf

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/MuchTitan/go-log-shipper/internal"
	"github.com/MuchTitan/go-log-shipper/internal/output"
	"github.com/MuchTitan/go-log-shipper/internal/parser"
	"github.com/MuchTitan/go-log-shipper/internal/util"

	"gopkg.in/Graylog2/go-gelf.v2/gelf"
)

// GELF sends each line of a chunk as one GELF 1.1 message.
type GELF struct {
	name    string
	host    string
	hostKey string
	service string
	region  string
	port    int
	mode    string
	writer  gelf.Writer
	parser  parser.Parser // optional, turns line fields into additional GELF fields
	now     func() time.Time
}

func (g *GELF) Name() string {
	return g.name
}

func (g *GELF) Init(config map[string]any) error {
	err := util.StringFields(config, map[string]*string{
		"Name":        &g.name,
		"Host":        &g.host,
		"HostKey":     &g.hostKey,
		"ServiceName": &g.service,
		"Region":      &g.region,
		"Mode":        &g.mode,
	})
	if err != nil {
		return err
	}

	if g.name == "" {
		g.name = "gelf"
	}

	if g.host == "" {
		g.host = "127.0.0.1"
	}

	if g.hostKey == "" {
		hostname, _ := os.Hostname()
		g.hostKey = hostname
	}

	if g.mode == "" {
		g.mode = "udp"
	}
	if g.mode != "udp" && g.mode != "tcp" {
		return fmt.Errorf("mode: '%v' is not supported", g.mode)
	}

	if port, exists := config["Port"]; exists {
		var ok bool
		if g.port, ok = port.(int); !ok {
			return errors.New("cant convert port to int")
		}
	} else {
		g.port = 12201
	}

	if raw, exists := config["Parser"]; exists {
		parserConfig, ok := raw.(map[string]any)
		if !ok {
			return errors.New("parser setting must be a map")
		}
		p, err := parser.New(parserConfig)
		if err != nil {
			return fmt.Errorf("gelf parser: %w", err)
		}
		g.parser = p
	}

	g.now = time.Now

	return g.setupWriter()
}

func (g *GELF) setupWriter() error {
	addr := fmt.Sprintf("%s:%d", g.host, g.port)
	var w gelf.Writer
	var err error

	switch g.mode {
	case "udp":
		w, err = gelf.NewUDPWriter(addr)
	case "tcp":
		w, err = gelf.NewTCPWriter(addr)
	default:
		return fmt.Errorf("unsupported mode: %s", g.mode)
	}

	if err != nil {
		return fmt.Errorf("failed to create %s writer: %w", g.mode, err)
	}

	g.writer = w
	return nil
}

// Send writes the chunk line by line. A write error leaves the rest unsent and is transient:
// the whole chunk is offered again next cycle.
func (g *GELF) Send(ctx context.Context, chunk *internal.Chunk) output.Result {
	lineOffset := chunk.Start
	for _, line := range bytes.SplitAfter(chunk.Data, []byte{'\n'}) {
		start := lineOffset
		lineOffset += int64(len(line))

		line = bytes.TrimRight(line, "\r\n")
		if len(line) == 0 {
			continue
		}
		if err := ctx.Err(); err != nil {
			return output.Transient(err)
		}

		msg := gelf.Message{
			Version:  "1.1",
			Host:     g.hostKey,
			Short:    string(line),
			TimeUnix: float64(g.now().UnixNano()) / float64(time.Second),
			Level:    gelf.LOG_INFO,
			Extra: map[string]any{
				"_file":    chunk.Path,
				"_offset":  start,
				"_service": g.service,
				"_region":  g.region,
			},
		}

		g.enrich(&msg)

		if err := g.writer.WriteMessage(&msg); err != nil {
			return output.Transient(fmt.Errorf("gelf write failed: %w", err))
		}
	}
	return output.DeliveredResult(int64(len(chunk.Data)))
}

// enrich adds the parsed fields of the line as additional fields. The built-in _file, _offset,
// _service and _region are never overwritten.
func (g *GELF) enrich(msg *gelf.Message) {
	if g.parser == nil {
		return
	}
	fields, ts, ok := g.parser.Parse(msg.Short)
	if !ok {
		return
	}
	for k, v := range fields {
		key := "_" + k
		if k == "id" || k == "" {
			continue
		}
		if _, exists := msg.Extra[key]; exists {
			continue
		}
		msg.Extra[key] = v
	}
	if !ts.IsZero() {
		msg.TimeUnix = float64(ts.UnixNano()) / float64(time.Second)
	}
}

func (g *GELF) Close() error {
	if g.writer != nil {
		if closer, ok := g.writer.(io.Closer); ok {
			return closer.Close()
		}
	}
	return nil
}
