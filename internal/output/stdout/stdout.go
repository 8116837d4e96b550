package outputstdout

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"
	"text/template"
	"time"

	"github.com/MuchTitan/go-log-shipper/internal"
	"github.com/MuchTitan/go-log-shipper/internal/output"
	"github.com/MuchTitan/go-log-shipper/internal/util"
)

var ValidFormats = []string{"json", "plain", "template"}

// Stdout prints every shipped line. Used for dry runs and local debugging.
type Stdout struct {
	name       string
	format     string             // json, plain or template
	template   *template.Template // custom output template
	jsonIndent bool
	mutex      sync.Mutex // one chunk is printed without interleaving
	colors     bool
}

type line struct {
	Timestamp time.Time
	Source    string
	Offset    int64
	Line      string
}

func (s *Stdout) Name() string {
	return s.name
}

func (s *Stdout) Init(config map[string]any) error {
	var templateText string
	err := util.StringFields(config, map[string]*string{
		"Name":     &s.name,
		"Format":   &s.format,
		"Template": &templateText,
	})
	if err != nil {
		return err
	}
	if s.name == "" {
		s.name = "stdout"
	}

	if s.format == "" {
		s.format = "json"
	}

	if !slices.Contains(ValidFormats, s.format) {
		return fmt.Errorf("not a valid format for stdout provided: %s", s.format)
	}

	if indent, exists := config["JsonIndent"]; exists && s.format == "json" {
		var ok bool
		if s.jsonIndent, ok = indent.(bool); !ok {
			return errors.New("cant convert json indent parameter to bool")
		}
	}

	if colors, exists := config["Colors"]; exists {
		var ok bool
		if s.colors, ok = colors.(bool); !ok {
			return errors.New("cant convert colors parameter to bool")
		}
	}

	if templateText != "" {
		tmpl, err := template.New("output").Parse(templateText)
		if err != nil {
			return fmt.Errorf("failed to parse template: %v", err)
		}
		s.template = tmpl
		s.format = "template"
	}
	if s.format == "template" && s.template == nil {
		return errors.New("template format requires a Template")
	}

	return nil
}

func (s *Stdout) Send(_ context.Context, chunk *internal.Chunk) output.Result {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	now := time.Now()
	offset := chunk.Start
	for _, raw := range bytes.SplitAfter(chunk.Data, []byte{'\n'}) {
		l := line{
			Timestamp: now,
			Source:    chunk.Path,
			Offset:    offset,
			Line:      strings.TrimRight(string(raw), "\r\n"),
		}
		offset += int64(len(raw))
		if l.Line == "" {
			continue
		}

		var out string
		var err error
		switch s.format {
		case "json":
			out, err = s.formatJSON(l)
		case "template":
			out, err = s.formatTemplate(l)
		default:
			out, err = s.formatPlain(l)
		}
		if err != nil {
			return output.Permanent(fmt.Errorf("failed to format line: %w", err))
		}

		if s.colors {
			out = s.colorize(out)
		}

		if _, err := fmt.Fprintln(os.Stdout, out); err != nil {
			return output.Transient(err)
		}
	}

	return output.DeliveredResult(int64(len(chunk.Data)))
}

func (s *Stdout) formatJSON(l line) (string, error) {
	formatted := map[string]any{
		"timestamp": l.Timestamp.Format(time.RFC3339),
		"path":      l.Source,
		"offset":    l.Offset,
		"line":      l.Line,
	}

	var data []byte
	var err error
	if s.jsonIndent {
		data, err = json.MarshalIndent(formatted, "", "  ")
	} else {
		data, err = json.Marshal(formatted)
	}
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (s *Stdout) formatTemplate(l line) (string, error) {
	if s.template == nil {
		return "", fmt.Errorf("template not configured")
	}

	builder := &strings.Builder{}
	if err := s.template.Execute(builder, l); err != nil {
		return "", err
	}
	return builder.String(), nil
}

// formatPlain renders "timestamp [path:offset] line".
func (s *Stdout) formatPlain(l line) (string, error) {
	return fmt.Sprintf("%s [%s:%d] %s", l.Timestamp.Format(time.RFC3339), l.Source, l.Offset, l.Line), nil
}

func (s *Stdout) colorize(out string) string {
	const (
		colorReset  = "\033[0m"
		colorRed    = "\033[31m"
		colorGreen  = "\033[32m"
		colorYellow = "\033[33m"
		colorBlue   = "\033[34m"
	)

	lower := strings.ToLower(out)
	switch {
	case strings.Contains(lower, "error"):
		return colorRed + out + colorReset
	case strings.Contains(lower, "warn"):
		return colorYellow + out + colorReset
	case strings.Contains(lower, "info"):
		return colorGreen + out + colorReset
	default:
		return colorBlue + out + colorReset
	}
}

func (s *Stdout) Close() error {
	return nil
}
