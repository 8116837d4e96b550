package parser

import (
	"fmt"
	"strings"
	"time"

	"github.com/MuchTitan/go-log-shipper/internal/util"
)

// Parser extracts structured fields from one log line.
type Parser interface {
	Name() string
	// Parse returns the fields of line and its timestamp, zero when the line carries none.
	// ok is false when the line does not have the expected shape.
	Parse(line string) (fields map[string]any, ts time.Time, ok bool)
}

// New builds the parser named by config["Type"].
func New(config map[string]any) (Parser, error) {
	var p interface {
		Parser
		Init(config map[string]any) error
	}

	kind, err := util.String(config, "Type")
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(kind) {
	case "json":
		p = &Json{}
	case "regex":
		p = &Regex{}
	default:
		return nil, fmt.Errorf("unknown parser type: %v", config["Type"])
	}

	if err := p.Init(config); err != nil {
		return nil, err
	}
	return p, nil
}

func extractTime(fields map[string]any, timeKey, timeFormat string) time.Time {
	if timeKey == "" {
		return time.Time{}
	}
	if timeValue, ok := fields[timeKey].(string); ok {
		ts, err := time.Parse(timeFormat, timeValue)
		if err != nil {
			return time.Time{}
		}
		return ts
	}
	return time.Time{}
}
