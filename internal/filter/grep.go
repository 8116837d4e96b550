package filter

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/MuchTitan/go-log-shipper/internal/util"
)

// Grep decides per line whether it is shipped.
type Grep struct {
	name    string
	op      string           // Available Operation are "and" and "or"
	regex   []*regexp.Regexp // Postitive Match sends the line
	exclude []*regexp.Regexp // Postitive Match doesent send the line
}

func (g *Grep) Name() string {
	return g.name
}

func (g *Grep) Init(config map[string]any) error {
	err := util.StringFields(config, map[string]*string{
		"Op":   &g.op,
		"Name": &g.name,
	})
	if err != nil {
		return err
	}

	if g.op == "" {
		g.op = "and"
	}
	if g.op != "and" && g.op != "or" {
		return fmt.Errorf("unsupported logic operator '%s' in Grep Filter", g.op)
	}

	if g.name == "" {
		g.name = "grep"
	}

	if g.regex, err = compileAll(config["Regex"]); err != nil {
		return fmt.Errorf("regex: %w", err)
	}
	if g.exclude, err = compileAll(config["Exclude"]); err != nil {
		return fmt.Errorf("exclude: %w", err)
	}
	return nil
}

func compileAll(value any) ([]*regexp.Regexp, error) {
	if value == nil {
		return nil, nil
	}

	var patterns []string
	switch v := value.(type) {
	case []string:
		patterns = v
	case []any:
		for _, p := range v {
			s, ok := p.(string)
			if !ok {
				return nil, errors.New("cant convert patterns to string array")
			}
			patterns = append(patterns, s)
		}
	default:
		return nil, errors.New("cant convert patterns to string array")
	}

	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, err
		}
		compiled = append(compiled, re)
	}
	return compiled, nil
}

// Keep reports whether line passes the filter. With "and" every Regex has to match, with "or"
// one is enough. A matching Exclude pattern always drops the line.
func (g *Grep) Keep(line []byte) bool {
	for _, re := range g.exclude {
		if re.Match(line) {
			return false
		}
	}
	if len(g.regex) == 0 {
		return true
	}

	matches := 0
	for _, re := range g.regex {
		if re.Match(line) {
			if g.op == "or" {
				return true
			}
			matches++
		}
	}
	return matches == len(g.regex)
}
