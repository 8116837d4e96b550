package parser

import (
	"errors"
	"regexp"
	"time"

	"github.com/MuchTitan/go-log-shipper/internal/util"
)

type Regex struct {
	name       string
	re         *regexp.Regexp
	timeKey    string
	timeFormat string
	allowEmpty bool
}

func (r *Regex) Name() string {
	return r.name
}

func (r *Regex) Init(config map[string]any) error {
	var pattern string
	err := util.StringFields(config, map[string]*string{
		"Name":       &r.name,
		"Pattern":    &pattern,
		"TimeKey":    &r.timeKey,
		"TimeFormat": &r.timeFormat,
	})
	if err != nil {
		return err
	}
	if r.name == "" {
		r.name = "regex"
	}

	if pattern == "" {
		return errors.New("regex parser requires a Pattern")
	}

	r.re, err = regexp.Compile(pattern)
	if err != nil {
		return err
	}

	r.allowEmpty = config["AllowEmpty"] == true
	if r.timeFormat == "" {
		r.timeFormat = time.RFC3339
	}

	return nil
}

// Parse returns the named groups of the first match.
func (r *Regex) Parse(line string) (map[string]any, time.Time, bool) {
	matches := r.re.FindStringSubmatch(line)
	if matches == nil {
		return nil, time.Time{}, false
	}

	fields := make(map[string]any)
	for i, name := range r.re.SubexpNames() {
		if i == 0 || name == "" {
			continue
		}
		if value := matches[i]; value != "" || r.allowEmpty {
			fields[name] = value
		}
	}

	return fields, extractTime(fields, r.timeKey, r.timeFormat), true
}
