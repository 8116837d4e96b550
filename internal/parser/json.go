package parser

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/MuchTitan/go-log-shipper/internal/util"
)

type Json struct {
	name       string
	timeKey    string
	timeFormat string
}

func (j *Json) Name() string {
	return j.name
}

func (j *Json) Init(config map[string]any) error {
	err := util.StringFields(config, map[string]*string{
		"Name":       &j.name,
		"TimeKey":    &j.timeKey,
		"TimeFormat": &j.timeFormat,
	})
	if err != nil {
		return err
	}
	if j.name == "" {
		j.name = "json"
	}

	if j.timeFormat == "" {
		j.timeFormat = time.RFC3339
	} else if time.Now().Format(j.timeFormat) == j.timeFormat {
		return fmt.Errorf("not a valid time format in json Parser: %s", j.timeFormat)
	}

	return nil
}

func (j *Json) Parse(line string) (map[string]any, time.Time, bool) {
	var fields map[string]any
	if err := json.Unmarshal([]byte(line), &fields); err != nil {
		return nil, time.Time{}, false
	}
	return fields, extractTime(fields, j.timeKey, j.timeFormat), true
}
