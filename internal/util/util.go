package util

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// WildcardMatch reports whether input matches a pattern where '*' matches any run of characters.
func WildcardMatch(input, pattern string) bool {
	// Split the pattern by '*' and get the parts.
	if pattern == "" && input != "" {
		return false
	}
	parts := strings.Split(pattern, "*")
	if len(parts) == 1 {
		return input == pattern
	}

	// Keep track of the current position in the input string.
	pos := 0

	for i, part := range parts {
		if part == "" {
			continue
		}

		// The first part must be a prefix.
		if i == 0 && !strings.HasPrefix(input, part) {
			return false
		}

		// The last part must be a suffix.
		if i == len(parts)-1 && !strings.HasSuffix(input, part) {
			return false
		}

		index := strings.Index(input[pos:], part)
		if index == -1 {
			return false
		}

		pos += index + len(part)
	}

	return true
}

// MatchAny reports whether input matches one of the patterns. An empty list matches everything.
func MatchAny(input string, patterns []string) bool {
	if len(patterns) == 0 {
		return true
	}
	for _, p := range patterns {
		if WildcardMatch(input, p) {
			return true
		}
	}
	return false
}

// LogGroupName derives the destination group from the key prefix and service name.
func LogGroupName(prefix, service string) string {
	return fmt.Sprintf("%s-%s", prefix, service)
}

// LogStreamName derives the destination stream from the key prefix, the UTC upload date and the
// source file base name.
func LogStreamName(prefix string, at time.Time, path string) string {
	return fmt.Sprintf("%s-%s-%s", prefix, at.UTC().Format("20060102"), filepath.Base(path))
}

// String returns config[key] as a string. A missing or nil value is the empty string, any other
// non-string value is an error.
func String(config map[string]any, key string) (string, error) {
	data := config[key]
	if data == nil {
		return "", nil
	}
	stringData, ok := data.(string)
	if !ok {
		return "", fmt.Errorf("cant convert %s value %v (%T) to string", key, data, data)
	}
	return stringData, nil
}

// StringFields fills each target with the string setting of the same key.
func StringFields(config map[string]any, targets map[string]*string) error {
	keys := make([]string, 0, len(targets))
	for key := range targets {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		value, err := String(config, key)
		if err != nil {
			return err
		}
		*targets[key] = value
	}
	return nil
}
