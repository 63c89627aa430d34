// Package control reads the flags the command front end leaves in a shared
// YAML file, for example:
//
//	remoteEnab: true
//	logEnab: false
//
// The front end may rewrite the file at any time. Every failure to read or
// decode it, or a missing key, reads as "flag absent".
package control

import (
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// RemoteForwardKey enables forwarding telemetry to the remote collector.
const RemoteForwardKey = "remoteEnab"

// RecordKey starts and stops the CSV frame recorder.
const RecordKey = "logEnab"

// Reader looks up flags in the control file. It never writes the file.
type Reader struct {
	path string
}

func NewReader(path string) *Reader {
	return &Reader{path: path}
}

// Flags returns the whole mapping, or nil when the file cannot be used.
func (r *Reader) Flags() map[string]any {
	data, err := os.ReadFile(r.path)
	if err != nil || len(data) == 0 {
		return nil
	}
	var flags map[string]any
	if err := yaml.Unmarshal(data, &flags); err != nil {
		return nil
	}
	return flags
}

// Flag returns the value stored under key and whether it was present.
func (r *Reader) Flag(key string) (any, bool) {
	v, ok := r.Flags()[key]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

// Enabled reports whether key is present and truthy.
func (r *Reader) Enabled(key string) bool {
	v, ok := r.Flag(key)
	return ok && truthy(v)
}

func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case int:
		return t != 0
	case int64:
		return t != 0
	case uint64:
		return t != 0
	case float64:
		return t != 0
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "", "0", "false", "no", "off":
			return false
		}
		return true
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	}
	return false
}
