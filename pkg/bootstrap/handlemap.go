// Package bootstrap implements the cross-platform channel-identity
// protocol of spec.md §4.E: on POSIX, logical channel index equals host
// descriptor number and nothing further is required; on Windows, handles
// are opaque values so the parent publishes a logical-index -> handle map
// that the child parses at startup.
package bootstrap

import (
	"fmt"
	"strconv"
	"strings"
)

// EnvVar is the fixed environment variable name used to convey the
// handle map to the child on hosts without stable small-integer
// descriptor identities. Mirrors the vendor-prefixed form described in
// spec.md §4.E ("name is a fixed string chosen by the implementation").
const EnvVar = "__ARIA_FD_MAP"

// FlagName is the command-line flag accepted as a fallback when the
// environment is stripped before the child starts.
const FlagName = "--aria-fd-map"

// Entry is one <index>:<handle> pair of the map.
type Entry struct {
	Index  int
	Handle uint64
}

// Map is the parsed or to-be-serialized handle map. Only indices 3, 4, 5
// (telemetry, data-in, data-out) carry meaning in this protocol; others
// are tolerated but ignored per spec.md §4.E.
type Map []Entry

// Serialize renders the map as "<idx>:<hex>(;<idx>:<hex>)*", e.g.
// "3:0x1a4;4:0x1b8;5:0x2c0", in the order the entries appear in m
// (no sorting is applied).
func (m Map) Serialize() string {
	parts := make([]string, 0, len(m))
	for _, e := range m {
		parts = append(parts, fmt.Sprintf("%d:0x%x", e.Index, e.Handle))
	}
	return strings.Join(parts, ";")
}

// Lookup returns the handle published for a given logical index.
func (m Map) Lookup(index int) (uint64, bool) {
	for _, e := range m {
		if e.Index == index {
			return e.Handle, true
		}
	}
	return 0, false
}

// Parse decodes a handle-map string per spec.md §4.E's parsing contract:
// split on ';', split each pair at the first ':', indices are decimal,
// handles are hex (optionally 0x-prefixed, any case). Malformed pairs are
// skipped rather than failing the whole parse — a best-effort protocol
// for an environment variable that may be hand-edited or truncated.
func Parse(s string) Map {
	var out Map
	if s == "" {
		return out
	}
	for _, pair := range strings.Split(s, ";") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		colon := strings.IndexByte(pair, ':')
		if colon < 0 {
			continue
		}
		idxStr := strings.TrimSpace(pair[:colon])
		hexStr := strings.TrimSpace(pair[colon+1:])

		idx, err := strconv.Atoi(idxStr)
		if err != nil || idx < 0 {
			continue
		}

		hexStr = strings.TrimPrefix(strings.TrimPrefix(hexStr, "0x"), "0X")
		handle, err := strconv.ParseUint(hexStr, 16, 64)
		if err != nil {
			continue
		}

		out = append(out, Entry{Index: idx, Handle: handle})
	}
	return out
}
