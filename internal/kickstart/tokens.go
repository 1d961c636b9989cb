package kickstart

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// The fixed vocabularies a document is validated against. Anything
// outside of these sets fails parsing.
var (
	knownFSTypes = map[string]bool{
		"ext2":     true,
		"ext3":     true,
		"ext4":     true,
		"vfat":     true,
		"squashfs": true,
		"swap":     true,
		"none":     true,
	}

	knownTableTypes = map[string]bool{
		"msdos": true,
		"gpt":   true,
	}

	knownCompressors = map[string]bool{
		"none": true,
		"gzip": true,
		"zstd": true,
	}
)

// parseSize parses a size token with an optional binary suffix: a bare
// number is megabytes, k/K kilobytes, M megabytes, G gigabytes, all
// 1024-based to match the conventions of the upstream layout documents.
func parseSize(tok string) (uint64, error) {
	s := strings.TrimSpace(tok)
	if s == "" {
		return 0, fmt.Errorf("empty size")
	}

	multiplier := uint64(1024 * 1024)
	switch s[len(s)-1] {
	case 'k', 'K':
		multiplier = 1024
		s = s[:len(s)-1]
	case 'M':
		multiplier = 1024 * 1024
		s = s[:len(s)-1]
	case 'G':
		multiplier = 1024 * 1024 * 1024
		s = s[:len(s)-1]
	}

	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q", tok)
	}
	if n > math.MaxUint64/multiplier {
		return 0, fmt.Errorf("size %q is out of range", tok)
	}
	return n * multiplier, nil
}

// splitTokens splits a directive line into tokens, honoring double
// quotes. Quotes are stripped; there is no escaping inside quotes, which
// matches the simple shell-like syntax of the documents.
func splitTokens(line string) ([]string, error) {
	var tokens []string
	var cur strings.Builder
	inQuote := false
	started := false

	for _, r := range line {
		switch {
		case r == '"':
			inQuote = !inQuote
			started = true
		case !inQuote && (r == ' ' || r == '\t'):
			if started {
				tokens = append(tokens, cur.String())
				cur.Reset()
				started = false
			}
		default:
			cur.WriteRune(r)
			started = true
		}
	}
	if inQuote {
		return nil, fmt.Errorf("unterminated quote")
	}
	if started {
		tokens = append(tokens, cur.String())
	}
	return tokens, nil
}

// parseSourceParams parses a `k=v[,k=v...]` option value.
func parseSourceParams(val string) (map[string]string, error) {
	params := make(map[string]string)
	for _, kv := range strings.Split(val, ",") {
		if kv == "" {
			continue
		}
		k, v, found := strings.Cut(kv, "=")
		if !found || k == "" {
			return nil, fmt.Errorf("invalid source parameter %q", kv)
		}
		params[k] = v
	}
	return params, nil
}
