package router

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
)

// sensitiveFiles are basenames that filesystem tools must never touch
// (spec §4.4.4).
var sensitiveFiles = map[string]struct{}{
	".env": {}, "agents.yaml": {}, "exec_approvals.json": {},
	"chain_contracts.json": {}, "id_rsa": {}, "id_ed25519": {},
	"authorized_keys": {}, ".netrc": {}, ".npmrc": {}, ".pypirc": {},
}

// sensitiveFilePrefixes catches the ".env*" family (spec §4.4.4).
var sensitiveFilePrefixes = []string{".env"}

// sensitiveDirFragments block reads/writes anywhere under these paths
// (spec §4.4.4).
var sensitiveDirFragments = []string{"/.ssh/", "/.aws/", "/.gnupg/"}

// privateNetworkHosts are blocked destinations for network tools (spec
// §4.4.4). "169.254.*" and "127.0.0.*" are matched as prefixes below.
var privateNetworkHosts = map[string]struct{}{
	"localhost": {}, "0.0.0.0": {},
}

// SanitizeError is returned instead of a coerced parameter map when
// validation fails; the worker feeds its string back to the LLM as the
// tool's result so the model can retry with corrected parameters (spec
// §4.4.4's last bullet).
type SanitizeError struct {
	Reason string
}

func (e *SanitizeError) Error() string { return e.Reason }

// SanitizeFilePath validates a filesystem tool's target path against the
// sensitive-file/sensitive-directory denylists (spec §4.4.4). isWrite
// additionally blocks dotfile writes.
func SanitizeFilePath(path string, isWrite bool) (string, error) {
	if strings.ContainsRune(path, 0) {
		return "", &SanitizeError{Reason: "path contains a null byte"}
	}

	decoded, err := url.QueryUnescape(path)
	if err != nil {
		decoded = path
	}

	for _, candidate := range []string{path, decoded} {
		base := filepath.Base(candidate)
		if _, blocked := sensitiveFiles[base]; blocked {
			return "", &SanitizeError{Reason: fmt.Sprintf("refusing to touch sensitive file %q", base)}
		}
		for _, prefix := range sensitiveFilePrefixes {
			if strings.HasPrefix(base, prefix) {
				return "", &SanitizeError{Reason: fmt.Sprintf("refusing to touch sensitive file %q", base)}
			}
		}
		normalized := filepath.ToSlash(candidate)
		for _, frag := range sensitiveDirFragments {
			if strings.Contains(normalized, frag) {
				return "", &SanitizeError{Reason: fmt.Sprintf("refusing to touch path under %q", frag)}
			}
		}
		if isWrite && strings.HasPrefix(base, ".") {
			return "", &SanitizeError{Reason: "refusing to write a dotfile"}
		}
	}

	return path, nil
}

// SanitizeURL validates a network tool's target URL (spec §4.4.4): scheme
// must be http/https, and the host must not resolve to a private-network
// sentinel.
func SanitizeURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", &SanitizeError{Reason: "not a valid URL"}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", &SanitizeError{Reason: fmt.Sprintf("scheme %q is not allowed", u.Scheme)}
	}
	host := u.Hostname()
	if _, blocked := privateNetworkHosts[host]; blocked {
		return "", &SanitizeError{Reason: fmt.Sprintf("host %q is a private network address", host)}
	}
	if strings.HasPrefix(host, "127.0.0.") || strings.HasPrefix(host, "169.254.") {
		return "", &SanitizeError{Reason: fmt.Sprintf("host %q is a private network address", host)}
	}
	return raw, nil
}

// CoerceBool implements the "yes/true/1" → true, "no/false/0" → false
// coercion rule from spec §4.4.4.
func CoerceBool(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "yes", "true", "1":
		return true, nil
	case "no", "false", "0":
		return false, nil
	default:
		return false, &SanitizeError{Reason: fmt.Sprintf("%q is not coercible to a boolean", s)}
	}
}

// CoerceInt coerces a string to an integer per a tool's declared parameter
// schema (spec §4.4.4), rejecting non-coercible values.
func CoerceInt(s string) (int64, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, &SanitizeError{Reason: fmt.Sprintf("%q is not coercible to an integer", s)}
	}
	return n, nil
}

// CoerceFloat coerces a string to a float per a tool's declared parameter
// schema (spec §4.4.4), rejecting non-coercible values.
func CoerceFloat(s string) (float64, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, &SanitizeError{Reason: fmt.Sprintf("%q is not coercible to a float", s)}
	}
	return f, nil
}

// CoerceParam coerces a raw string parameter value to the declared kind
// ("int", "float", "bool", or anything else passed through as a string),
// returning a SanitizeError on failure (spec §4.4.4).
func CoerceParam(kind, raw string) (any, error) {
	switch kind {
	case "int":
		return CoerceInt(raw)
	case "float":
		return CoerceFloat(raw)
	case "bool":
		return CoerceBool(raw)
	default:
		return raw, nil
	}
}
