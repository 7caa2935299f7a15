package parser

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/xHacka/access-log-analyzer/internal/models"
)

// Combined access log with an optional trailing forwarded-for field:
// 172.16.6.142 - - [06/Sep/2025:11:01:23 -0700] "GET /js/script.js HTTP/1.1" 200 1650 "https://example.com/" "Mozilla/5.0..." "205.169.39.128"
var combinedRegex = regexp.MustCompile(
	`^(\S+) ` + // ip
		`\S+ \S+ ` + // ident, user
		`\[([^\]]+)\] ` + // timestamp
		`"([^"]*)" ` + // request
		`(\S+) ` + // status
		`(\S+) ` + // size or -
		`"([^"]*)" ` + // referrer
		`"([^"]*)"` + // user agent
		`(?:\s+"([^"]*)")?` + // forwarded-for
		`\s*$`,
)

// ErrBlankLine is returned for empty or whitespace-only lines. Callers skip
// these without counting them as failures.
var ErrBlankLine = errors.New("blank line")

// ErrNoMatch is returned when a line does not follow the combined grammar.
var ErrNoMatch = errors.New("line does not match combined log format")

// ParseError reports which field of an otherwise well-shaped line was invalid.
type ParseError struct {
	Field string
	Value string
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid %s %q: %v", e.Field, e.Value, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ParseLine parses one combined log line.
func ParseLine(line string) (*models.LogEntry, error) {
	line = strings.TrimRight(line, "\r\n")
	if strings.TrimSpace(line) == "" {
		return nil, ErrBlankLine
	}

	m := combinedRegex.FindStringSubmatch(line)
	if m == nil {
		return nil, ErrNoMatch
	}

	ts, err := ParseTimestamp(m[2])
	if err != nil {
		return nil, &ParseError{Field: "timestamp", Value: m[2], Err: err}
	}

	method, path, protocol, err := splitRequest(m[3])
	if err != nil {
		return nil, &ParseError{Field: "request", Value: m[3], Err: err}
	}

	status, err := strconv.Atoi(m[4])
	if err != nil {
		return nil, &ParseError{Field: "status", Value: m[4], Err: err}
	}

	var size int64
	if m[5] != "-" {
		size, err = strconv.ParseInt(m[5], 10, 64)
		if err != nil {
			return nil, &ParseError{Field: "size", Value: m[5], Err: err}
		}
	}

	referrer := m[6]
	if referrer == "-" {
		referrer = ""
	}

	return &models.LogEntry{
		IP:           m[1],
		Timestamp:    ts,
		Method:       method,
		Path:         path,
		Protocol:     protocol,
		Status:       status,
		Size:         size,
		Referrer:     referrer,
		UserAgent:    m[7],
		ForwardedFor: m[8],
	}, nil
}

// splitRequest splits "METHOD PATH PROTO" on the first and last space so that
// paths containing raw spaces are kept whole.
func splitRequest(req string) (method, path, protocol string, err error) {
	first := strings.IndexByte(req, ' ')
	if first <= 0 {
		return "", "", "", errors.New("missing path")
	}
	method = req[:first]
	rest := req[first+1:]

	last := strings.LastIndexByte(rest, ' ')
	if last < 0 {
		// HTTP/0.9 style request without a protocol token.
		path = rest
	} else {
		path, protocol = rest[:last], rest[last+1:]
	}
	if path == "" {
		return "", "", "", errors.New("missing path")
	}
	return method, path, protocol, nil
}
