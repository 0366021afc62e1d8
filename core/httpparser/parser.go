// Package httpparser implements the incremental HTTP/1.1 request-line and
// header parser that drives a connection's ReadRequestHeader state. It
// consumes only the header block from raw_in, leaving any trailing body (or
// pipelined next request) bytes queued for the body-ingestion step.
//
// The whole-buffer-rescan strategy is carried over from the original
// core/http/parser.go and core/engine.go handleRead, which reparse the full
// accumulated read buffer on every invocation rather than maintaining parser
// state across calls; here that means peeking (not draining) raw_in until a
// complete header block is visible, then consuming exactly that much.
package httpparser

import (
	"bytes"
	"net/textproto"
	"strconv"
	"strings"

	"github.com/liteworker/litehttpd/core/chunkqueue"
	"github.com/liteworker/litehttpd/core/http"
)

// Result classifies the outcome of one parse attempt.
type Result int

const (
	// GoOn: a complete request line and header block were consumed from
	// raw_in and req is ready for the body-ingestion step.
	GoOn Result = iota
	// WaitForEvent: raw_in does not yet hold a complete header block; the
	// caller should wait for more bytes to arrive and retry.
	WaitForEvent
	// Error: the bytes seen so far cannot form a valid request.
	Error
)

// MaxHeaderBytes bounds how large a header block (request line + headers,
// not including body) may grow before it is rejected outright, matching the
// original's fixed header-size ceiling used to cut off slow-loris style
// clients that never send a blank line.
const MaxHeaderBytes = 64 * 1024

// Parse scans raw_in for a complete "\r\n\r\n"-terminated header block. On
// GoOn it has consumed exactly that block from raw and populated req; on
// WaitForEvent or Error it has not consumed anything.
func Parse(raw *chunkqueue.Queue, req *http.Request) (Result, error) {
	segs := raw.PeekSegments(MaxHeaderBytes + 4)
	if len(segs) == 0 {
		return WaitForEvent, nil
	}

	buf := coalesce(segs)

	idx := bytes.Index(buf, []byte("\r\n\r\n"))
	if idx < 0 {
		if len(buf) > MaxHeaderBytes {
			return Error, errHeaderTooLarge
		}
		return WaitForEvent, nil
	}

	headerBlock := buf[:idx]
	if err := parseHeaderBlock(headerBlock, req); err != nil {
		return Error, err
	}

	raw.Consume(int64(idx + 4))
	return GoOn, nil
}

func coalesce(segs [][]byte) []byte {
	if len(segs) == 1 {
		return segs[0]
	}
	var total int
	for _, s := range segs {
		total += len(s)
	}
	out := make([]byte, 0, total)
	for _, s := range segs {
		out = append(out, s...)
	}
	return out
}

func parseHeaderBlock(block []byte, req *http.Request) error {
	lineEnd := bytes.IndexByte(block, '\n')
	if lineEnd < 0 {
		return errMalformedRequestLine
	}
	requestLine := trimCR(block[:lineEnd])
	if err := parseRequestLine(requestLine, req); err != nil {
		return err
	}

	rest := block[lineEnd+1:]
	for len(rest) > 0 {
		i := bytes.IndexByte(rest, '\n')
		var line []byte
		if i < 0 {
			line = rest
			rest = nil
		} else {
			line = rest[:i]
			rest = rest[i+1:]
		}
		line = trimCR(line)
		if len(line) == 0 {
			continue
		}
		if err := parseHeaderLine(line, req); err != nil {
			return err
		}
	}
	return nil
}

func trimCR(b []byte) []byte {
	if n := len(b); n > 0 && b[n-1] == '\r' {
		return b[:n-1]
	}
	return b
}

func parseRequestLine(line []byte, req *http.Request) error {
	sp1 := bytes.IndexByte(line, ' ')
	if sp1 < 0 {
		return errMalformedRequestLine
	}
	rest := line[sp1+1:]
	sp2 := bytes.IndexByte(rest, ' ')
	if sp2 < 0 {
		return errMalformedRequestLine
	}

	req.Method = unsafeString(line[:sp1])
	target := rest[:sp2]
	req.Proto = unsafeString(rest[sp2+1:])

	if q := bytes.IndexByte(target, '?'); q >= 0 {
		req.Path = unsafeString(target[:q])
		parseQuery(unsafeString(target[q+1:]), req)
	} else {
		req.Path = unsafeString(target)
	}

	if req.Method == "" || req.Path == "" || !strings.HasPrefix(req.Proto, "HTTP/") {
		return errMalformedRequestLine
	}
	if len(req.Method) > maxMethodLen {
		return errMethodTooLong
	}
	if len(req.Path) > maxPathLen {
		return errPathTooLong
	}
	return nil
}

func parseQuery(raw string, req *http.Request) {
	if raw == "" {
		return
	}
	if req.Query == nil {
		req.Query = make(map[string]string)
	}
	for raw != "" {
		var pair string
		if i := strings.IndexByte(raw, '&'); i >= 0 {
			pair, raw = raw[:i], raw[i+1:]
		} else {
			pair, raw = raw, ""
		}
		if pair == "" {
			continue
		}
		if i := strings.IndexByte(pair, '='); i >= 0 {
			req.Query[pair[:i]] = pair[i+1:]
		} else {
			req.Query[pair] = ""
		}
	}
}

func parseHeaderLine(line []byte, req *http.Request) error {
	colon := bytes.IndexByte(line, ':')
	if colon < 0 {
		return errMalformedHeader
	}
	key := textproto.CanonicalMIMEHeaderKey(unsafeString(bytes.TrimSpace(line[:colon])))
	value := unsafeString(bytes.TrimSpace(line[colon+1:]))
	req.SetHeader(key, value)

	if strings.EqualFold(key, "Expect") && strings.EqualFold(value, "100-continue") {
		req.ExpectContinue = true
	}
	return nil
}

// ContentLength parses req's Content-Length header, returning -1 if absent
// (no declared body length, the same sentinel a Transfer-Encoding: chunked
// request without Content-Length would carry). A malformed value is
// reported as an error so the caller can fail the request rather than guess
// at a body length.
func ContentLength(req *http.Request) (int64, error) {
	if req.ContentLength == "" {
		return -1, nil
	}
	n, err := strconv.ParseInt(req.ContentLength, 10, 64)
	if err != nil || n < 0 {
		return 0, errMalformedHeader
	}
	return n, nil
}
