// Package extract locates a JSON payload inside mixed model output.
//
// Strategies, first success wins:
//
//  1. the first ``` fenced block tagged json (or untagged)
//  2. the widest {...} or [...] region (first opener to last closer)
//
// Malformed JSON at either step is not an error; it just means that step
// found nothing.
package extract

import (
	"strings"

	"github.com/gzhole/outputguard/internal/jsonvalue"
)

const fence = "```"

// Result describes what Extract found.
type Result struct {
	Found bool
	// Payload is the parsed JSON; null when nothing was found.
	Payload jsonvalue.Value
	// Raw is the trimmed JSON text as it appeared in the input.
	Raw string
	// Before and After are the trimmed spans outside the matched region,
	// fence markers included in the region. When nothing was found Before
	// holds the whole input verbatim.
	Before string
	After  string
	// Region is the exact matched substring (fences included).
	Region string
	// Fenced reports whether the payload came from a code fence.
	Fenced bool
}

// Extract finds the JSON payload in text.
func Extract(text string) Result {
	if r, ok := fromFence(text); ok {
		return r
	}
	if r, ok := fromBraces(text); ok {
		return r
	}
	return Result{Before: text}
}

// fromFence inspects only the first fence whose info string is empty or
// "json"; later fences are ignored even when the first fails to parse.
func fromFence(text string) (Result, bool) {
	pos := 0
	for {
		open := strings.Index(text[pos:], fence)
		if open < 0 {
			return Result{}, false
		}
		open += pos
		bodyStart := open + len(fence)

		closeRel := strings.Index(text[bodyStart:], fence)
		if closeRel < 0 {
			return Result{}, false
		}
		closeAt := bodyStart + closeRel
		regionEnd := closeAt + len(fence)

		body := text[bodyStart:closeAt]
		info, content := splitInfo(body)
		if info != "" && !strings.EqualFold(info, "json") {
			pos = regionEnd
			continue
		}

		raw := strings.TrimSpace(content)
		v, err := jsonvalue.ParseString(raw)
		if err != nil {
			return Result{}, false
		}
		return Result{
			Found:   true,
			Payload: v,
			Raw:     raw,
			Before:  strings.TrimSpace(text[:open]),
			After:   strings.TrimSpace(text[regionEnd:]),
			Region:  text[open:regionEnd],
			Fenced:  true,
		}, true
	}
}

// splitInfo separates the fence info string (first line) from the body.
// A single-line fence such as ```{"a":1}``` has no info string.
func splitInfo(body string) (info, content string) {
	nl := strings.IndexByte(body, '\n')
	if nl < 0 {
		return "", body
	}
	first := strings.TrimSpace(body[:nl])
	if strings.ContainsAny(first, "{[") {
		return "", body
	}
	return first, body[nl+1:]
}

type span struct{ start, end int }

// fromBraces tries the object and array candidates, wider region first,
// so a stray "[1]" in the prose cannot shadow the real payload.
func fromBraces(text string) (Result, bool) {
	var candidates []span
	if s, ok := widest(text, '{', '}'); ok {
		candidates = append(candidates, s)
	}
	if s, ok := widest(text, '[', ']'); ok {
		if len(candidates) == 1 && s.end-s.start > candidates[0].end-candidates[0].start {
			candidates = append([]span{s}, candidates...)
		} else {
			candidates = append(candidates, s)
		}
	}

	for _, c := range candidates {
		region := text[c.start:c.end]
		v, err := jsonvalue.ParseString(region)
		if err != nil {
			continue
		}
		return Result{
			Found:   true,
			Payload: v,
			Raw:     region,
			Before:  strings.TrimSpace(text[:c.start]),
			After:   strings.TrimSpace(text[c.end:]),
			Region:  region,
		}, true
	}
	return Result{}, false
}

func widest(text string, open, close byte) (span, bool) {
	start := strings.IndexByte(text, open)
	end := strings.LastIndexByte(text, close)
	if start < 0 || end < start {
		return span{}, false
	}
	return span{start: start, end: end + 1}, true
}

// Embed places v in a ```json fence between before and after, separated by
// blank lines. Empty spans are skipped.
func Embed(before string, v jsonvalue.Value, after string) string {
	block := fence + "json\n" + v.Pretty() + "\n" + fence
	parts := make([]string, 0, 3)
	if s := strings.TrimSpace(before); s != "" {
		parts = append(parts, s)
	}
	parts = append(parts, block)
	if s := strings.TrimSpace(after); s != "" {
		parts = append(parts, s)
	}
	return strings.Join(parts, "\n\n")
}

// Broken is a payload that was plainly meant as JSON but does not parse.
type Broken struct {
	Raw    string
	Before string
	After  string
	Err    error
}

// FindBroken is consulted after Extract found nothing. It reports the body
// of the first fence explicitly tagged json, or the whole answer when it
// starts with { or [ and ends with the matching closer. Braces inside
// ordinary prose are not treated as broken JSON.
func FindBroken(text string) (Broken, bool) {
	if b, ok := brokenFence(text); ok {
		return b, true
	}
	trimmed := strings.TrimSpace(text)
	if len(trimmed) < 2 {
		return Broken{}, false
	}
	first, last := trimmed[0], trimmed[len(trimmed)-1]
	if (first == '{' && last == '}') || (first == '[' && last == ']') {
		if _, err := jsonvalue.ParseString(trimmed); err != nil {
			return Broken{Raw: trimmed, Err: err}, true
		}
	}
	return Broken{}, false
}

func brokenFence(text string) (Broken, bool) {
	pos := 0
	for {
		open := strings.Index(text[pos:], fence)
		if open < 0 {
			return Broken{}, false
		}
		open += pos
		bodyStart := open + len(fence)
		closeRel := strings.Index(text[bodyStart:], fence)
		if closeRel < 0 {
			return Broken{}, false
		}
		closeAt := bodyStart + closeRel
		regionEnd := closeAt + len(fence)

		info, content := splitInfo(text[bodyStart:closeAt])
		if !strings.EqualFold(info, "json") {
			pos = regionEnd
			continue
		}
		raw := strings.TrimSpace(content)
		_, err := jsonvalue.ParseString(raw)
		if err == nil {
			return Broken{}, false
		}
		return Broken{
			Raw:    raw,
			Before: strings.TrimSpace(text[:open]),
			After:  strings.TrimSpace(text[regionEnd:]),
			Err:    err,
		}, true
	}
}
