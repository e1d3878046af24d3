// Copyright 2026 The Curator Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"bufio"
	"bytes"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// Record is the parsed summary of one session file. It carries the
// raw content signals the monitor and the importance analyzer work
// from; it never holds the conversation itself.
type Record struct {
	// ID is the file name without its extension.
	ID string

	// Path is the absolute path of the record file.
	Path string

	// FileName is the base name of the record file.
	FileName string

	// Modified is the file mtime, treated as last activity.
	Modified time.Time

	// SizeBytes is the file size.
	SizeBytes int64

	// Cost is the estimated token cost: content length divided by
	// the chars-per-token ratio, rounded up. For malformed records
	// the file size stands in for the content length.
	Cost int64

	// Messages is the number of conversation messages.
	Messages int

	// Turns is the number of speaker changes, counting the first
	// message as the first turn. A long user/assistant alternation
	// yields a turn count near the message count.
	Turns int

	// TextChars is the total length of text, tool input, and tool
	// result payloads.
	TextChars int64

	// ToolCalls is the number of tool_use blocks.
	ToolCalls int

	// Tools counts tool_use blocks per tool name.
	Tools map[string]int

	// FailedCalls is the number of tool_result blocks flagged
	// is_error.
	FailedCalls int

	// ErrorMessages is the number of messages whose text carries an
	// error marker (error, failed, exception, traceback, panic).
	ErrorMessages int

	// DebugMessages is the number of messages whose text carries a
	// debugging marker (debug, bug, fix, stack trace).
	DebugMessages int

	// CodeBlocks is the number of fenced code blocks across all
	// text payloads.
	CodeBlocks int

	// LongMessages is the number of messages longer than 500
	// characters.
	LongMessages int

	// Malformed is set when the file could not be parsed as either
	// record shape and the cost was estimated from the file size.
	Malformed bool

	// lastRole tracks the previous message's role during parsing.
	lastRole string
}

// Age returns how long ago the session was last active.
func (r *Record) Age(now time.Time) time.Duration {
	return now.Sub(r.Modified)
}

// ErrorRate returns the fraction of messages indicating failure:
// messages with error markers plus failed tool calls, over the
// message count. Zero for empty or malformed records.
func (r *Record) ErrorRate() float64 {
	if r.Messages == 0 {
		return 0
	}
	failures := r.ErrorMessages + r.FailedCalls
	rate := float64(failures) / float64(r.Messages)
	if rate > 1 {
		return 1
	}
	return rate
}

// DistinctTools returns how many different tools the session used.
func (r *Record) DistinctTools() int { return len(r.Tools) }

const longMessageChars = 500

var (
	errorMarkers = []string{"error", "failed", "exception", "traceback", "panic"}
	debugMarkers = []string{"debug", "bug", "fix", "stack trace"}
)

// lineScanBuffer matches the stream-json line cap agents are written
// against: lines beyond 1MB abort the line scan and the record
// degrades to a size-based estimate.
const lineScanBuffer = 1024 * 1024

// parseContent fills a Record's content signals from raw file bytes.
// Returns false when the data matches neither record shape; the
// caller then applies the size fallback.
func (r *Record) parseContent(data []byte) bool {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return false
	}

	// Object shape: one JSON document with a messages array.
	if trimmed[0] == '{' && gjson.ValidBytes(trimmed) {
		messages := gjson.GetBytes(trimmed, "messages")
		if messages.IsArray() {
			messages.ForEach(func(_, message gjson.Result) bool {
				r.consumeMessage(message)
				return true
			})
			return true
		}
	}

	// Line shape: one JSON object per line. Lines that don't parse
	// (or aren't messages) are skipped; the shape is accepted if at
	// least one message survives.
	scanner := bufio.NewScanner(bytes.NewReader(trimmed))
	scanner.Buffer(make([]byte, 0, 64*1024), lineScanBuffer)
	parsedAny := false
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if !gjson.Valid(line) {
			continue
		}
		entry := gjson.Parse(line)

		// Stream entries wrap the message in a "message" field
		// ({"type":"assistant","message":{...}}); bare message
		// objects appear as-is.
		message := entry.Get("message")
		if !message.Exists() {
			message = entry
		}
		if !message.Get("role").Exists() {
			continue
		}
		r.consumeMessage(message)
		parsedAny = true
	}
	if err := scanner.Err(); err != nil {
		return false
	}
	return parsedAny
}

// consumeMessage folds one message into the record's counters.
func (r *Record) consumeMessage(message gjson.Result) {
	r.Messages++

	role := message.Get("role").String()
	if role != r.lastRole {
		r.Turns++
		r.lastRole = role
	}

	var messageChars int64
	hadError := false
	hadDebug := false
	addText := func(text string) {
		messageChars += int64(len(text))
		r.CodeBlocks += strings.Count(text, "```") / 2
		lowered := strings.ToLower(text)
		if !hadError {
			for _, marker := range errorMarkers {
				if strings.Contains(lowered, marker) {
					hadError = true
					break
				}
			}
		}
		if !hadDebug {
			for _, marker := range debugMarkers {
				if strings.Contains(lowered, marker) {
					hadDebug = true
					break
				}
			}
		}
	}

	content := message.Get("content")
	switch {
	case content.Type == gjson.String:
		addText(content.String())
	case content.IsArray():
		content.ForEach(func(_, block gjson.Result) bool {
			switch block.Get("type").String() {
			case "text":
				addText(block.Get("text").String())
			case "tool_use":
				r.ToolCalls++
				name := block.Get("name").String()
				if name == "" {
					name = "unknown"
				}
				if r.Tools == nil {
					r.Tools = make(map[string]int)
				}
				r.Tools[name]++
				messageChars += int64(len(block.Get("input").Raw))
			case "tool_result":
				messageChars += int64(len(block.Get("content").Raw))
				if block.Get("is_error").Bool() {
					r.FailedCalls++
				}
			}
			return true
		})
	}

	if hadError {
		r.ErrorMessages++
	}
	if hadDebug {
		r.DebugMessages++
	}
	r.TextChars += messageChars
	if messageChars > longMessageChars {
		r.LongMessages++
	}
}

// estimateCost converts a character count to tokens, rounding up.
func estimateCost(chars int64, charsPerToken int) int64 {
	if chars <= 0 {
		return 0
	}
	ratio := int64(charsPerToken)
	return (chars + ratio - 1) / ratio
}
