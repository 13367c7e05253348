// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package sse decodes the chat service's streaming response body into text
// chunks.
package sse

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
)

// MaxRecordSize is the maximum allowed size for a single record (64KB).
// A transport delivering an unbounded line is treated as an error rather
// than buffered indefinitely.
const MaxRecordSize = 64 * 1024

// Terminator is the sentinel payload that ends a stream.
const Terminator = "[DONE]"

// =============================================================================
// DECODER
// =============================================================================

// Decoder turns a raw byte stream into a sequence of text chunks.
//
// The transport delivers newline-delimited records. Records carrying the
// event-stream "data:" marker have the marker stripped before their payload
// is yielded; a payload equal to Terminator ends the sequence. "event:",
// "id:", "retry:" and comment records are recognized and dropped. Any other
// non-empty record is yielded verbatim, which tolerates transports that
// stream plain text rather than strict event-stream format.
//
// Consumption is pull-based: the consumer drives iteration through Next and
// may stop early (e.g. on cancellation) without draining the stream. The
// decoder buffers a trailing partial line across reads and interprets the
// final partial buffer on EOF with the same rules.
type Decoder struct {
	reader *bufio.Reader

	// done is set once Terminator was seen or the stream ended; every
	// subsequent Next returns io.EOF even if more bytes follow.
	done bool

	// eof is set when the last read hit end-of-body but still produced a
	// chunk; the next call reports io.EOF.
	eof bool
}

// NewDecoder creates a decoder reading from r (typically a response body).
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{
		reader: bufio.NewReader(r),
	}
}

// Next returns the next text chunk.
//
// It returns io.EOF when the stream is exhausted or the terminator was seen,
// the context's error if ctx is cancelled, and the underlying read error
// otherwise. Read errors are never swallowed.
func (d *Decoder) Next(ctx context.Context) (string, error) {
	for {
		if d.done {
			return "", io.EOF
		}
		if d.eof {
			d.done = true
			return "", io.EOF
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		default:
		}

		line, err := d.reader.ReadString('\n')
		if err != nil && err != io.EOF {
			return "", fmt.Errorf("read stream: %w", err)
		}
		if err == io.EOF {
			// Flush: interpret the final partial line, then report EOF on
			// the following call.
			d.eof = true
		}

		if len(line) > MaxRecordSize {
			return "", fmt.Errorf("record exceeds %d bytes", MaxRecordSize)
		}

		record := strings.TrimRight(line, "\r\n")
		chunk, yield, terminal := decodeRecord(record)
		if terminal {
			d.done = true
			return "", io.EOF
		}
		if yield {
			return chunk, nil
		}
		// Metadata or blank record: keep reading.
	}
}

// Drain consumes the remaining chunks into a single string. Primarily a test
// and tooling convenience; interactive consumers iterate Next directly.
func (d *Decoder) Drain(ctx context.Context) (string, error) {
	var b strings.Builder
	for {
		chunk, err := d.Next(ctx)
		if err == io.EOF {
			return b.String(), nil
		}
		if err != nil {
			return b.String(), err
		}
		b.WriteString(chunk)
	}
}

// =============================================================================
// RECORD FRAMING
// =============================================================================

// decodeRecord interprets one complete record.
// Returns the chunk to yield, whether to yield it, and whether the record
// terminates the stream.
func decodeRecord(record string) (chunk string, yield bool, terminal bool) {
	if record == "" {
		return "", false, false
	}

	if payload, ok := strings.CutPrefix(record, "data:"); ok {
		// Strip the single space of "data: "; further whitespace belongs to
		// the payload (token chunks may legitimately start with a space).
		payload = strings.TrimPrefix(payload, " ")
		if strings.TrimSpace(payload) == Terminator {
			return "", false, true
		}
		if payload == "" {
			return "", false, false
		}
		return payload, true, false
	}

	// Known metadata markers are dropped, not yielded.
	if strings.HasPrefix(record, "event:") ||
		strings.HasPrefix(record, "id:") ||
		strings.HasPrefix(record, "retry:") ||
		strings.HasPrefix(record, ":") {
		return "", false, false
	}

	// Anything else is a raw text line from a non-event-stream transport.
	return record, true, false
}
