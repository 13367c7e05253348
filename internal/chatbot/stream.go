// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chatbot

import (
	"context"
	"io"
	"strings"
	"sync"

	"github.com/nvalden/sitechat/internal/sse"
)

// =============================================================================
// RESPONSE STREAM
// =============================================================================

// Stream is one in-flight chat response. It owns the response body and must
// be closed exactly once; Close is safe to call multiple times and after EOF.
type Stream struct {
	body io.ReadCloser
	dec  *sse.Decoder

	closeOnce sync.Once
	closeErr  error
}

func newStream(body io.ReadCloser) *Stream {
	return &Stream{
		body: body,
		dec:  sse.NewDecoder(body),
	}
}

// Recv returns the next text chunk of the response.
//
// It returns io.EOF when the response is complete, the context's error if
// ctx is cancelled mid-stream, and the underlying transport error otherwise.
func (s *Stream) Recv(ctx context.Context) (string, error) {
	return s.dec.Next(ctx)
}

// Accumulate consumes the rest of the stream into a single string. On error
// the content received so far is returned alongside it.
func (s *Stream) Accumulate(ctx context.Context) (string, error) {
	var b strings.Builder
	for {
		chunk, err := s.Recv(ctx)
		if err == io.EOF {
			return b.String(), nil
		}
		if err != nil {
			return b.String(), err
		}
		b.WriteString(chunk)
	}
}

// Close releases the underlying response body. Closing before EOF aborts the
// transfer, which is how an in-flight send is cancelled at the wire level.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.body.Close()
	})
	return s.closeErr
}
