// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"
)

// readBufferSize is the size of a single read from the response body.
const readBufferSize = 4096

// Fold reads r until EOF, a terminal event, or ctx cancellation, folding
// every read through Process. A multi-byte rune split across two reads is
// held back until it is complete.
func Fold(ctx context.Context, r io.Reader, onChunk func(string)) (State, error) {
	st := NewState()
	buf := make([]byte, readBufferSize)
	var pending []byte

	for !st.Done {
		if err := ctx.Err(); err != nil {
			return st, err
		}

		n, err := r.Read(buf)
		if n > 0 {
			pending = append(pending, buf[:n]...)
			cut := completePrefix(pending)
			st = Process(st, string(pending[:cut]), onChunk)
			pending = append(pending[:0], pending[cut:]...)
		}

		if err != nil {
			if errors.Is(err, io.EOF) {
				if len(pending) > 0 {
					st = Process(st, string(pending), onChunk)
				}
				return Flush(st, onChunk), nil
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return st, ctxErr
			}
			return st, fmt.Errorf("failed to read stream: %w", err)
		}
	}
	return st, nil
}

// completePrefix returns the length of the longest prefix of b that does not
// end inside an incomplete UTF-8 sequence.
func completePrefix(b []byte) int {
	// A rune is at most utf8.UTFMax bytes, so only the tail needs checking.
	for i := 1; i <= utf8.UTFMax && i <= len(b); i++ {
		start := len(b) - i
		if !utf8.RuneStart(b[start]) {
			continue
		}
		if utf8.FullRune(b[start:]) {
			return len(b)
		}
		return start
	}
	return len(b)
}
