// Copyright 2024 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package dictzip

import (
	"errors"
	"fmt"
	"io"
)

// errDictzip is the base error for all go-dictzip errors.
var errDictzip = errors.New("dictzip")

var (
	// ErrHeader indicates an error with gzip header data.
	ErrHeader = fmt.Errorf("%w: invalid header", errDictzip)

	// ErrNotGzip indicates the stream does not start with the gzip magic
	// bytes at all.
	ErrNotGzip = fmt.Errorf("%w: not a gzip stream", errDictzip)

	// ErrMalformed indicates the stream has the gzip magic but violates a
	// DZ on-disk invariant (truncated header, bad VER, length mismatch,
	// chunk bounds that don't fit the enclosing data).
	ErrMalformed = fmt.Errorf("%w: malformed dictzip stream", errDictzip)

	// ErrUnsupported indicates a well-formed gzip stream this package
	// cannot randomly access: no RA EXTRA subfield, or a later member
	// whose CHLEN disagrees with the first.
	ErrUnsupported = fmt.Errorf("%w: unsupported", errDictzip)

	// ErrInvariant indicates an internal counter or ordering invariant of
	// the compression pipeline was violated. It is always a bug, not a
	// transient condition, and is never retried.
	ErrInvariant = fmt.Errorf("%w: invariant violated", errDictzip)

	// ErrCancelled indicates an operation was aborted by a cancelled
	// [context.Context] before it completed.
	ErrCancelled = fmt.Errorf("%w: cancelled", errDictzip)

	errUnsupportedSeek = fmt.Errorf("%w: unsupported seek mode", errDictzip)
	errNegativeOffset  = fmt.Errorf("%w: negative offset", errDictzip)
	errClosed          = fmt.Errorf("%w: use of closed handle", errDictzip)
)

// headerErr wraps err as both [ErrMalformed] and [ErrHeader] if it
// represents a truncation, and as the generic package error otherwise.
func headerErr(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: %w: %w", ErrMalformed, ErrHeader, err)
	}
	return fmt.Errorf("%w: %w", errDictzip, err)
}
