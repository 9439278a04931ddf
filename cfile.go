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
	"os"
)

// CFile is a dictzip file opened for random-access reading, exposing the
// stdio-like contract (cfopen/cfclose/cfread/cfseek/cftell/cfgetc/cfeof)
// that dictionary lookup tools built against the reference dictzip(1)/
// dictunzip(1) programs expect: a persistent, sticky error and end-of-file
// state that is only cleared explicitly, rather than [io.Reader]'s
// per-call error contract.
//
// CFile is not safe for concurrent use by multiple goroutines.
type CFile struct {
	f *os.File
	z *Reader

	err    error
	eof    bool
	closed bool
}

// Open opens the named dictzip file for random-access reading.
func Open(name string) (*CFile, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, fmt.Errorf("%w: opening %q: %w", errDictzip, name, err)
	}

	z, err := NewReader(f)
	if err != nil {
		_ = f.Close()
		return nil, err
	}

	return &CFile{f: f, z: z}, nil
}

// Close closes the underlying file. After Close, no other CFile method may
// be called.
func (c *CFile) Close() error {
	if c.closed {
		return errClosed
	}
	c.closed = true

	zerr := c.z.Close()
	ferr := c.f.Close()
	if zerr != nil {
		return fmt.Errorf("%w: closing: %w", errDictzip, zerr)
	}
	if ferr != nil {
		return fmt.Errorf("%w: closing: %w", errDictzip, ferr)
	}
	return nil
}

// Read reads up to len(p) bytes, as [io.Reader.Read], but also updates the
// sticky error/EOF state Err and Eof report. Once a read has failed, Read
// keeps returning that same error until [CFile.ClearErr] is called,
// matching stdio's clearerr(3) semantics.
func (c *CFile) Read(p []byte) (int, error) {
	if c.closed {
		return 0, errClosed
	}
	if c.err != nil {
		return 0, c.err
	}

	n, err := c.z.Read(p)
	if err != nil {
		if errors.Is(err, io.EOF) {
			c.eof = true
		} else {
			c.err = err
		}
	}
	return n, err
}

// Getc reads and returns a single byte, or -1 at end of file or on error;
// callers distinguish the two with [CFile.Eof] and [CFile.Err].
func (c *CFile) Getc() int {
	var buf [1]byte
	n, _ := c.Read(buf[:])
	if n == 0 {
		return -1
	}
	return int(buf[0])
}

// Seek implements [io.Seeker.Seek]. A successful Seek clears the end-of-file
// flag, matching fseek(3)'s semantics, but does not clear a sticky error;
// call [CFile.ClearErr] for that.
func (c *CFile) Seek(offset int64, whence int) (int64, error) {
	if c.closed {
		return 0, errClosed
	}
	off, err := c.z.Seek(offset, whence)
	if err != nil {
		c.err = err
		return off, err
	}
	c.eof = false
	return off, nil
}

// Tell returns the current offset into the uncompressed data, as ftell(3).
func (c *CFile) Tell() (int64, error) {
	return c.z.Seek(0, io.SeekCurrent)
}

// Eof reports whether the last read reached end of file, as feof(3). It is
// only meaningful after a read has been attempted.
func (c *CFile) Eof() bool {
	return c.eof
}

// Err reports the sticky error set by the last failing operation, as
// ferror(3) would by returning non-zero; it is nil otherwise.
func (c *CFile) Err() error {
	return c.err
}

// ClearErr resets the sticky error and end-of-file state, as clearerr(3).
func (c *CFile) ClearErr() {
	c.err = nil
	c.eof = false
}
