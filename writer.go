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
	"bytes"
	"compress/flate"
	"encoding/binary"
	"fmt"
	"hash"
	"hash/crc32"
	"io"
	"math"
	"os"
)

const (
	// DefaultChunkSize is the default chunk size used when writing dictzip files.
	DefaultChunkSize = math.MaxUint16
)

const (
	// NoCompression performs no compression on the input.
	NoCompression = flate.NoCompression

	// BestSpeed provides the lowest level of compression but the fastest
	// performance.
	BestSpeed = flate.BestSpeed

	// BestCompression provides the highest level of compression but the slowest
	// performance.
	BestCompression = flate.BestCompression

	// DefaultCompression is the default compression level used for compressing
	// chunks. It provides a balance between compression and performance.
	DefaultCompression = flate.DefaultCompression

	// HuffmanOnly disables Lempel-Ziv match searching and only performs Huffman
	// entropy encoding. See [flate.HuffmanOnly].
	HuffmanOnly = flate.HuffmanOnly
)

// Writer implements [io.WriteCloser] for writing dictzip files single
// threaded. Writer writes chunks to a temporary file during write and copies
// the resulting data to the final file when a member is closed, either
// because it reached [ChunksPerMember] chunks or because [Writer.Close] was
// called.
//
// Large inputs are better served by [Pipeline], which parallelizes chunk
// compression across a pool of goroutines; Writer is appropriate for small
// inputs or callers that need to stream compressed output without first
// knowing its total size.
//
// [Writer.Close] must be called in order to write the file correctly.
type Writer struct {
	// Header is written to the file's first member when it is closed. Name,
	// Comment, ModTime, OS and Extra are only consulted for the first
	// member: RFC 1952 carries them once per file, not once per member.
	Header

	// tmp is the temporary file where the current member's chunks are
	// staged.
	tmp *os.File

	// hasData is true if data has been written to the chunk buffer but
	// hasn't been finalized and written to tmp. We need this because we
	// can't simply call z.Flush and check chunkBuf.Len due to the fact
	// that flate.Writer will write sync markers on every call to Flush
	// even if no data has been written.
	hasData bool

	// chunkBuf is the current compressed chunk.
	chunkBuf *bytes.Buffer

	// compressor is the compression writer used to write the current
	// compressed chunk to chunkBuf.
	compressor *flate.Writer

	// w is the io.Writer for the final destination for the compressed file.
	w io.Writer

	// digest is the CRC-32 digest (IEEE polynomial) of the current
	// member's uncompressed data. See RFC-1952 Section 2.3.1.
	digest hash.Hash32

	// memberIsize is the uncompressed size written so far to the current
	// member.
	memberIsize int64

	// memberSizes are the compressed chunk sizes recorded so far for the
	// current member.
	memberSizes []int

	// wroteMember is true once the first member has been closed; it
	// gates whether Name/Comment/ModTime/Extra are still emitted.
	wroteMember bool

	// level is the compression level being used.
	level int

	// closed indicates the writer has been closed.
	closed bool
}

// NewWriter initializes a new dictzip [Writer] with the default compression
// level and chunk size.
//
// The OS Header is always set to [OSUnknown] (0xff) by default.
func NewWriter(w io.Writer) (*Writer, error) {
	return NewWriterLevel(w, DefaultCompression, DefaultChunkSize)
}

// NewWriterLevel initializes a new dictzip [Writer] with the given compression
// level and chunk size.
//
// The OS Header is always set to [OSUnknown] (0xff) by default.
func NewWriterLevel(w io.Writer, level, chunkSize int) (*Writer, error) {
	if chunkSize <= 0 || chunkSize > math.MaxUint16 {
		return nil, fmt.Errorf("%w: chunk size %d out of range", ErrInvariant, chunkSize)
	}

	tmp, err := os.CreateTemp("", "dictzip.*")
	if err != nil {
		return nil, fmt.Errorf("%w: creating temp file: %w", errDictzip, err)
	}

	var buf bytes.Buffer
	fw, err := flate.NewWriter(&buf, level)
	if err != nil {
		return nil, fmt.Errorf("%w: initializing deflate writer: %w", errDictzip, err)
	}

	z := Writer{
		Header: Header{
			OS: OSUnknown,
		},
		tmp:        tmp,
		hasData:    false,
		chunkBuf:   &buf,
		compressor: fw,
		w:          w,
		digest:     crc32.NewIEEE(),
		level:      level,
	}
	z.chunkSize = chunkSize

	return &z, nil
}

// Write implements [io.Writer]. It compresses p in [Header.ChunkSize]-sized
// pieces, starting a new gzip member automatically whenever the current one
// reaches [ChunksPerMember] chunks.
func (z *Writer) Write(p []byte) (int, error) {
	if z.closed {
		return 0, fmt.Errorf("%w: Write called on closed writer", errDictzip)
	}

	var i int
	for i < len(p) {
		j := i + z.chunkSize - int(z.memberIsize%int64(z.chunkSize))
		if j > len(p) {
			j = len(p)
		}

		n, err := z.compressor.Write(p[i:j])
		z.memberIsize += int64(n)
		if err != nil {
			return i + n, fmt.Errorf("%w: compressing: %w", errDictzip, err)
		}
		if _, err := z.digest.Write(p[i : i+n]); err != nil {
			return i + n, fmt.Errorf("%w: updating digest: %w", errDictzip, err)
		}
		i += n
		if n > 0 {
			z.hasData = true
		}

		if z.memberIsize%int64(z.chunkSize) == 0 {
			if err := z.flushChunk(); err != nil {
				return i, err
			}
			if len(z.memberSizes) >= ChunksPerMember {
				if err := z.closeMember(); err != nil {
					return i, err
				}
			}
		}
	}

	return i, nil
}

// Close flushes and closes the current member and, in turn, the writer. It
// does not close the underlying [io.Writer].
func (z *Writer) Close() error {
	if z.closed {
		return nil
	}
	z.closed = true
	defer z.tmp.Close()

	return z.closeMember()
}

// flushChunk sync-flushes the compressor, recording the resulting chunk's
// compressed length and staging it in the member's temporary file.
func (z *Writer) flushChunk() error {
	if !z.hasData {
		return nil
	}

	if err := z.compressor.Flush(); err != nil {
		return fmt.Errorf("%w: compressing: %w", errDictzip, err)
	}

	z.memberSizes = append(z.memberSizes, z.chunkBuf.Len())

	if _, err := io.Copy(z.tmp, z.chunkBuf); err != nil {
		return fmt.Errorf("%w: staging chunk: %w", errDictzip, err)
	}

	z.chunkBuf.Reset()
	z.compressor.Reset(z.chunkBuf)
	z.hasData = false

	return nil
}

// closeMember finalizes the current member: flushes any partial final
// chunk, closes out the raw-deflate stream, writes the member header
// (including Name/ModTime/Comment/Extra for the very first member only),
// copies the staged chunk data, and writes the CRC32+ISIZE trailer. It then
// resets all per-member state so the Writer is ready to start a new member
// if more data follows.
func (z *Writer) closeMember() error {
	if err := z.flushChunk(); err != nil {
		return err
	}
	if len(z.memberSizes) == 0 && z.wroteMember {
		// Nothing was written to this member and the file already has at
		// least one: skip emitting a spurious trailing empty member.
		return nil
	}

	if err := z.compressor.Close(); err != nil {
		return fmt.Errorf("%w: compressing: %w", errDictzip, err)
	}

	var hdr memberHeader
	if !z.wroteMember {
		hdr = memberHeader{
			name:    z.Name,
			comment: z.Comment,
			modTime: z.ModTime,
			os:      z.OS,
			extra:   z.Extra,
		}
	}
	head, err := encodeMemberHeader(z.chunkSize, len(z.memberSizes), z.level, hdr)
	if err != nil {
		return fmt.Errorf("%w: encoding header: %w", errDictzip, err)
	}
	// The member's chunks are staged in tmp, so every chunk size is already
	// in hand (as in the pipeline writer): fill the reserved chunk-length
	// vector in place before the header's only write.
	for i, sz := range z.memberSizes {
		if sz > math.MaxUint16 {
			return fmt.Errorf("%w: chunk size %d exceeds 0xFFFF", ErrInvariant, sz)
		}
		//nolint:gosec // checked above.
		binary.LittleEndian.PutUint16(head[memberChunkSizesOffset+i*2:], uint16(sz))
	}
	if _, err := z.w.Write(head); err != nil {
		return fmt.Errorf("%w: writing header: %w", errDictzip, err)
	}

	if err := z.tmp.Sync(); err != nil {
		return fmt.Errorf("%w: sync: %w", errDictzip, err)
	}
	if _, err := z.tmp.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("%w: seek: %w", errDictzip, err)
	}
	if _, err := io.Copy(z.w, z.tmp); err != nil {
		return fmt.Errorf("%w: writing chunks: %w", errDictzip, err)
	}

	// The final empty raw-deflate FINISH block produced by compressor.Close
	// above (and not yet flushed to tmp, since hasData is false).
	if _, err := io.Copy(z.w, z.chunkBuf); err != nil {
		return fmt.Errorf("%w: writing final chunk: %w", errDictzip, err)
	}

	trailer := encodeTrailer(z.digest.Sum32(), uint32(z.memberIsize)) //nolint:gosec // ISIZE wraps mod 2^32 per RFC-1952.
	if _, err := z.w.Write(trailer[:]); err != nil {
		return fmt.Errorf("%w: writing CRC-32 and isize: %w", errDictzip, err)
	}

	z.Header.sizes = append(z.Header.sizes, z.memberSizes...)
	z.wroteMember = true
	z.memberSizes = nil
	z.memberIsize = 0
	z.digest = crc32.NewIEEE()

	if err := z.tmp.Truncate(0); err != nil {
		return fmt.Errorf("%w: truncating temp file: %w", errDictzip, err)
	}
	if _, err := z.tmp.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("%w: seek: %w", errDictzip, err)
	}

	return nil
}
