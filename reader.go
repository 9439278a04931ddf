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
	"compress/flate"
	"encoding/binary"
	"fmt"
	"io"
	"sort"
	"time"
)

const (
	// OSFAT represents an FAT filesystem OS (MS-DOS, OS/2, NT/Win32).
	OSFAT byte = iota

	// OSAmiga represents the Amiga OS.
	OSAmiga

	// OSVMS represents VMS (or OpenVMS).
	OSVMS

	// OSUnix represents Unix operating systems.
	OSUnix

	// OSVM represents VM/CMS.
	OSVM

	// OSAtari represents Atari TOS.
	OSAtari

	// OSHPFS represents HPFS filesystem (OS/2, NT).
	OSHPFS

	// OSMacintosh represents the Macintosh operating system.
	OSMacintosh

	// OSZSystem represents Z-System.
	OSZSystem

	// OSCPM represents the CP/M operating system.
	OSCPM

	// OSTOPS20 represents the TOPS-20 operating system.
	OSTOPS20

	// OSNTFS represents an NTFS filesystem OS (NT).
	OSNTFS

	// OSQDOS represents QDOS.
	OSQDOS

	// OSAcorn represents Acorn RISCOS.
	OSAcorn

	// OSUnknown represents an unknown operating system.
	OSUnknown = 0xff
)

const (
	// XFLSlowest indicates that the compressor used maximum compression (e.g. slowest algorithm).
	XFLSlowest byte = 0x2

	// XFLFastest indicates that the compressor used the fastest algorithm.
	XFLFastest byte = 0x4
)

// readCloseResetter is an interface that wraps the io.ReadCloser and
// flate.Resetter interfaces. This is used because the flate.NewReader
// unfortunately returns an io.ReadCloser instead of a concrete type.
type readCloseResetter interface {
	io.ReadCloser
	flate.Resetter
}

// Header is the gzip file header of a DZ file's first member.
//
// Strings must be UTF-8 encoded and may only contain Unicode code points
// U+0001 through U+00FF, due to limitations of the gzip file format.
type Header struct {
	// Comment is the COMMENT header field.
	Comment string

	// Extra includes all EXTRA sub-fields except the dictzip RA sub-field.
	Extra []byte

	// ModTime is the MTIME modification time field.
	ModTime time.Time

	// Name is the NAME header field.
	Name string

	// OS is the OS header field.
	OS byte

	// chunkSize is the size of uncompressed dictzip chunks, taken from the
	// first member. Every later member must agree or [Reader.Reset] fails
	// with [ErrUnsupported].
	chunkSize int

	// sizes is the concatenation, across all members, of the compressed
	// chunk sizes.
	sizes []int
}

// ChunkSize returns the dictzip uncompressed data chunk size.
func (h *Header) ChunkSize() int {
	return h.chunkSize
}

// Sizes returns the dictzip sizes for the compressed data chunks, in
// order, across every member of the file.
func (h *Header) Sizes() []int {
	return h.sizes
}

// memberInfo is the per-member index entry built while scanning a DZ file:
// where its chunks live in the underlying file, and where its uncompressed
// bytes live in the logical (decompressed) address space.
type memberInfo struct {
	chunkSize    int
	base         int64   // logical offset of this member's first uncompressed byte
	isize        int64   // logical size of this member
	chunkOffsets []int64 // file offsets bounding each chunk; len(sizes)+1 entries
}

// memberAt returns the memberInfo covering logical offset off, and true, or
// the zero value and false if off is at or past the end of the file.
func memberAt(members []memberInfo, off int64) (memberInfo, bool) {
	i := sort.Search(len(members), func(i int) bool {
		return members[i].base+members[i].isize > off
	})
	if i >= len(members) {
		return memberInfo{}, false
	}
	return members[i], true
}

// Reader implements [io.Reader] and [io.ReaderAt]. It provides random access
// to the compressed data of a multi-member DZ file.
type Reader struct {
	// Header is the gzip header data of the first member, valid after
	// [NewReader] or [Reader.Reset].
	Header

	r io.ReadSeeker
	z readCloseResetter

	// offset is the offset into the uncompressed data.
	offset int64

	// size is the total logical (uncompressed) size of the file.
	size int64

	// members is the per-member chunk index, in file order.
	members []memberInfo
}

// NewReader returns a new dictzip [Reader] reading compressed data from the
// given reader. It does not assume control of the given [io.Reader]. It is the
// responsibility of the caller to Close on that reader when it is not longer
// used.
//
// NewReader will call Seek on the given reader to ensure that it is being read
// from the beginning.
//
// It is the callers responsibility to call [Reader.Close] on the returned
// [Reader] when done.
func NewReader(r io.ReadSeeker) (*Reader, error) {
	fr := flate.NewReader(r)
	z := &Reader{
		z: fr.(readCloseResetter),
	}
	if err := z.Reset(r); err != nil {
		return nil, err
	}

	return z, nil
}

// Reset discards the reader's state and resets it to the initial state as
// returned by NewReader but reading from the r instead.
//
// Reset will call Seek on the given reader to ensure that it is being read
// from the beginning.
func (z *Reader) Reset(r io.ReadSeeker) error {
	z.r = r
	z.offset = 0
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("%w: Seek: %w", errDictzip, err)
	}

	members, err := scanMembers(r)
	if err != nil {
		return err
	}
	if len(members) == 0 {
		return fmt.Errorf("%w: no members found", ErrMalformed)
	}
	z.members = members
	last := members[len(members)-1]
	z.size = last.base + last.isize

	first := members[0]
	z.Header.chunkSize = first.chunkSize
	var allSizes []int
	for _, m := range members {
		allSizes = append(allSizes, sizesFromOffsets(m.chunkOffsets)...)
	}
	z.Header.sizes = allSizes

	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("%w: Seek: %w", errDictzip, err)
	}
	fhdr, _, _, err := tryDecodeMemberHeader(r)
	if err != nil {
		return err
	}
	z.Header.Name = fhdr.name
	z.Header.Comment = fhdr.comment
	z.Header.ModTime = fhdr.modTime
	z.Header.OS = fhdr.os
	z.Header.Extra = fhdr.extra

	if err := z.z.Reset(r, nil); err != nil {
		return fmt.Errorf("%w: Reset: %w", errDictzip, err)
	}

	return nil
}

// sizesFromOffsets recovers per-chunk compressed sizes from a member's
// chunkOffsets prefix-sum array.
func sizesFromOffsets(offsets []int64) []int {
	if len(offsets) == 0 {
		return nil
	}
	sizes := make([]int, len(offsets)-1)
	for i := range sizes {
		sizes[i] = int(offsets[i+1] - offsets[i])
	}
	return sizes
}

// scanMembers traverses every gzip member in r sequentially, building the
// chunk offset index described in the package's random-access design: for
// each member, record the file offset of its first chunk, then each
// subsequent chunk's offset as a running sum of the previous chunk's
// recorded compressed length.
func scanMembers(r io.ReadSeeker) ([]memberInfo, error) {
	var members []memberInfo
	var base int64
	firstChunkSize := 0

	for {
		headerStart, err := r.Seek(0, io.SeekCurrent)
		if err != nil {
			return nil, fmt.Errorf("%w: Seek: %w", errDictzip, err)
		}

		hdr, consumed, eof, err := tryDecodeMemberHeader(r)
		if eof {
			break
		}
		if err != nil {
			return nil, err
		}

		if firstChunkSize == 0 {
			firstChunkSize = hdr.chunkSize
		} else if hdr.chunkSize != firstChunkSize {
			return nil, fmt.Errorf("%w: member CHLEN %d disagrees with first member CHLEN %d",
				ErrUnsupported, hdr.chunkSize, firstChunkSize)
		}

		dataStart := headerStart + consumed
		chunkOffsets := make([]int64, len(hdr.sizes)+1)
		chunkOffsets[0] = dataStart
		for i, sz := range hdr.sizes {
			if sz <= 0 {
				return nil, fmt.Errorf("%w: chunk %d has non-positive compressed size", ErrMalformed, i)
			}
			if sz > 0xFFFF {
				return nil, fmt.Errorf("%w: chunk %d compressed size %d exceeds 0xFFFF", ErrMalformed, i, sz)
			}
			chunkOffsets[i+1] = chunkOffsets[i] + int64(sz)
		}
		bodyEnd := chunkOffsets[len(chunkOffsets)-1]

		// The member body is followed by an empty raw-deflate FINISH block
		// (produced by closing the deflate stream after its last
		// sync-flushed chunk) and then the 8-byte CRC32+ISIZE trailer. The
		// FINISH block is not itself counted in any chunk's recorded RA
		// length. It is either the 2-byte empty fixed-Huffman block (03 00)
		// or the 5-byte empty stored block (01 00 00 ff ff); the first byte
		// tells them apart.
		if _, err := r.Seek(bodyEnd, io.SeekStart); err != nil {
			return nil, fmt.Errorf("%w: Seek: %w", errDictzip, err)
		}
		trailer := make([]byte, 2+8)
		if _, err := io.ReadFull(r, trailer); err != nil {
			return nil, headerErr(fmt.Errorf("member trailer: %w", err))
		}
		if trailer[0] == 0x01 {
			more := make([]byte, 3)
			if _, err := io.ReadFull(r, more); err != nil {
				return nil, headerErr(fmt.Errorf("member trailer: %w", err))
			}
			trailer = append(trailer[3:], more...)
		}
		isize := binary.LittleEndian.Uint32(trailer[6:10])

		members = append(members, memberInfo{
			chunkSize:    hdr.chunkSize,
			base:         base,
			isize:        int64(isize),
			chunkOffsets: chunkOffsets,
		})
		base += int64(isize)
	}

	return members, nil
}

// Close closes the reader. It does not close the underlying io.Reader.
func (z *Reader) Close() error {
	//nolint:wrapcheck // error does not need to be wrapped
	return z.z.Close()
}

// Read implements [io.Reader].
func (z *Reader) Read(p []byte) (int, error) {
	buf, err := z.readSpan(z.offset, len(p))
	n := copy(p, buf)
	z.offset += int64(n)
	return n, err
}

// ReadAt implements [io.ReaderAt.ReadAt].
func (z *Reader) ReadAt(p []byte, off int64) (int, error) {
	buf, err := z.readSpan(off, len(p))
	return copy(p, buf), err
}

// readSpan reads up to size bytes starting at offset, as readChunk, but
// continues across gzip member boundaries instead of stopping at them.
//
// A DZ file may hold several members in sequence (the writer starts a new
// one every [ChunksPerMember] chunks); readChunk returns io.EOF the moment
// it reaches the end of the member it is currently decoding, which is only
// the end of the logical file when no member follows. readSpan treats an
// io.EOF short of the file's total size as a signal to resume decoding from
// the next member rather than surfacing a mid-file io.EOF to the caller.
func (z *Reader) readSpan(offset int64, size int) ([]byte, error) {
	out := make([]byte, 0, size)
	for len(out) < size {
		buf, err := z.readChunk(offset+int64(len(out)), size-len(out))
		out = append(out, buf...)

		if err == nil {
			continue
		}
		if err == io.EOF && offset+int64(len(out)) < z.size { //nolint:errorlint // readChunk returns the unwrapped sentinel.
			if len(buf) == 0 {
				// No progress was made even though more logical data is
				// expected to follow: the member ended before its recorded
				// isize, which means the file is malformed rather than
				// merely spanning a member boundary.
				return out, fmt.Errorf("%w: member ended before its recorded size", ErrMalformed)
			}
			continue
		}
		return out, err
	}
	return out, nil
}

// Seek implements [io.Seeker.Seek].
func (z *Reader) Seek(offset int64, whence int) (int64, error) {
	var err error

	switch whence {
	case io.SeekStart:
		if offset < 0 {
			err = errNegativeOffset
		} else {
			z.offset = offset
		}
	case io.SeekCurrent:
		newOffset := z.offset + offset
		if newOffset < 0 {
			err = errNegativeOffset
		} else {
			z.offset = newOffset
		}
	case io.SeekEnd:
		newOffset := z.size + offset
		if newOffset < 0 {
			err = errNegativeOffset
		} else {
			z.offset = newOffset
		}
	default:
		err = fmt.Errorf("%w: %v", errUnsupportedSeek, whence)
	}

	return z.offset, err
}

// readChunk reads and decompresses data of size at offset. It returns the
// bytes read, which may be fewer than size at end of file.
func (z *Reader) readChunk(offset int64, size int) ([]byte, error) {
	if offset >= z.size {
		return nil, io.EOF
	}

	m, ok := memberAt(z.members, offset)
	if !ok {
		return nil, io.EOF
	}
	localOffset := offset - m.base
	chunkNum := localOffset / int64(m.chunkSize)
	if chunkNum >= int64(len(m.chunkOffsets))-1 {
		return nil, io.EOF
	}
	chunkBegin := m.chunkOffsets[chunkNum]
	chunkEnd := m.chunkOffsets[chunkNum+1]
	if chunkEnd <= chunkBegin {
		return nil, fmt.Errorf("%w: empty or reversed chunk range", ErrMalformed)
	}
	if chunkEnd-chunkBegin > 0xFFFF {
		return nil, fmt.Errorf("%w: chunk range exceeds 0xFFFF", ErrMalformed)
	}

	if _, err := z.r.Seek(chunkBegin, io.SeekStart); err != nil {
		return nil, fmt.Errorf("Seek: %w", err)
	}

	// Reset the flate.Reader
	if err := z.z.Reset(z.r, nil); err != nil {
		return nil, fmt.Errorf("Reset: %w", err)
	}

	// The offset into the logical file at the start of the chunk.
	chunkFileOffset := m.base + chunkNum*int64(m.chunkSize)

	// The size to read from the chunk. Includes some amount of data
	// (readStart bytes) at the beginning of the chunk that will
	// be discarded.
	int64size := int64(size)
	readStart := offset - chunkFileOffset
	chunkReadSize := int64size + readStart

	buf := make([]byte, chunkReadSize)
	totalRead := int64(0)
	var err error

	// Attempt to read the full amount requested.
	// NOTE: It seems that the flate.Reader may read less than the given buffer
	// size and still not return an error if reading across a sync marker. This
	// is different than most io.Reader implementations.
	for err == nil && totalRead < chunkReadSize {
		var n int
		n, err = z.z.Read(buf[totalRead:])
		totalRead += int64(n)
	}

	// Check if we read less bytes than the start of our read.
	if totalRead < readStart {
		//nolint:wrapcheck // we must return unwrapped io.EOF for io.Reader
		return nil, err
	}

	//nolint:wrapcheck // we must return unwrapped io.EOF for io.Reader
	return buf[readStart:totalRead], err
}
