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
	"encoding/binary"
	"fmt"
	"hash"
	"hash/crc32"
	"io"
	"math"
	"strings"
	"time"
)

// gzip Header Values
//
//	+---+---+---+---+---+---+---+---+---+---+
//	|ID1|ID2|CM |FLG|     MTIME     |XFL|OS |
//	+---+---+---+---+---+---+---+---+---+---+
const (
	hdrGzipID1   byte = 0x1f
	hdrGzipID2   byte = 0x8b
	hdrDeflateCM byte = 0x08
)

const (
	// hdrDictzipSI1 is the dictzip random access subfield ID value SI1.
	hdrDictzipSI1 = byte('R')
	// hdrDictzipSI2 is the dictzip random access subfield ID value SI2.
	hdrDictzipSI2 = byte('A')
)

// FLG (Flags).
// bit 0 : FTEXT (ignored).
// bit 1 : FHCRC.
// bit 2 : FEXTRA (required for dictzip).
// bit 3 : FNAME.
// bit 4 : FCOMMENT.
// bit 5-7: reserved (ignored).
const (
	flgCRC     = byte(1 << 1)
	flgEXTRA   = byte(1 << 2)
	flgNAME    = byte(1 << 3)
	flgCOMMENT = byte(1 << 4)
)

// raVersion is the only RA EXTRA subfield version this package understands.
const raVersion = 1

// memberChunkSizesOffset is the fixed byte offset, from the start of a
// member header produced by encodeMemberHeader, where the chunk-length
// vector begins: 10 bytes fixed header + 2 bytes XLEN + 4 bytes SI1/SI2/LEN +
// 6 bytes VER/CHLEN/CHCNT. NAME and COMMENT always follow the EXTRA field in
// gzip header order, so this offset does not depend on whether either is
// present.
const memberChunkSizesOffset = 10 + 2 + 4 + 6

// memberHeader is the member-scoped metadata recovered from one gzip
// member's header, shared by [Reader] (multi-member scanning) and the
// write side (header encoding).
type memberHeader struct {
	name      string
	comment   string
	modTime   time.Time
	os        byte
	xfl       byte
	extra     []byte // non-RA EXTRA subfields, verbatim
	chunkSize int    // CHLEN
	sizes     []int  // per-chunk compressed length, RA order
}

// tryDecodeMemberHeader attempts to read one member header from r. If r is
// at a clean end-of-stream (no bytes available at all), eof is true and err
// is nil: this is how the reader's member scan loop recognizes the end of
// the file. Any other truncation is reported as a malformed-header error.
func tryDecodeMemberHeader(r io.Reader) (hdr memberHeader, consumed int64, eof bool, err error) {
	head := make([]byte, 10)
	n, err := io.ReadFull(r, head)
	consumed = int64(n)
	if err != nil {
		if err == io.EOF && n == 0 { //nolint:errorlint // io.ReadFull's sentinel, not wrapped.
			return memberHeader{}, 0, true, nil
		}
		return hdr, consumed, false, headerErr(fmt.Errorf("reading header: %w", err))
	}
	hdr, rest, err := decodeMemberHeader(r, head)
	return hdr, consumed + rest, false, err
}

// decodeMemberHeader reads one gzip+RA member header from r given its
// already-read 10-byte fixed header: the EXTRA field (including the
// mandatory RA subfield), and the optional NAME/COMMENT/CRC16 fields. It
// returns the parsed header and the number of additional bytes consumed
// from r (i.e. not counting head); the file offset of the first chunk's
// compressed data is therefore the header's start offset plus 10 plus this
// return value.
//
// decodeMemberHeader returns [ErrNotGzip] if the magic bytes don't match,
// [ErrHeader] for an unknown compression method, [ErrUnsupported] if the
// EXTRA field or its RA subfield is missing, and [ErrMalformed] for a bad
// RA subfield, a truncated header or a bad header CRC-16 (the last two
// also match [ErrHeader]).
func decodeMemberHeader(r io.Reader, head []byte) (memberHeader, int64, error) {
	var hdr memberHeader
	var consumed int64

	if head[0] != hdrGzipID1 || head[1] != hdrGzipID2 {
		return hdr, consumed, fmt.Errorf("%w: ID1,ID2: %x", ErrNotGzip, head[0:2])
	}
	if head[2] != hdrDeflateCM {
		return hdr, consumed, fmt.Errorf("%w: CM: %x", ErrHeader, head[2])
	}
	flg := head[3]
	if mtime := binary.LittleEndian.Uint32(head[4:8]); mtime > 0 {
		hdr.modTime = time.Unix(int64(mtime), 0)
	}
	hdr.xfl = head[8]
	hdr.os = head[9]

	digest := crc32.NewIEEE()
	digest.Write(head)

	if flg&flgEXTRA == 0 {
		return hdr, consumed, fmt.Errorf("%w: no EXTRA field", ErrUnsupported)
	}

	n64, err := readExtra(r, digest, &hdr)
	consumed += n64
	if err != nil {
		return hdr, consumed, err
	}

	if flg&flgNAME != 0 {
		n64, name, err := readCString(r, digest)
		consumed += n64
		if err != nil {
			return hdr, consumed, err
		}
		hdr.name = name
	}

	if flg&flgCOMMENT != 0 {
		n64, comment, err := readCString(r, digest)
		consumed += n64
		if err != nil {
			return hdr, consumed, err
		}
		hdr.comment = comment
	}

	if flg&flgCRC != 0 {
		buf := make([]byte, 2)
		n, err := io.ReadFull(r, buf)
		consumed += int64(n)
		if err != nil {
			return hdr, consumed, headerErr(fmt.Errorf("CRC-16: %w", err))
		}
		want := binary.LittleEndian.Uint16(buf)
		//nolint:gosec // intentionally take the two low-order bytes of the digest.
		if got := uint16(digest.Sum32()); got != want {
			return hdr, consumed, fmt.Errorf("%w: %w: bad CRC-16 digest", ErrMalformed, ErrHeader)
		}
	}

	return hdr, consumed, nil
}

// readExtra parses the EXTRA field, writing every byte read to digest (for
// the optional FCRC check) and populating hdr's RA-derived fields.
func readExtra(r io.Reader, digest hash.Hash32, hdr *memberHeader) (int64, error) {
	var total int64

	buf := make([]byte, 2)
	n, err := io.ReadFull(r, buf)
	total += int64(n)
	if err != nil {
		return total, headerErr(fmt.Errorf("EXTRA XLEN: %w", err))
	}
	xlen := binary.LittleEndian.Uint16(buf)
	digest.Write(buf)

	extra := make([]byte, xlen)
	n, err = io.ReadFull(r, extra)
	total += int64(n)
	if err != nil {
		return total, headerErr(fmt.Errorf("reading EXTRA: %w", err))
	}
	digest.Write(extra)

	er := bytes.NewReader(extra)
	var foundRA bool
	for er.Len() > 0 {
		sub := make([]byte, 4)
		if _, err := io.ReadFull(er, sub); err != nil {
			return total, headerErr(fmt.Errorf("reading EXTRA subfield: %w", err))
		}
		si1, si2 := sub[0], sub[1]
		subLen := binary.LittleEndian.Uint16(sub[2:])

		subData := make([]byte, subLen)
		if _, err := io.ReadFull(er, subData); err != nil {
			return total, headerErr(fmt.Errorf("reading EXTRA subfield data: %w", err))
		}

		if si1 == hdrDictzipSI1 && si2 == hdrDictzipSI2 {
			chunkSize, sizes, err := decodeRASubfield(subData)
			if err != nil {
				return total, err
			}
			hdr.chunkSize = chunkSize
			hdr.sizes = sizes
			foundRA = true
		} else {
			hdr.extra = append(hdr.extra, sub...)
			hdr.extra = append(hdr.extra, subData...)
		}
	}

	if !foundRA {
		return total, fmt.Errorf("%w: no RA EXTRA subfield", ErrUnsupported)
	}
	return total, nil
}

// decodeRASubfield parses the dictzip RA subfield payload (everything after
// SI1, SI2, LEN): VER, CHLEN, CHCNT, and CHCNT chunk length entries.
func decodeRASubfield(data []byte) (int, []int, error) {
	r := bytes.NewReader(data)

	buf := make([]byte, 2)
	if _, err := io.ReadFull(r, buf); err != nil {
		return 0, nil, headerErr(fmt.Errorf("VER: %w", err))
	}
	ver := binary.LittleEndian.Uint16(buf)
	if ver != raVersion {
		return 0, nil, fmt.Errorf("%w: unsupported RA VER: %d", ErrMalformed, ver)
	}

	if _, err := io.ReadFull(r, buf); err != nil {
		return 0, nil, headerErr(fmt.Errorf("CHLEN: %w", err))
	}
	chlen := binary.LittleEndian.Uint16(buf)
	if chlen == 0 {
		return 0, nil, fmt.Errorf("%w: CHLEN is zero", ErrMalformed)
	}

	if _, err := io.ReadFull(r, buf); err != nil {
		return 0, nil, headerErr(fmt.Errorf("CHCNT: %w", err))
	}
	chcnt := binary.LittleEndian.Uint16(buf)
	if int(chcnt)*2 > r.Len() {
		return 0, nil, fmt.Errorf("%w: CHCNT exceeds RA subfield length", ErrMalformed)
	}

	sizes := make([]int, 0, chcnt)
	for i := 0; i < int(chcnt); i++ {
		if _, err := io.ReadFull(r, buf); err != nil {
			return 0, nil, headerErr(fmt.Errorf("chunk size %d: %w", i, err))
		}
		sizes = append(sizes, int(binary.LittleEndian.Uint16(buf)))
	}

	return int(chlen), sizes, nil
}

// readCString reads a NUL-terminated Latin-1 string, writing every byte
// (including the terminator) to digest.
func readCString(r io.Reader, digest hash.Hash32) (int64, string, error) {
	var total int64
	var b strings.Builder
	buf := make([]byte, 1)
	for {
		n, err := io.ReadFull(r, buf)
		total += int64(n)
		if err != nil {
			return total, "", headerErr(fmt.Errorf("string header: %w", err))
		}
		digest.Write(buf)
		if buf[0] == 0 {
			return total, b.String(), nil
		}
		b.WriteByte(buf[0])
	}
}

// encodeMemberHeader renders a complete gzip+RA member header for a member
// holding chunksCount chunks, compressed at the given level. hdr.name,
// hdr.comment, hdr.modTime and hdr.extra are included only for the first
// member of a file; callers pass a zero memberHeader for every later member,
// since RFC 1952 carries those fields once per file, not once per member.
// The returned header reserves zeroed space for the per-chunk length vector,
// which the writer backpatches once the member body has been written.
func encodeMemberHeader(chunkSize, chunksCount, level int, hdr memberHeader) ([]byte, error) {
	if chunksCount > ChunksPerMember {
		return nil, fmt.Errorf("%w: %d chunks exceeds ChunksPerMember (%d)", ErrInvariant, chunksCount, ChunksPerMember)
	}

	var buf bytes.Buffer
	head := make([]byte, 10)
	head[0] = hdrGzipID1
	head[1] = hdrGzipID2
	head[2] = hdrDeflateCM
	head[3] = flgEXTRA
	if hdr.name != "" {
		head[3] |= flgNAME
	}
	if hdr.comment != "" {
		head[3] |= flgCOMMENT
	}
	if !hdr.modTime.IsZero() {
		//nolint:gosec // wraps in 2106; not a correctness concern here.
		binary.LittleEndian.PutUint32(head[4:8], uint32(hdr.modTime.Unix()))
	}
	if level == BestCompression {
		head[8] = XFLSlowest
	}
	if hdr.os != 0 {
		head[9] = hdr.os
	} else {
		head[9] = OSUnix
	}
	buf.Write(head)

	raLen := 6 + chunksCount*2
	xlen := 4 + raLen + len(hdr.extra)
	if xlen > math.MaxUint16 {
		return nil, fmt.Errorf("%w: XLEN exceeded: %d", ErrInvariant, xlen)
	}

	extra := make([]byte, 2+xlen)
	binary.LittleEndian.PutUint16(extra[0:2], uint16(xlen))
	extra[2] = hdrDictzipSI1
	extra[3] = hdrDictzipSI2
	binary.LittleEndian.PutUint16(extra[4:6], uint16(raLen))
	binary.LittleEndian.PutUint16(extra[6:8], raVersion)
	binary.LittleEndian.PutUint16(extra[8:10], uint16(chunkSize))
	binary.LittleEndian.PutUint16(extra[10:12], uint16(chunksCount))
	// The chunksCount*2 bytes of zeroed chunk lengths are backpatched once
	// the member's body has been written; extra is already zero-valued.
	copy(extra[12+chunksCount*2:], hdr.extra)
	buf.Write(extra)

	if hdr.name != "" {
		if err := writeCString(&buf, hdr.name); err != nil {
			return nil, err
		}
	}
	if hdr.comment != "" {
		if err := writeCString(&buf, hdr.comment); err != nil {
			return nil, err
		}
	}

	return buf.Bytes(), nil
}

// writeCString appends s to buf as NUL-terminated Latin-1.
func writeCString(buf *bytes.Buffer, s string) error {
	b := make([]byte, 0, len(s)+1)
	for _, r := range s {
		if r == 0 || r > 0xff {
			return fmt.Errorf("%w: non-Latin-1 header string", ErrHeader)
		}
		b = append(b, byte(r))
	}
	b = append(b, 0)
	_, err := buf.Write(b)
	return err
}

// encodeTrailer renders the 8-byte little-endian CRC32+ISIZE trailer that
// closes every gzip member.
func encodeTrailer(crc32Sum, isize uint32) [8]byte {
	var out [8]byte
	binary.LittleEndian.PutUint32(out[0:4], crc32Sum)
	binary.LittleEndian.PutUint32(out[4:8], isize)
	return out
}

// putUint16At writes v as little-endian into buf starting at offset,
// without bounds-checking: callers that backpatch a reserved region
// (encodeMemberHeader's chunk-length vector) already know it fits.
func putUint16At(buf []byte, offset int, v uint16) {
	binary.LittleEndian.PutUint16(buf[offset:], v)
}
