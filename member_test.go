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
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func TestEncodeDecodeMemberHeader_roundTrip(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name        string
		hdr         memberHeader
		chunksCount int
		level       int
	}{
		{
			name:        "bare",
			hdr:         memberHeader{},
			chunksCount: 0,
			level:       DefaultCompression,
		},
		{
			name: "name and comment",
			hdr: memberHeader{
				name:    "dictionary.txt",
				comment: "a dictionary",
				modTime: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
				os:      OSUnix,
			},
			chunksCount: 3,
			level:       BestCompression,
		},
		{
			name: "user extra subfield",
			hdr: memberHeader{
				os: OSUnknown,
				extra: []byte{
					'A', 'Z',
					0x2, 0x0,
					0xab, 0xcd,
				},
			},
			chunksCount: 1,
			level:       BestSpeed,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			head, err := encodeMemberHeader(RandomAccessChunkSize, tc.chunksCount, tc.level, tc.hdr)
			if err != nil {
				t.Fatalf("encodeMemberHeader: %v", err)
			}

			for i := 0; i < tc.chunksCount; i++ {
				putUint16At(head, memberChunkSizesOffset+i*2, uint16(100+i))
			}

			// Append a trailing byte so decodeMemberHeader's callers (which
			// read past EXTRA/NAME/COMMENT) have something to not-consume.
			body := append(append([]byte{}, head...), 0xAB)

			fixed := body[:10]
			got, consumed, err := decodeMemberHeader(bytes.NewReader(body[10:]), fixed)
			if err != nil {
				t.Fatalf("decodeMemberHeader: %v", err)
			}

			if diff := cmp.Diff(tc.hdr.name, got.name); diff != "" {
				t.Errorf("name (-want, +got):\n%s", diff)
			}
			if diff := cmp.Diff(tc.hdr.comment, got.comment); diff != "" {
				t.Errorf("comment (-want, +got):\n%s", diff)
			}
			if diff := cmp.Diff(tc.hdr.extra, got.extra); diff != "" {
				t.Errorf("extra (-want, +got):\n%s", diff)
			}
			if diff := cmp.Diff(RandomAccessChunkSize, got.chunkSize); diff != "" {
				t.Errorf("chunkSize (-want, +got):\n%s", diff)
			}
			if diff := cmp.Diff(tc.chunksCount, len(got.sizes)); diff != "" {
				t.Errorf("len(sizes) (-want, +got):\n%s", diff)
			}
			for i, sz := range got.sizes {
				if sz != 100+i {
					t.Errorf("sizes[%d] = %d, want %d", i, sz, 100+i)
				}
			}

			if diff := cmp.Diff(int64(len(head)-10), consumed); diff != "" {
				t.Errorf("consumed (-want, +got):\n%s", diff)
			}
		})
	}
}

func TestDecodeMemberHeader_notGzip(t *testing.T) {
	t.Parallel()

	fixed := make([]byte, 10)
	fixed[0] = 0x00 // wrong ID1
	fixed[1] = hdrGzipID2

	_, _, err := decodeMemberHeader(bytes.NewReader(nil), fixed)
	if diff := cmp.Diff(ErrNotGzip, err, cmpopts.EquateErrors()); diff != "" {
		t.Errorf("decodeMemberHeader (-want, +got):\n%s", diff)
	}
}

func TestDecodeRASubfield_zeroChlen(t *testing.T) {
	t.Parallel()

	data := []byte{
		0x1, 0x0, // VER = 1
		0x0, 0x0, // CHLEN = 0
		0x0, 0x0, // CHCNT = 0
	}

	_, _, err := decodeRASubfield(data)
	if diff := cmp.Diff(ErrMalformed, err, cmpopts.EquateErrors()); diff != "" {
		t.Errorf("decodeRASubfield (-want, +got):\n%s", diff)
	}
}

func TestEncodeMemberHeader_chunksExceedLimit(t *testing.T) {
	t.Parallel()

	_, err := encodeMemberHeader(RandomAccessChunkSize, ChunksPerMember+1, DefaultCompression, memberHeader{})
	if diff := cmp.Diff(ErrInvariant, err, cmpopts.EquateErrors()); diff != "" {
		t.Errorf("encodeMemberHeader (-want, +got):\n%s", diff)
	}
}
