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
	"fmt"

	"github.com/klauspost/compress/flate"
)

// deflateChunk compresses data as one independently-inflatable raw-deflate
// chunk. It writes data with the compressor's normal flush behavior and then
// issues a sync flush, so the resulting bytes end on a byte boundary a
// [Reader] can resume decoding from without reference to any other chunk.
//
// Compressor workers in a [Pipeline] call this directly, since each chunk is
// compressed against a fresh [flate.Writer] rather than one continuous
// stream; this is what makes chunks independently seekable in the first
// place.
func deflateChunk(data []byte, level int) ([]byte, error) {
	var buf bytes.Buffer
	fw, err := flate.NewWriter(&buf, level)
	if err != nil {
		return nil, fmt.Errorf("%w: initializing deflate writer: %w", errDictzip, err)
	}

	if _, err := fw.Write(data); err != nil {
		return nil, fmt.Errorf("%w: compressing chunk: %w", errDictzip, err)
	}
	if err := fw.Flush(); err != nil {
		return nil, fmt.Errorf("%w: flushing chunk: %w", errDictzip, err)
	}

	return buf.Bytes(), nil
}

// deflateFinishBlock renders the empty raw-deflate FINISH block that closes
// out a member's bitstream: a single empty final block, two bytes once
// byte-aligned (an empty fixed-Huffman block, just the end-of-block symbol
// padded to a byte boundary). The pipeline writer appends this once per
// member, after its last chunk. [Writer] instead appends whatever its
// compress/flate compressor's Close produces, which can be the 5-byte empty
// stored block; scanMembers accepts either form.
//
// level must be a real compression level, not [NoCompression]: at
// NoCompression, flate emits a stored empty block instead (five bytes, not
// two).
func deflateFinishBlock(level int) ([]byte, error) {
	var buf bytes.Buffer
	fw, err := flate.NewWriter(&buf, level)
	if err != nil {
		return nil, fmt.Errorf("%w: initializing deflate writer: %w", errDictzip, err)
	}
	if err := fw.Close(); err != nil {
		return nil, fmt.Errorf("%w: closing deflate writer: %w", errDictzip, err)
	}
	return buf.Bytes(), nil
}
