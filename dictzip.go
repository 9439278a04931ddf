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

// Package dictzip implements the dictzip compression format.
// Dictzip compresses files using the gzip(1) algorithm (LZ77) in a manner which
// is completely compatible with the gzip file format.
// See: https://linux.die.net/man/1/dictzip
// See: https://linux.die.net/man/1/gzip
// See: https://datatracker.ietf.org/doc/html/rfc1952
//
// [Reader] and [Writer] are single-threaded and are not safe for parallel
// use. [Pipeline] drives a multi-goroutine compressor (one manager, a pool
// of compressor workers, and a writer) and is the recommended way to
// dictzip large inputs; see pipeline.go.
package dictzip

import "math"

const (
	// RandomAccessChunkSize is the fixed uncompressed chunk length (CHLEN)
	// used by [Pipeline] unless [PipelineConfig].ChunkSize overrides it;
	// [Reader] and [CFile] take CHLEN from each file's header. It matches the chunk size
	// used by the reference dictzip(1)/dictunzip(1) tools.
	RandomAccessChunkSize = 58315

	// ChunksPerMember is the maximum number of chunks a single gzip member
	// may record, bounded by the 16-bit length of the RA EXTRA subfield:
	// (0xFFFF - 4 - 6) / 2.
	ChunksPerMember = (math.MaxUint16 - 4 - 6) / 2
)
