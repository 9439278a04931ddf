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
	"context"
	"fmt"
	"io"
)

// runManager is the pipeline's manager role. It is the only goroutine that
// reads src, so it reads sequentially and assigns each chunk a strictly
// increasing sequence number as it goes; that assignment is what lets the
// writer role restore ordering downstream of the (unordered) compressor
// pool. runManager closes jobs once src is exhausted or an error occurs.
//
// Each chunkJob carries two flags the writer needs and the manager alone can
// determine from the read sequence: lastInMember, set on the chunk that
// completes a run of [ChunksPerMember] chunks or that precedes end of
// input, and lastChunk, set only on the very last chunk of src.
//
// tokens gates how far the manager may run ahead of the writer: it must
// acquire one token per chunk before dispatching it, and the writer releases
// one token per chunk it finally writes out in order. Since tokens is
// pre-loaded with a fixed supply (see orderingSetHWMFactor in
// pipelinewriter.go), this pauses the manager whenever that many chunks are
// outstanding (dispatched but not yet written), which is what keeps the
// writer's ordering set bounded instead of relying on it to fail once some
// other goroutine runs far enough ahead.
func runManager(ctx context.Context, src io.Reader, chunkSize int, jobs chan<- chunkJob, tokens <-chan struct{}) error {
	defer close(jobs)

	readChunk := func() ([]byte, error) {
		data := make([]byte, chunkSize)
		n, err := io.ReadFull(src, data)
		switch err {
		case nil:
			return data, nil
		case io.ErrUnexpectedEOF:
			return data[:n], nil
		case io.EOF:
			return nil, io.EOF
		default:
			return nil, fmt.Errorf("%w: reading source: %w", errDictzip, err)
		}
	}

	cur, err := readChunk()
	if err != nil {
		if err == io.EOF { //nolint:errorlint // readChunk returns the unwrapped sentinel.
			return nil
		}
		return err
	}

	var seq int64
	chunksInMember := 0
	for {
		next, nerr := readChunk()
		if nerr != nil && nerr != io.EOF { //nolint:errorlint // readChunk returns the unwrapped sentinel.
			return nerr
		}
		lastChunk := nerr == io.EOF //nolint:errorlint // readChunk returns the unwrapped sentinel.

		chunksInMember++
		lastInMember := chunksInMember >= ChunksPerMember || lastChunk
		if lastInMember {
			chunksInMember = 0
		}

		job := chunkJob{
			seq:          seq,
			data:         cur,
			lastInMember: lastInMember,
			lastChunk:    lastChunk,
		}
		seq++

		select {
		case <-tokens:
		case <-ctx.Done():
			return fmt.Errorf("%w: %w", ErrCancelled, ctx.Err())
		}

		select {
		case jobs <- job:
		case <-ctx.Done():
			return fmt.Errorf("%w: %w", ErrCancelled, ctx.Err())
		}

		if lastChunk {
			return nil
		}
		cur = next
	}
}
