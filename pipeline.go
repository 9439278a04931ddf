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
	"bufio"
	"context"
	"fmt"
	"io"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"
)

// PipelineConfig configures a [Pipeline].
type PipelineConfig struct {
	// Level is the flate compression level used by every compressor
	// worker. Zero selects [DefaultCompression].
	Level int

	// ChunkSize is the uncompressed chunk size. Zero selects
	// [RandomAccessChunkSize], matching the reference dictzip(1) tool.
	ChunkSize int

	// Compressors is the number of concurrent compressor goroutines. Zero
	// selects [runtime.GOMAXPROCS](0).
	Compressors int
}

func (c PipelineConfig) withDefaults() PipelineConfig {
	if c.Level == 0 {
		c.Level = DefaultCompression
	}
	if c.ChunkSize == 0 {
		c.ChunkSize = RandomAccessChunkSize
	}
	if c.Compressors <= 0 {
		c.Compressors = runtime.GOMAXPROCS(0)
	}
	return c
}

// Pipeline drives a parallel dictzip compressor with three cooperating
// roles, each run as its own goroutine group: a manager that reads the
// source and assigns chunks their sequence numbers, a pool of compressor
// workers that deflate chunks concurrently, and a writer that reassembles
// completed chunks in order and emits dictzip gzip members. The three roles
// communicate exclusively over buffered Go channels.
//
// Back-pressure is enforced by a token gate between the manager and the
// writer: the manager must acquire a token before dispatching each chunk,
// and the writer releases one only once that chunk has actually been
// written out in order. With a fixed token supply, the manager can never
// have more chunks outstanding (dispatched but not yet written) than the
// ordering-set high-water mark, regardless of how unevenly the compressor
// pool finishes them, so the writer's ordering set never needs to grow past
// that bound in the first place.
//
// Pipeline is the recommended way to dictzip large inputs; for small inputs,
// or streaming output whose total size is not known up front, [Writer] has
// lower overhead and a simpler contract.
type Pipeline struct {
	cfg PipelineConfig
}

// NewPipeline returns a [Pipeline] configured by cfg.
func NewPipeline(cfg PipelineConfig) *Pipeline {
	return &Pipeline{cfg: cfg.withDefaults()}
}

// Compress reads src to completion and writes one or more dictzip gzip
// members to dst, starting a new member automatically every
// [ChunksPerMember] chunks. name and modTime populate the first member's
// NAME and MTIME fields; pass "" and the zero [time.Time] to omit them.
//
// Compress blocks until every chunk has been written to dst in order, until
// ctx is cancelled (in which case the returned error wraps [ErrCancelled]),
// or until any pipeline stage returns an error, whichever happens first. On
// success it returns the compressed size of every chunk written, in order,
// across every member.
func (p *Pipeline) Compress(ctx context.Context, dst io.Writer, src io.Reader, name string, modTime time.Time) ([]int, error) {
	cfg := p.cfg
	hdr := memberHeader{name: name, modTime: modTime}

	br := bufio.NewReaderSize(src, cfg.ChunkSize)
	if _, err := br.Peek(1); err != nil {
		if err == io.EOF { //nolint:errorlint // bufio.Reader.Peek returns the unwrapped sentinel.
			pw, werr := newPipelineWriter(dst, cfg.ChunkSize, cfg.Level, hdr)
			if werr != nil {
				return nil, werr
			}
			defer pw.close() //nolint:errcheck // best-effort cleanup; closeMember's error takes priority.
			if err := pw.closeMember(true); err != nil {
				return nil, err
			}
			return pw.allSizes, nil
		}
		return nil, fmt.Errorf("%w: reading source: %w", errDictzip, err)
	}

	jobs := make(chan chunkJob, cfg.Compressors)
	results := make(chan chunkResult, 3*cfg.Compressors)

	hwm := orderingSetHWMFactor * cfg.Compressors
	tokens := make(chan struct{}, hwm)
	for i := 0; i < hwm; i++ {
		tokens <- struct{}{}
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return runManager(gctx, br, cfg.ChunkSize, jobs, tokens)
	})

	for i := 0; i < cfg.Compressors; i++ {
		g.Go(func() error {
			return runCompressor(gctx, jobs, results, cfg.Level)
		})
	}

	var sizes []int
	g.Go(func() error {
		s, err := runWriter(gctx, dst, cfg.ChunkSize, cfg.Level, results, hwm, tokens, hdr)
		sizes = s
		return err
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return sizes, nil
}
