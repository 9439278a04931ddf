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
	"container/heap"
	"context"
	"fmt"
	"hash"
	"hash/crc32"
	"io"
	"math"
	"os"
)

// chunkJob is one unit of compression work handed from the manager role to
// the compressor pool: a chunk of plaintext read from the source, along
// with its place in the stream.
type chunkJob struct {
	seq          int64
	data         []byte
	lastInMember bool // the last chunk of a member, including the final one
	lastChunk    bool // the last chunk of the entire source
}

// chunkResult is a completed chunkJob, as produced by a compressor worker
// and consumed by the writer role.
type chunkResult struct {
	seq          int64
	plain        []byte
	compressed   []byte
	lastInMember bool
	lastChunk    bool
}

// resultHeap is a min-heap of chunkResult ordered by seq. It is the
// pipeline's ordering set: compressor workers complete chunks in whatever
// order their goroutine gets scheduled, and the writer role uses this heap
// to hold completed-but-not-yet-writable results until the one with the
// next expected sequence number arrives.
type resultHeap []chunkResult

func (h resultHeap) Len() int           { return len(h) }
func (h resultHeap) Less(i, j int) bool { return h[i].seq < h[j].seq }
func (h resultHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *resultHeap) Push(x any) {
	*h = append(*h, x.(chunkResult)) //nolint:forcetypeassert // container/heap contract.
}

func (h *resultHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// orderingSetHWMFactor sets the pipeline's ordering-set high-water mark at
// orderingSetHWMFactor times the compressor count: the manager is paused via
// tokens once that many chunks are outstanding (dispatched but not yet
// written), which bounds the writer's ordering set to the same size.
const orderingSetHWMFactor = 3

// runWriter is the pipeline's writer role. It receives chunkResult values
// from results in arbitrary order, reorders them with an ordering set keyed
// by sequence number, and assembles the result into one or more dictzip
// gzip members via pipelineWriter, strictly in sequence order.
//
// tokens is the other end of the manager's back-pressure gate: runWriter
// releases one token per chunk it writes out, in sequence order, which is
// what lets the manager dispatch another chunk. Because the manager can
// never have more than cap(tokens) chunks outstanding, the ordering set
// below can never hold more than that many results either; an outstanding
// count would be a bug in token accounting, not a transient race, so it is
// still checked and reported as [ErrInvariant].
func runWriter(ctx context.Context, dst io.Writer, chunkSize, level int, results <-chan chunkResult, hwm int, tokens chan<- struct{}, hdr memberHeader) ([]int, error) {
	pw, err := newPipelineWriter(dst, chunkSize, level, hdr)
	if err != nil {
		return nil, err
	}
	defer pw.close() //nolint:errcheck // best-effort cleanup; writeChunk's error takes priority.

	var pending resultHeap
	heap.Init(&pending)
	var nextSeq int64

	for {
		select {
		case r := <-results:
			heap.Push(&pending, r)
			if pending.Len() > hwm {
				return nil, fmt.Errorf("%w: ordering set exceeded high water mark (%d)", ErrInvariant, hwm)
			}

			for pending.Len() > 0 && pending[0].seq == nextSeq {
				next, _ := heap.Pop(&pending).(chunkResult)
				done, err := pw.writeChunk(next)
				if err != nil {
					return nil, err
				}
				nextSeq++

				select {
				case tokens <- struct{}{}:
				case <-ctx.Done():
					return nil, fmt.Errorf("%w: %w", ErrCancelled, ctx.Err())
				}

				if done {
					return pw.allSizes, nil
				}
			}
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %w", ErrCancelled, ctx.Err())
		}
	}
}

// pipelineWriter assembles a sequence of already-compressed, already-ordered
// chunks into one or more dictzip gzip members. It plays the same role as
// [Writer], but is fed pre-compressed chunks from the pipeline's compressor
// pool instead of compressing inline, and its CRC-32/ISIZE accounting
// follows chunk delivery order rather than a single call to Write.
type pipelineWriter struct {
	w io.Writer

	chunkSize int
	level     int

	// firstHdr carries Name/Comment/ModTime/Extra for the first member
	// only, matching RFC 1952: those fields are per-file, not per-member.
	firstHdr    memberHeader
	wroteMember bool

	tmp         *os.File
	memberSizes []int
	memberIsize int64
	digest      hash.Hash32

	allSizes []int
}

func newPipelineWriter(w io.Writer, chunkSize, level int, firstHdr memberHeader) (*pipelineWriter, error) {
	tmp, err := os.CreateTemp("", "dictzip-pipeline.*")
	if err != nil {
		return nil, fmt.Errorf("%w: creating temp file: %w", errDictzip, err)
	}

	return &pipelineWriter{
		w:         w,
		chunkSize: chunkSize,
		level:     level,
		firstHdr:  firstHdr,
		tmp:       tmp,
		digest:    crc32.NewIEEE(),
	}, nil
}

// writeChunk appends one ordered, compressed chunk to the current member,
// closing the member out (and, if r.lastChunk, the whole pipelineWriter)
// when required. done is true once r.lastChunk has been processed and no
// further calls to writeChunk are expected.
func (pw *pipelineWriter) writeChunk(r chunkResult) (done bool, err error) {
	if len(r.compressed) > 0 {
		if _, err := pw.tmp.Write(r.compressed); err != nil {
			return false, fmt.Errorf("%w: staging chunk: %w", errDictzip, err)
		}
		if len(r.compressed) > math.MaxUint16 {
			return false, fmt.Errorf("%w: chunk size %d exceeds 0xFFFF", ErrInvariant, len(r.compressed))
		}
		pw.memberSizes = append(pw.memberSizes, len(r.compressed))
	}
	pw.memberIsize += int64(len(r.plain))
	if _, err := pw.digest.Write(r.plain); err != nil {
		return false, fmt.Errorf("%w: updating digest: %w", errDictzip, err)
	}

	if r.lastInMember {
		if err := pw.closeMember(r.lastChunk && len(pw.memberSizes) == 0); err != nil {
			return false, err
		}
	}

	return r.lastChunk, nil
}

// closeMember finalizes the current member: writes its header (including
// Name/ModTime/Comment/Extra for the very first member only), the staged
// chunk data, and the CRC32+ISIZE trailer, then resets per-member state.
// force writes a zero-chunk member even if no data was ever staged, which
// only happens for a wholly empty source.
func (pw *pipelineWriter) closeMember(force bool) error {
	if len(pw.memberSizes) == 0 && !force {
		return nil
	}

	var hdr memberHeader
	if !pw.wroteMember {
		hdr = pw.firstHdr
	}
	head, err := encodeMemberHeader(pw.chunkSize, len(pw.memberSizes), pw.level, hdr)
	if err != nil {
		return fmt.Errorf("%w: encoding header: %w", errDictzip, err)
	}
	for i, sz := range pw.memberSizes {
		//nolint:gosec // bounds checked in writeChunk.
		putUint16At(head, memberChunkSizesOffset+i*2, uint16(sz))
	}
	if _, err := pw.w.Write(head); err != nil {
		return fmt.Errorf("%w: writing header: %w", errDictzip, err)
	}

	if err := pw.tmp.Sync(); err != nil {
		return fmt.Errorf("%w: sync: %w", errDictzip, err)
	}
	if _, err := pw.tmp.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("%w: seek: %w", errDictzip, err)
	}
	if _, err := io.Copy(pw.w, pw.tmp); err != nil {
		return fmt.Errorf("%w: writing chunks: %w", errDictzip, err)
	}

	// The raw-deflate FINISH block: an empty final block closing out the
	// member's bitstream, produced fresh here rather than carried over from
	// any one chunk's compressor since chunks are compressed independently.
	// It is built at pw.level, the same level used for the member's data
	// chunks, which yields the 2-byte empty fixed-Huffman block.
	finish, err := deflateFinishBlock(pw.level)
	if err != nil {
		return err
	}
	if _, err := pw.w.Write(finish); err != nil {
		return fmt.Errorf("%w: writing final chunk: %w", errDictzip, err)
	}

	trailer := encodeTrailer(pw.digest.Sum32(), uint32(pw.memberIsize)) //nolint:gosec // ISIZE wraps mod 2^32 per RFC-1952.
	if _, err := pw.w.Write(trailer[:]); err != nil {
		return fmt.Errorf("%w: writing CRC-32 and isize: %w", errDictzip, err)
	}

	pw.allSizes = append(pw.allSizes, pw.memberSizes...)
	pw.wroteMember = true
	pw.memberSizes = nil
	pw.memberIsize = 0
	pw.digest = crc32.NewIEEE()

	if err := pw.tmp.Truncate(0); err != nil {
		return fmt.Errorf("%w: truncating temp file: %w", errDictzip, err)
	}
	if _, err := pw.tmp.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("%w: seek: %w", errDictzip, err)
	}

	return nil
}

// close releases the pipelineWriter's temporary file. It does not close the
// underlying destination writer.
func (pw *pipelineWriter) close() error {
	name := pw.tmp.Name()
	cerr := pw.tmp.Close()
	_ = os.Remove(name)
	if cerr != nil {
		return fmt.Errorf("%w: closing temp file: %w", errDictzip, cerr)
	}
	return nil
}
