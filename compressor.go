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
)

// runCompressor is the pipeline's compressor role. It drains jobs, deflates
// each chunk independently via deflateChunk, and sends the result to
// results. Any number of compressor goroutines may run this function
// concurrently against the same jobs/results channels: each chunk is
// self-contained, so there is no ordering requirement between them here.
// Ordering is restored downstream by the writer role's ordering set.
//
// runCompressor returns nil when jobs is closed and drained.
func runCompressor(ctx context.Context, jobs <-chan chunkJob, results chan<- chunkResult, level int) error {
	for {
		select {
		case job, ok := <-jobs:
			if !ok {
				return nil
			}

			compressed, err := deflateChunk(job.data, level)
			if err != nil {
				return err
			}

			result := chunkResult{
				seq:          job.seq,
				plain:        job.data,
				compressed:   compressed,
				lastInMember: job.lastInMember,
				lastChunk:    job.lastChunk,
			}

			select {
			case results <- result:
			case <-ctx.Done():
				return fmt.Errorf("%w: %w", ErrCancelled, ctx.Err())
			}
		case <-ctx.Done():
			return fmt.Errorf("%w: %w", ErrCancelled, ctx.Err())
		}
	}
}
