// Copyright 2019 Google LLC
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

package sync

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Job is one folder pass of a sweep.
type Job struct {
	Engine   *Engine
	Folder   string
	Listener Listener
}

// Sweep runs every job, at most concurrency at a time (unbounded when
// concurrency <= 0).  A failing pass does not stop the others; its
// failure reaches only its own listener.  Sweep returns ctx's error if
// the sweep was cancelled.
func Sweep(ctx context.Context, jobs []Job, concurrency int) error {
	var g errgroup.Group
	if concurrency > 0 {
		g.SetLimit(concurrency)
	}
	for _, job := range jobs {
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			_ = job.Engine.Synchronize(ctx, job.Folder, job.Listener, nil)
			return nil
		})
	}
	_ = g.Wait()
	return ctx.Err()
}
