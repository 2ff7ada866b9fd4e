// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mzip

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// Payloads decodes every entry concurrently and returns the uncompressed
// contents in directory order. workers bounds the number of concurrent
// decodes; zero or negative means runtime.NumCPU. The first failing entry
// cancels the remaining work and its error is returned.
//
// The archive must not be mutated while Payloads runs.
func (a *Archive) Payloads(ctx context.Context, workers int) ([][]byte, error) {
	if a.closed {
		return nil, ErrClosed
	}
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	entries := a.dir.snapshot()
	out := make([][]byte, len(entries))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, e := range entries {
		i, e := i, e
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			data, err := a.payload(e)
			if err != nil {
				return err
			}
			out[i] = data
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return out, nil
}
