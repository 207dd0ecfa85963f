package dredge

import (
	"context"
	"sync"

	"dredger/pkg/types"
)

// eachSite runs fn for every site with at most n workers. With n == 1 the
// sites are scanned strictly in configured order, which is the reference
// behaviour. Each site is owned by exactly one worker, so per-site scan
// state is never shared; the per-host limiter keeps request rates bounded
// when workers overlap on a host.
func eachSite(ctx context.Context, sites []types.SiteSource, n int, fn func(context.Context, types.SiteSource)) {
	if n <= 1 {
		for _, site := range sites {
			if ctx.Err() != nil {
				return
			}
			fn(ctx, site)
		}
		return
	}

	jobs := make(chan types.SiteSource)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for site := range jobs {
				if ctx.Err() != nil {
					continue
				}
				fn(ctx, site)
			}
		}()
	}

feed:
	for _, site := range sites {
		select {
		case jobs <- site:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()
}
