package downloader

import (
	"context"
	"sync"

	"github.com/xpan-cli/xpan/internal/retry"
	"github.com/xpan-cli/xpan/internal/xpanapi"
)

// linkPool holds the dlinks acquired for one download, one slot per
// worker. Workers assigned by index modulo the number of links
// actually returned, per spec.md 4.F step 3 ("round-robin if workers >
// links_returned"). Each slot is independently refreshable so a 403 on
// worker 5 doesn't disturb the links every other worker is using.
type linkPool struct {
	api   xpanapi.APIClient
	fsid  uint64
	mu    sync.Mutex
	links []string
}

// acquireLinks issues n parallel dlink requests and returns a pool
// sized to however many distinct links came back (at least one).
// policy governs the retry behavior of each individual dlink request.
func acquireLinks(ctx context.Context, api xpanapi.APIClient, fsid uint64, n int, policy retry.Policy) (*linkPool, error) {
	if n <= 0 {
		n = 1
	}
	links := make([]string, n)
	type result struct {
		idx int
		url string
		err error
	}
	results := make(chan result, n)

	for i := 0; i < n; i++ {
		go func(i int) {
			var url string
			err := retry.Do(ctx, policy, nil, func(ctx context.Context, attempt int) error {
				var err error
				url, err = api.Dlink(ctx, fsid)
				return err
			})
			results <- result{idx: i, url: url, err: err}
		}(i)
	}

	var firstErr error
	for i := 0; i < n; i++ {
		r := <-results
		if r.err != nil {
			if firstErr == nil {
				firstErr = r.err
			}
			continue
		}
		links[r.idx] = r.url
	}

	out := links[:0]
	for _, l := range links {
		if l != "" {
			out = append(out, l)
		}
	}
	if len(out) == 0 {
		return nil, firstErr
	}
	return &linkPool{api: api, fsid: fsid, links: out}, nil
}

// linkFor returns the URL assigned to worker, round-robin over however
// many links were actually acquired.
func (p *linkPool) linkFor(worker int) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.links[worker%len(p.links)]
}

// refresh replaces worker's link with a freshly acquired dlink, used
// after a 403/expired response.
func (p *linkPool) refresh(ctx context.Context, worker int) error {
	url, err := p.api.Dlink(ctx, p.fsid)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.links[worker%len(p.links)] = url
	p.mu.Unlock()
	return nil
}
