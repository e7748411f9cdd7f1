package consul

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hashicorp/consul/api"
	"go.uber.org/ratelimit"

	"github.com/AppsFlyer/go-registry-aware-client/registry"
)

// watcher keeps a local view of every service looked up at least once, fed
// by Consul blocking queries. A watch starts on the first lookup of a
// service name and runs until the watcher is stopped.
type watcher struct {
	health      healthEndpoint
	tags        []string
	passingOnly bool
	queryOpts   *api.QueryOptions
	log         registry.LogFn

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	services map[string]*serviceWatch
}

type serviceWatch struct {
	init     chan struct{}
	initDone sync.Once

	mu      sync.RWMutex
	entries []*api.ServiceEntry
}

func newWatcher(health healthEndpoint, tags []string, passingOnly bool, queryOpts *api.QueryOptions, log registry.LogFn) *watcher {
	ctx, cancel := context.WithCancel(context.Background())
	return &watcher{
		health:      health,
		tags:        tags,
		passingOnly: passingOnly,
		queryOpts:   queryOpts,
		log:         log,
		ctx:         ctx,
		cancel:      cancel,
		services:    make(map[string]*serviceWatch),
	}
}

// entriesFor returns the watched entries of a service, blocking until the
// service's watch completed its first fetch.
func (w *watcher) entriesFor(ctx context.Context, service string) ([]*api.ServiceEntry, error) {
	sw := w.watchFor(service)

	// make sure the watch initialized
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-w.ctx.Done():
		return nil, w.ctx.Err()
	case <-sw.init:
	}

	sw.mu.RLock()
	defer sw.mu.RUnlock()
	entries := make([]*api.ServiceEntry, len(sw.entries))
	copy(entries, sw.entries)
	return entries, nil
}

func (w *watcher) watchFor(service string) *serviceWatch {
	w.mu.Lock()
	defer w.mu.Unlock()
	sw, ok := w.services[service]
	if !ok {
		sw = &serviceWatch{init: make(chan struct{})}
		w.services[service] = sw
		go w.run(service, sw)
	}
	return sw
}

func (w *watcher) run(service string, sw *serviceWatch) {
	rl := ratelimit.New(1) // limit consul queries to 1 per second
	bck := backoff.WithContext(newBackOff(), w.ctx)

	opts := &api.QueryOptions{}
	if w.queryOpts != nil {
		o := *w.queryOpts
		opts = &o
	}
	opts.WaitIndex = 0

	for w.ctx.Err() == nil {
		rl.Take()
		err := backoff.RetryNotify(
			func() error {
				entries, meta, err := w.health.ServiceMultipleTags(service, w.tags, w.passingOnly, opts.WithContext(w.ctx))
				if err != nil {
					return err
				}
				switch {
				case meta.LastIndex < opts.WaitIndex:
					opts.WaitIndex = 0
				case meta.LastIndex < 1:
					opts.WaitIndex = 1
				default:
					opts.WaitIndex = meta.LastIndex
				}

				sw.mu.Lock()
				sw.entries = entries
				sw.mu.Unlock()
				sw.initDone.Do(func() {
					close(sw.init)
				})
				return nil
			},
			bck,
			func(err error, duration time.Duration) {
				w.log("[Consul Registry] failure querying consul, sleeping %s - %s", duration, err.Error())
			},
		)
		if err != nil {
			w.log("[Consul Registry] failure querying consul - %s", err.Error())
		}
	}
	w.log("[Consul Registry] watch stopped for service %s", service)
}

func (w *watcher) stop() {
	w.cancel()
}

func newBackOff() *backoff.ExponentialBackOff {
	bck := backoff.NewExponentialBackOff()
	bck.MaxElapsedTime = 0
	bck.MaxInterval = time.Second * 30
	return bck
}
