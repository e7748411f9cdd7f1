package consul

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/friendsofgo/errors"
	"github.com/hashicorp/consul/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AppsFlyer/go-registry-aware-client/registry"
)

type fakeHealth struct {
	entries     []*api.ServiceEntry
	err         error
	blockOnWait bool
	calls       int64
}

func (f *fakeHealth) ServiceMultipleTags(_ string, _ []string, _ bool, q *api.QueryOptions) (
	[]*api.ServiceEntry, *api.QueryMeta, error) {

	atomic.AddInt64(&f.calls, 1)

	opts := q
	if opts == nil {
		opts = &api.QueryOptions{}
	}
	if f.blockOnWait && opts.WaitIndex != 0 {
		time.Sleep(2 * time.Second)
	}
	if f.err != nil {
		return nil, nil, f.err
	}
	return f.entries, &api.QueryMeta{LastIndex: opts.WaitIndex + 1}, nil
}

func testEntry(id, address string, port int, meta map[string]string) *api.ServiceEntry {
	return &api.ServiceEntry{
		Node:    &api.Node{Address: "node-address"},
		Service: &api.AgentService{ID: id, Service: "test-service", Address: address, Port: port, Meta: meta},
		Checks:  api.HealthChecks{},
	}
}

func directClient(health healthEndpoint, log registry.LogFn) *RegistryClient {
	return &RegistryClient{
		health:      health,
		passingOnly: true,
		queryOpts:   &api.QueryOptions{},
		log:         log,
	}
}

func noopLog(string, ...any) {}

func TestNewRequiresClient(t *testing.T) {
	_, err := New(Config{})
	assert.EqualError(t, err, "consul client must not be nil")
}

func TestFindServiceInstancesMapsEntries(t *testing.T) {
	health := &fakeHealth{entries: []*api.ServiceEntry{
		testEntry("instance-1", "10.0.0.5", 8080, map[string]string{
			MetaKeyVersion:      "2.1.0",
			MetaKeyScheme:       "https",
			MetaKeyAdminPort:    "8081",
			MetaKeyHomePagePath: "/home",
			MetaKeyStatusPath:   "/ping",
		}),
	}}
	rc := directClient(health, t.Logf)

	instances, err := rc.FindServiceInstances(context.Background(), registry.InstanceQuery{ServiceName: "test-service"})
	require.NoError(t, err)
	require.Len(t, instances, 1)

	instance := instances[0]
	assert.Equal(t, "instance-1", instance.InstanceID)
	assert.Equal(t, "test-service", instance.ServiceName)
	assert.Equal(t, "2.1.0", instance.Version)
	assert.Equal(t, "10.0.0.5", instance.HostName)
	assert.Equal(t, []registry.Port{
		{Number: 8080, Type: registry.Application, Security: registry.Secure},
		{Number: 8081, Type: registry.Admin, Security: registry.Secure},
	}, instance.Ports)
	assert.Equal(t, "/home", instance.Paths.HomePagePath)
	assert.Equal(t, "/ping", instance.Paths.StatusPath)
	assert.Equal(t, "/health", instance.Paths.HealthCheckPath)
}

func TestFindServiceInstancesHostFallsBackToNodeAddress(t *testing.T) {
	health := &fakeHealth{entries: []*api.ServiceEntry{testEntry("instance-1", "", 8080, nil)}}
	rc := directClient(health, t.Logf)

	instances, err := rc.FindServiceInstances(context.Background(), registry.InstanceQuery{ServiceName: "test-service"})
	require.NoError(t, err)
	require.Len(t, instances, 1)
	assert.Equal(t, "node-address", instances[0].HostName)
}

func TestFindServiceInstancesDefaultsWithoutMeta(t *testing.T) {
	health := &fakeHealth{entries: []*api.ServiceEntry{testEntry("instance-1", "10.0.0.5", 8080, nil)}}
	rc := directClient(health, t.Logf)

	instances, err := rc.FindServiceInstances(context.Background(), registry.InstanceQuery{ServiceName: "test-service"})
	require.NoError(t, err)
	require.Len(t, instances, 1)

	instance := instances[0]
	assert.Empty(t, instance.Version)
	assert.Equal(t, []registry.Port{{Number: 8080, Type: registry.Application, Security: registry.NotSecure}}, instance.Ports)
	assert.Equal(t, "/", instance.Paths.HomePagePath)
	assert.Equal(t, "/status", instance.Paths.StatusPath)
	assert.Equal(t, "/health", instance.Paths.HealthCheckPath)
}

func TestFindServiceInstancesIgnoresBadAdminPort(t *testing.T) {
	health := &fakeHealth{entries: []*api.ServiceEntry{
		testEntry("instance-1", "10.0.0.5", 8080, map[string]string{MetaKeyAdminPort: "not-a-port"}),
	}}
	rc := directClient(health, noopLog)

	instances, err := rc.FindServiceInstances(context.Background(), registry.InstanceQuery{ServiceName: "test-service"})
	require.NoError(t, err)
	require.Len(t, instances, 1)
	assert.Equal(t, []registry.Port{{Number: 8080, Type: registry.Application, Security: registry.NotSecure}}, instances[0].Ports)
}

func TestFindServiceInstancesAdminSchemeOverride(t *testing.T) {
	health := &fakeHealth{entries: []*api.ServiceEntry{
		testEntry("instance-1", "10.0.0.5", 8080, map[string]string{
			MetaKeyScheme:      "https",
			MetaKeyAdminPort:   "8081",
			MetaKeyAdminScheme: "http",
		}),
	}}
	rc := directClient(health, t.Logf)

	instances, err := rc.FindServiceInstances(context.Background(), registry.InstanceQuery{ServiceName: "test-service"})
	require.NoError(t, err)
	require.Len(t, instances, 1)

	adminPort, ok := registry.FirstPortOfType(instances[0].Ports, registry.Admin)
	require.True(t, ok)
	assert.Equal(t, registry.NotSecure, adminPort.Security)
}

func TestFindServiceInstancesAppliesVersionConstraints(t *testing.T) {
	health := &fakeHealth{entries: []*api.ServiceEntry{
		testEntry("old", "10.0.0.5", 8080, map[string]string{MetaKeyVersion: "1.0.0"}),
		testEntry("new", "10.0.0.6", 8080, map[string]string{MetaKeyVersion: "2.0.0"}),
	}}
	rc := directClient(health, t.Logf)

	instances, err := rc.FindServiceInstances(context.Background(), registry.InstanceQuery{
		ServiceName:      "test-service",
		MinimumVersion:   "1.5.0",
		PreferredVersion: "2.0.0",
	})
	require.NoError(t, err)
	require.Len(t, instances, 1)
	assert.Equal(t, "new", instances[0].InstanceID)
}

func TestFindServiceInstancesRequiresServiceName(t *testing.T) {
	rc := directClient(&fakeHealth{}, t.Logf)

	_, err := rc.FindServiceInstances(context.Background(), registry.InstanceQuery{})
	assert.EqualError(t, err, "service name must not be empty")
}

func TestFindServiceInstancesPropagatesLookupError(t *testing.T) {
	lookupErr := errors.New("consul unreachable")
	rc := directClient(&fakeHealth{err: lookupErr}, t.Logf)

	_, err := rc.FindServiceInstances(context.Background(), registry.InstanceQuery{ServiceName: "test-service"})
	assert.Equal(t, lookupErr, err)
}

func TestFindServiceInstancesLooksUpPerCall(t *testing.T) {
	health := &fakeHealth{entries: []*api.ServiceEntry{testEntry("instance-1", "10.0.0.5", 8080, nil)}}
	rc := directClient(health, t.Logf)

	for i := 0; i < 3; i++ {
		_, err := rc.FindServiceInstances(context.Background(), registry.InstanceQuery{ServiceName: "test-service"})
		require.NoError(t, err)
	}
	assert.EqualValues(t, 3, atomic.LoadInt64(&health.calls))
}

func TestWatcherServesFromLocalView(t *testing.T) {
	health := &fakeHealth{
		entries:     []*api.ServiceEntry{testEntry("instance-1", "10.0.0.5", 8080, nil)},
		blockOnWait: true,
	}
	w := newWatcher(health, nil, true, &api.QueryOptions{}, noopLog)
	defer w.stop()

	entries, err := w.entriesFor(context.Background(), "test-service")
	require.NoError(t, err)
	require.Len(t, entries, 1)

	// served from the local view while the blocking query is parked
	for i := 0; i < 50; i++ {
		entries, err = w.entriesFor(context.Background(), "test-service")
		require.NoError(t, err)
		require.Len(t, entries, 1)
	}
	assert.LessOrEqual(t, atomic.LoadInt64(&health.calls), int64(2))
}

func TestWatcherEntriesForHonorsCallerContext(t *testing.T) {
	health := &fakeHealth{err: errors.New("consul unreachable")}
	w := newWatcher(health, nil, true, &api.QueryOptions{}, noopLog)
	defer w.stop()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := w.entriesFor(ctx, "test-service")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWatcherStopUnblocksLookups(t *testing.T) {
	health := &fakeHealth{err: errors.New("consul unreachable")}
	w := newWatcher(health, nil, true, &api.QueryOptions{}, noopLog)

	go func() {
		time.Sleep(50 * time.Millisecond)
		w.stop()
	}()

	_, err := w.entriesFor(context.Background(), "test-service")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCloseWithoutWatcher(t *testing.T) {
	rc := directClient(&fakeHealth{}, t.Logf)
	assert.NoError(t, rc.Close())
}

func TestCloseStopsWatcher(t *testing.T) {
	client, err := api.NewClient(api.DefaultConfig())
	require.NoError(t, err)

	rc, err := New(Config{Client: client, Watch: true, Log: noopLog})
	require.NoError(t, err)
	require.NoError(t, rc.Close())

	_, err = rc.FindServiceInstances(context.Background(), registry.InstanceQuery{ServiceName: "test-service"})
	assert.ErrorIs(t, err, context.Canceled)
}
