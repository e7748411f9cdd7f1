package etcd

import (
	"context"
	"log"
	"path"
	"sync"
	"time"

	"github.com/friendsofgo/errors"
	"github.com/google/uuid"
	json "github.com/json-iterator/go"
	"go.etcd.io/etcd/api/v3/mvccpb"
	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/AppsFlyer/go-registry-aware-client/registry"
)

const (
	// DefaultPrefix is the key prefix under which instance records live.
	DefaultPrefix = "/services"
	// DefaultDialTimeout bounds the initial connection to the cluster.
	DefaultDialTimeout = 5 * time.Second
	// DefaultLeaseTTL is the lease duration of registered instances. A
	// registration disappears this long after its keep-alive stops.
	DefaultLeaseTTL = 10 * time.Second
)

type Config struct {
	// Endpoints of the etcd cluster to dial.
	// Mandatory, unless Client is set
	Endpoints []string
	// An existing etcd client to use instead of dialing Endpoints. The
	// caller keeps ownership; Close will not close it.
	// Optional
	Client *clientv3.Client
	// Key prefix under which instance records are stored.
	// Optional
	// Default: DefaultPrefix
	Prefix string
	// Dial timeout used when connecting to Endpoints.
	// Optional
	// Default: DefaultDialTimeout
	DialTimeout time.Duration
	// TTL of the lease attached to registered instances.
	// Optional
	// Default: DefaultLeaseTTL
	LeaseTTL time.Duration
	// A function that will be used for logging.
	// Optional
	// Default: log.Printf
	Log registry.LogFn
}

// RegistryClient finds service instances in etcd, and can also register
// instances there. Records are JSON-encoded registry.ServiceInstance values
// stored at <prefix>/<service-name>/<instance-id>, bound to a lease that is
// kept alive until the instance deregisters.
type RegistryClient struct {
	client     *clientv3.Client
	ownsClient bool
	prefix     string
	leaseTTL   time.Duration
	log        registry.LogFn

	mu         sync.Mutex
	keepAlives map[string]context.CancelFunc
}

// New creates an etcd-backed registry client.
func New(conf Config) (*RegistryClient, error) {
	if conf.Client == nil && len(conf.Endpoints) == 0 {
		return nil, errors.New("either an etcd client or endpoints must be provided")
	}

	if conf.Prefix == "" {
		conf.Prefix = DefaultPrefix
	}
	if conf.DialTimeout == 0 {
		conf.DialTimeout = DefaultDialTimeout
	}
	if conf.LeaseTTL == 0 {
		conf.LeaseTTL = DefaultLeaseTTL
	}
	if conf.Log == nil {
		conf.Log = log.Printf
	}

	client := conf.Client
	ownsClient := false
	if client == nil {
		var err error
		client, err = clientv3.New(clientv3.Config{Endpoints: conf.Endpoints, DialTimeout: conf.DialTimeout})
		if err != nil {
			return nil, errors.Wrap(err, "failed to create etcd client")
		}
		ownsClient = true
	}

	return &RegistryClient{
		client:     client,
		ownsClient: ownsClient,
		prefix:     conf.Prefix,
		leaseTTL:   conf.LeaseTTL,
		log:        conf.Log,
		keepAlives: make(map[string]context.CancelFunc),
	}, nil
}

// FindServiceInstances implements registry.Client. The query's version
// constraints are applied to the stored records; records that fail to
// decode are skipped.
func (rc *RegistryClient) FindServiceInstances(ctx context.Context, query registry.InstanceQuery) ([]registry.ServiceInstance, error) {
	if query.ServiceName == "" {
		return nil, errors.New("service name must not be empty")
	}

	resp, err := rc.client.Get(ctx, rc.servicePrefix(query.ServiceName), clientv3.WithPrefix())
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list instances of service %s", query.ServiceName)
	}

	return registry.MatchVersions(rc.instancesFromKVs(resp.Kvs), query), nil
}

// Register publishes the instance under a fresh lease and keeps the lease
// alive until Deregister or Close. An empty InstanceID gets a generated
// UUID. Returns the instance ID in effect.
func (rc *RegistryClient) Register(ctx context.Context, instance registry.ServiceInstance) (string, error) {
	if instance.ServiceName == "" {
		return "", errors.New("service name must not be empty")
	}
	if instance.HostName == "" {
		return "", errors.New("host name must not be empty")
	}
	if len(instance.Ports) == 0 {
		return "", errors.New("at least one port must be declared")
	}
	if instance.InstanceID == "" {
		instance.InstanceID = uuid.NewString()
	}
	instance.Paths = instance.Paths.OrDefaults()

	record, err := json.MarshalToString(instance)
	if err != nil {
		return "", errors.Wrap(err, "failed to marshal instance record")
	}

	lease, err := rc.client.Grant(ctx, int64(rc.leaseTTL/time.Second))
	if err != nil {
		return "", errors.Wrap(err, "failed to grant lease")
	}

	key := rc.instanceKey(instance.ServiceName, instance.InstanceID)
	if _, err := rc.client.Put(ctx, key, record, clientv3.WithLease(lease.ID)); err != nil {
		return "", errors.Wrapf(err, "failed to store instance record at %s", key)
	}

	keepAliveCtx, cancel := context.WithCancel(context.Background())
	ch, err := rc.client.KeepAlive(keepAliveCtx, lease.ID)
	if err != nil {
		cancel()
		return "", errors.Wrap(err, "failed to keep lease alive")
	}
	// drain the acks so the keep-alive channel never fills up
	go func() {
		for range ch {
		}
	}()

	rc.mu.Lock()
	if prev, ok := rc.keepAlives[key]; ok {
		prev()
	}
	rc.keepAlives[key] = cancel
	rc.mu.Unlock()

	rc.log("[etcd Registry] registered instance %s of service %s", instance.InstanceID, instance.ServiceName)
	return instance.InstanceID, nil
}

// Deregister stops the instance's keep-alive and deletes its record.
func (rc *RegistryClient) Deregister(ctx context.Context, serviceName, instanceID string) error {
	key := rc.instanceKey(serviceName, instanceID)

	rc.mu.Lock()
	if cancel, ok := rc.keepAlives[key]; ok {
		cancel()
		delete(rc.keepAlives, key)
	}
	rc.mu.Unlock()

	if _, err := rc.client.Delete(ctx, key); err != nil {
		return errors.Wrapf(err, "failed to delete instance record at %s", key)
	}

	rc.log("[etcd Registry] deregistered instance %s of service %s", instanceID, serviceName)
	return nil
}

// Close cancels every keep-alive held by this client and, when the client
// dialed its own etcd connection, closes it. Records registered through
// this client expire once their leases run out.
func (rc *RegistryClient) Close() error {
	rc.mu.Lock()
	for key, cancel := range rc.keepAlives {
		cancel()
		delete(rc.keepAlives, key)
	}
	rc.mu.Unlock()

	if rc.ownsClient {
		return rc.client.Close()
	}
	return nil
}

func (rc *RegistryClient) instancesFromKVs(kvs []*mvccpb.KeyValue) []registry.ServiceInstance {
	instances := make([]registry.ServiceInstance, 0, len(kvs))
	for _, kv := range kvs {
		var instance registry.ServiceInstance
		if err := json.Unmarshal(kv.Value, &instance); err != nil {
			rc.log("[etcd Registry] skipping bad record at %s - %s", kv.Key, err.Error())
			continue
		}
		instance.Paths = instance.Paths.OrDefaults()
		instances = append(instances, instance)
	}
	return instances
}

func (rc *RegistryClient) servicePrefix(serviceName string) string {
	return path.Join(rc.prefix, serviceName) + "/"
}

func (rc *RegistryClient) instanceKey(serviceName, instanceID string) string {
	return path.Join(rc.prefix, serviceName, instanceID)
}
