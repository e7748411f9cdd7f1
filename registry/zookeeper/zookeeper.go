package zookeeper

import (
	"context"
	"log"
	"path"
	"strings"
	"time"

	"github.com/friendsofgo/errors"
	"github.com/go-zookeeper/zk"
	"github.com/google/uuid"
	json "github.com/json-iterator/go"

	"github.com/AppsFlyer/go-registry-aware-client/registry"
)

const (
	// DefaultBasePath is the path under which instance znodes live.
	DefaultBasePath = "/services"
	// DefaultSessionTimeout of dialed connections. Ephemeral registrations
	// disappear this long after the connection is lost.
	DefaultSessionTimeout = 5 * time.Second
)

type Config struct {
	// Servers of the ZooKeeper ensemble to connect to.
	// Mandatory, unless Conn is set
	Servers []string
	// An existing ZooKeeper connection to use instead of dialing Servers.
	// The caller keeps ownership; Close will not close it.
	// Optional
	Conn *zk.Conn
	// Base path under which instance znodes are created.
	// Optional
	// Default: DefaultBasePath
	BasePath string
	// Session timeout of the dialed connection.
	// Optional
	// Default: DefaultSessionTimeout
	SessionTimeout time.Duration
	// A function that will be used for logging.
	// Optional
	// Default: log.Printf
	Log registry.LogFn
}

// RegistryClient finds service instances in ZooKeeper, and can also
// register instances there. Records are JSON-encoded
// registry.ServiceInstance values kept in ephemeral znodes at
// <base-path>/<service-name>/<instance-id>.
type RegistryClient struct {
	conn     *zk.Conn
	ownsConn bool
	basePath string
	log      registry.LogFn
}

// New creates a ZooKeeper-backed registry client.
func New(conf Config) (*RegistryClient, error) {
	if conf.Conn == nil && len(conf.Servers) == 0 {
		return nil, errors.New("either a zookeeper connection or servers must be provided")
	}

	if conf.BasePath == "" {
		conf.BasePath = DefaultBasePath
	}
	if conf.SessionTimeout == 0 {
		conf.SessionTimeout = DefaultSessionTimeout
	}
	if conf.Log == nil {
		conf.Log = log.Printf
	}

	conn := conf.Conn
	ownsConn := false
	if conn == nil {
		var err error
		conn, _, err = zk.Connect(conf.Servers, conf.SessionTimeout)
		if err != nil {
			return nil, errors.Wrap(err, "failed to connect to zookeeper")
		}
		ownsConn = true
	}

	return &RegistryClient{
		conn:     conn,
		ownsConn: ownsConn,
		basePath: conf.BasePath,
		log:      conf.Log,
	}, nil
}

// FindServiceInstances implements registry.Client. The query's version
// constraints are applied to the stored records; records that fail to
// decode are skipped. A service without a znode simply has no instances.
func (rc *RegistryClient) FindServiceInstances(_ context.Context, query registry.InstanceQuery) ([]registry.ServiceInstance, error) {
	if query.ServiceName == "" {
		return nil, errors.New("service name must not be empty")
	}

	servicePath := rc.servicePath(query.ServiceName)
	children, _, err := rc.conn.Children(servicePath)
	if err != nil {
		if errors.Is(err, zk.ErrNoNode) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "failed to list children of %s", servicePath)
	}

	instances := make([]registry.ServiceInstance, 0, len(children))
	for _, child := range children {
		nodePath := path.Join(servicePath, child)
		data, _, err := rc.conn.Get(nodePath)
		if err != nil {
			// the instance deregistered between listing and reading
			if errors.Is(err, zk.ErrNoNode) {
				continue
			}
			return nil, errors.Wrapf(err, "failed to read instance znode %s", nodePath)
		}
		var instance registry.ServiceInstance
		if err := json.Unmarshal(data, &instance); err != nil {
			rc.log("[ZooKeeper Registry] skipping bad record at %s - %s", nodePath, err.Error())
			continue
		}
		instance.Paths = instance.Paths.OrDefaults()
		instances = append(instances, instance)
	}
	return registry.MatchVersions(instances, query), nil
}

// Register creates an ephemeral znode for the instance; the registration
// disappears when the connection's session ends. An empty InstanceID gets a
// generated UUID. Returns the instance ID in effect.
func (rc *RegistryClient) Register(_ context.Context, instance registry.ServiceInstance) (string, error) {
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

	record, err := json.Marshal(instance)
	if err != nil {
		return "", errors.Wrap(err, "failed to marshal instance record")
	}

	servicePath := rc.servicePath(instance.ServiceName)
	if err := rc.ensurePath(servicePath); err != nil {
		return "", err
	}

	nodePath := path.Join(servicePath, instance.InstanceID)
	if _, err := rc.conn.Create(nodePath, record, zk.FlagEphemeral, zk.WorldACL(zk.PermAll)); err != nil {
		return "", errors.Wrapf(err, "failed to create instance znode %s", nodePath)
	}

	rc.log("[ZooKeeper Registry] registered instance %s of service %s", instance.InstanceID, instance.ServiceName)
	return instance.InstanceID, nil
}

// Deregister deletes the instance's znode. Deregistering an unknown
// instance is not an error.
func (rc *RegistryClient) Deregister(_ context.Context, serviceName, instanceID string) error {
	nodePath := path.Join(rc.servicePath(serviceName), instanceID)
	if err := rc.conn.Delete(nodePath, -1); err != nil && !errors.Is(err, zk.ErrNoNode) {
		return errors.Wrapf(err, "failed to delete instance znode %s", nodePath)
	}

	rc.log("[ZooKeeper Registry] deregistered instance %s of service %s", instanceID, serviceName)
	return nil
}

// Close closes the connection when this client dialed it.
func (rc *RegistryClient) Close() error {
	if rc.ownsConn {
		rc.conn.Close()
	}
	return nil
}

// ensurePath creates the persistent parents of the instance znodes.
func (rc *RegistryClient) ensurePath(fullPath string) error {
	current := ""
	for _, segment := range strings.Split(strings.Trim(fullPath, "/"), "/") {
		current += "/" + segment
		_, err := rc.conn.Create(current, nil, zk.FlagPersistent, zk.WorldACL(zk.PermAll))
		if err != nil && !errors.Is(err, zk.ErrNodeExists) {
			return errors.Wrapf(err, "failed to create znode %s", current)
		}
	}
	return nil
}

func (rc *RegistryClient) servicePath(serviceName string) string {
	return path.Join(rc.basePath, serviceName)
}
