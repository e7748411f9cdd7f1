package consul

import (
	"context"
	"log"
	"strconv"

	"github.com/friendsofgo/errors"
	"github.com/hashicorp/consul/api"

	"github.com/AppsFlyer/go-registry-aware-client/registry"
)

// Meta keys under which registered services publish the attributes that do
// not fit Consul's native service model.
const (
	MetaKeyVersion         = "version"
	MetaKeyScheme          = "scheme"
	MetaKeyAdminPort       = "admin-port"
	MetaKeyAdminScheme     = "admin-scheme"
	MetaKeyHomePagePath    = "home-page-path"
	MetaKeyStatusPath      = "status-path"
	MetaKeyHealthCheckPath = "health-check-path"
)

// healthEndpoint is the slice of the Consul API used for lookups
type healthEndpoint interface {
	ServiceMultipleTags(service string, tags []string, passingOnly bool, q *api.QueryOptions) ([]*api.ServiceEntry, *api.QueryMeta, error)
}

type Config struct {
	// The consul client
	// Mandatory
	Client *api.Client
	// Filter service instances by Consul tags.
	// Optional
	// Default: nil
	Tags []string
	// Include service instances whose health checks are not passing.
	// Optional
	// Default: false (only healthy instances are returned)
	IncludeUnhealthy bool
	// Keep a local view of every looked-up service, fed by Consul blocking
	// queries, instead of hitting Consul on each lookup. Watches start
	// lazily on the first lookup of a service name.
	// Optional
	// Default: false
	Watch bool
	// The consul query options configuration
	// Optional
	Query *api.QueryOptions
	// A function that will be used for logging.
	// Optional
	// Default: log.Printf
	Log registry.LogFn
}

// RegistryClient finds service instances through Consul's health API.
type RegistryClient struct {
	health      healthEndpoint
	tags        []string
	passingOnly bool
	queryOpts   *api.QueryOptions
	log         registry.LogFn
	watcher     *watcher
}

// New creates a Consul-backed registry client.
func New(conf Config) (*RegistryClient, error) {
	if conf.Client == nil {
		return nil, errors.New("consul client must not be nil")
	}

	if conf.Log == nil {
		conf.Log = log.Printf
	}

	if conf.Query == nil {
		conf.Query = &api.QueryOptions{}
	} else {
		conf.Query.WaitIndex = 0
	}

	rc := &RegistryClient{
		health:      conf.Client.Health(),
		tags:        conf.Tags,
		passingOnly: !conf.IncludeUnhealthy,
		queryOpts:   conf.Query,
		log:         conf.Log,
	}
	if conf.Watch {
		rc.watcher = newWatcher(rc.health, conf.Tags, rc.passingOnly, conf.Query, conf.Log)
	}

	return rc, nil
}

// FindServiceInstances implements registry.Client. The query's version
// constraints are applied to the instances Consul reports.
func (rc *RegistryClient) FindServiceInstances(ctx context.Context, query registry.InstanceQuery) ([]registry.ServiceInstance, error) {
	if query.ServiceName == "" {
		return nil, errors.New("service name must not be empty")
	}

	var entries []*api.ServiceEntry
	var err error
	if rc.watcher != nil {
		entries, err = rc.watcher.entriesFor(ctx, query.ServiceName)
	} else {
		entries, _, err = rc.health.ServiceMultipleTags(query.ServiceName, rc.tags, rc.passingOnly, rc.queryOpts.WithContext(ctx))
	}
	if err != nil {
		return nil, err
	}

	instances := make([]registry.ServiceInstance, 0, len(entries))
	for _, entry := range entries {
		instances = append(instances, rc.instanceFromEntry(entry))
	}
	return registry.MatchVersions(instances, query), nil
}

// Close stops the watcher, when one is running. The Consul client itself is
// owned by the caller and stays usable.
func (rc *RegistryClient) Close() error {
	if rc.watcher != nil {
		rc.watcher.stop()
	}
	return nil
}

func (rc *RegistryClient) instanceFromEntry(entry *api.ServiceEntry) registry.ServiceInstance {
	service := entry.Service

	// fallback to node address if Service.Address is empty
	host := service.Address
	if host == "" {
		host = entry.Node.Address
	}

	appSecurity := securityFromScheme(service.Meta[MetaKeyScheme])
	ports := []registry.Port{{Number: service.Port, Type: registry.Application, Security: appSecurity}}
	if raw, ok := service.Meta[MetaKeyAdminPort]; ok {
		adminPort, err := strconv.Atoi(raw)
		if err != nil || adminPort <= 0 {
			rc.log("[Consul Registry] ignoring bad %s value %q for service %s", MetaKeyAdminPort, raw, service.Service)
		} else {
			adminSecurity := appSecurity
			if scheme, ok := service.Meta[MetaKeyAdminScheme]; ok {
				adminSecurity = securityFromScheme(scheme)
			}
			ports = append(ports, registry.Port{Number: adminPort, Type: registry.Admin, Security: adminSecurity})
		}
	}

	return registry.ServiceInstance{
		InstanceID:  service.ID,
		ServiceName: service.Service,
		Version:     service.Meta[MetaKeyVersion],
		HostName:    host,
		Ports:       ports,
		Paths: registry.ServicePaths{
			HomePagePath:    service.Meta[MetaKeyHomePagePath],
			StatusPath:      service.Meta[MetaKeyStatusPath],
			HealthCheckPath: service.Meta[MetaKeyHealthCheckPath],
		}.OrDefaults(),
	}
}

func securityFromScheme(scheme string) registry.Security {
	if scheme == "https" {
		return registry.Secure
	}
	return registry.NotSecure
}
