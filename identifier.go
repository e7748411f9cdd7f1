package registryaware

import (
	"math"
	"strings"
	"time"

	"github.com/friendsofgo/errors"

	"github.com/AppsFlyer/go-registry-aware-client/registry"
)

// Default timeouts applied when a ServiceIdentifier or ClientConfig does
// not set its own.
const (
	DefaultConnectTimeout = 5 * time.Second
	DefaultReadTimeout    = 5 * time.Second
)

// Timeouts must survive a conversion to int32 milliseconds, the common
// denominator of HTTP client implementations the identifier may be handed
// to.
const maxTimeoutMillis = math.MaxInt32

// ServiceIdentifier names a service to look up in the registry, together
// with the version constraints, the connector (port class) to target, and
// the timeouts to use when talking to it. Identifiers are immutable values;
// the With* methods derive new ones.
type ServiceIdentifier struct {
	serviceName      string
	preferredVersion string
	minimumVersion   string
	connector        registry.PortType
	connectTimeout   time.Duration
	readTimeout      time.Duration
}

type ServiceIdentifierConfig struct {
	// The name of the service to look up in the registry.
	// Mandatory
	ServiceName string
	// The version to favor when instances carry it.
	// Optional
	// Default: "" (latest available)
	PreferredVersion string
	// The lowest acceptable version.
	// Optional
	// Default: "" (no minimum)
	MinimumVersion string
	// The port class the client should talk to.
	// Optional
	// Default: registry.Application
	Connector registry.PortType
	// Connect timeout for requests to the service.
	// Optional
	// Default: DefaultConnectTimeout
	ConnectTimeout time.Duration
	// Read timeout for requests to the service.
	// Optional
	// Default: DefaultReadTimeout
	ReadTimeout time.Duration
}

// NewServiceIdentifier validates conf, fills in defaults and returns the
// resulting identifier.
func NewServiceIdentifier(conf ServiceIdentifierConfig) (ServiceIdentifier, error) {
	if strings.TrimSpace(conf.ServiceName) == "" {
		return ServiceIdentifier{}, errors.New("service name is required")
	}

	switch conf.Connector {
	case registry.Application, registry.Admin:
	default:
		return ServiceIdentifier{}, errors.Errorf("unknown connector port type %s", conf.Connector)
	}

	connectTimeout, err := timeoutOrDefault("connect", conf.ConnectTimeout, DefaultConnectTimeout)
	if err != nil {
		return ServiceIdentifier{}, err
	}
	readTimeout, err := timeoutOrDefault("read", conf.ReadTimeout, DefaultReadTimeout)
	if err != nil {
		return ServiceIdentifier{}, err
	}

	return ServiceIdentifier{
		serviceName:      conf.ServiceName,
		preferredVersion: conf.PreferredVersion,
		minimumVersion:   conf.MinimumVersion,
		connector:        conf.Connector,
		connectTimeout:   connectTimeout,
		readTimeout:      readTimeout,
	}, nil
}

// ServiceIdentifierOf returns an identifier for serviceName with every
// other field at its default.
func ServiceIdentifierOf(serviceName string) (ServiceIdentifier, error) {
	return NewServiceIdentifier(ServiceIdentifierConfig{ServiceName: serviceName})
}

// ServiceIdentifierOfConnector returns an identifier for serviceName
// targeting the given connector, with every other field at its default.
func ServiceIdentifierOfConnector(serviceName string, connector registry.PortType) (ServiceIdentifier, error) {
	return NewServiceIdentifier(ServiceIdentifierConfig{ServiceName: serviceName, Connector: connector})
}

func timeoutOrDefault(name string, timeout, fallback time.Duration) (time.Duration, error) {
	if timeout == 0 {
		timeout = fallback
	}
	if timeout < 0 {
		return 0, errors.Errorf("%s timeout must not be negative, got %s", name, timeout)
	}
	if timeout.Milliseconds() > maxTimeoutMillis {
		return 0, errors.Errorf("%s timeout must fit in int32 milliseconds, but %dms exceeds the maximum of %dms",
			name, timeout.Milliseconds(), maxTimeoutMillis)
	}
	return timeout, nil
}

func (si ServiceIdentifier) ServiceName() string {
	return si.serviceName
}

func (si ServiceIdentifier) PreferredVersion() string {
	return si.preferredVersion
}

func (si ServiceIdentifier) MinimumVersion() string {
	return si.minimumVersion
}

func (si ServiceIdentifier) Connector() registry.PortType {
	return si.connector
}

func (si ServiceIdentifier) ConnectTimeout() time.Duration {
	return si.connectTimeout
}

func (si ServiceIdentifier) ReadTimeout() time.Duration {
	return si.readTimeout
}

// ConnectTimeoutMillis returns the connect timeout in milliseconds. The
// value is guaranteed to fit in an int32.
func (si ServiceIdentifier) ConnectTimeoutMillis() int {
	return int(si.connectTimeout.Milliseconds())
}

// ReadTimeoutMillis returns the read timeout in milliseconds. The value is
// guaranteed to fit in an int32.
func (si ServiceIdentifier) ReadTimeoutMillis() int {
	return int(si.readTimeout.Milliseconds())
}

// WithServiceName derives an identifier for a different service, keeping
// every other field.
func (si ServiceIdentifier) WithServiceName(serviceName string) (ServiceIdentifier, error) {
	conf := si.config()
	conf.ServiceName = serviceName
	return NewServiceIdentifier(conf)
}

// WithConnector derives an identifier targeting a different connector,
// keeping every other field.
func (si ServiceIdentifier) WithConnector(connector registry.PortType) (ServiceIdentifier, error) {
	conf := si.config()
	conf.Connector = connector
	return NewServiceIdentifier(conf)
}

// Copy returns a copy of the identifier. Identifiers are plain values, so
// assignment copies too; Copy exists for symmetry with the With*
// derivations.
func (si ServiceIdentifier) Copy() ServiceIdentifier {
	return si
}

func (si ServiceIdentifier) config() ServiceIdentifierConfig {
	return ServiceIdentifierConfig{
		ServiceName:      si.serviceName,
		PreferredVersion: si.preferredVersion,
		MinimumVersion:   si.minimumVersion,
		Connector:        si.connector,
		ConnectTimeout:   si.connectTimeout,
		ReadTimeout:      si.readTimeout,
	}
}
