package registry

import (
	"fmt"
	"strings"

	"github.com/friendsofgo/errors"
)

// PortType classifies the ports an instance listens on: the port serving the
// application API, or the port serving operational endpoints (status, health).
type PortType int

const (
	Application PortType = iota
	Admin
)

func (pt PortType) String() string {
	switch pt {
	case Application:
		return "APPLICATION"
	case Admin:
		return "ADMIN"
	default:
		return fmt.Sprintf("PortType(%d)", int(pt))
	}
}

// ParsePortType parses the string form produced by String, ignoring case.
func ParsePortType(s string) (PortType, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "APPLICATION":
		return Application, nil
	case "ADMIN":
		return Admin, nil
	default:
		return Application, errors.Errorf("unknown port type %q", s)
	}
}

// Security states whether a port expects TLS.
type Security int

const (
	NotSecure Security = iota
	Secure
)

func (s Security) String() string {
	if s == Secure {
		return "SECURE"
	}
	return "NOT_SECURE"
}

// Port is a single port declaration of a service instance.
type Port struct {
	Number   int      `json:"number"`
	Type     PortType `json:"type"`
	Security Security `json:"security"`
}

// Scheme returns the URL scheme implied by the port's security.
func (p Port) Scheme() string {
	if p.Security == Secure {
		return "https"
	}
	return "http"
}

// Default paths assumed for instances whose registry record does not carry
// explicit ones.
const (
	DefaultHomePagePath    = "/"
	DefaultStatusPath      = "/status"
	DefaultHealthCheckPath = "/health"
)

// ServicePaths are the well-known paths published by a service instance.
type ServicePaths struct {
	HomePagePath    string `json:"homePagePath"`
	StatusPath      string `json:"statusPath"`
	HealthCheckPath string `json:"healthCheckPath"`
}

// OrDefaults returns a copy with every empty path replaced by its default.
func (p ServicePaths) OrDefaults() ServicePaths {
	if p.HomePagePath == "" {
		p.HomePagePath = DefaultHomePagePath
	}
	if p.StatusPath == "" {
		p.StatusPath = DefaultStatusPath
	}
	if p.HealthCheckPath == "" {
		p.HealthCheckPath = DefaultHealthCheckPath
	}
	return p
}

// ServiceInstance is one live endpoint of a registered service, as reported
// by a registry backend.
type ServiceInstance struct {
	InstanceID  string       `json:"instanceId"`
	ServiceName string       `json:"serviceName"`
	Version     string       `json:"version,omitempty"`
	HostName    string       `json:"hostName"`
	Ports       []Port       `json:"ports"`
	Paths       ServicePaths `json:"paths"`
}
