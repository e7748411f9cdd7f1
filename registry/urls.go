package registry

import (
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/friendsofgo/errors"
)

// FirstPortOfType returns the first port in declared order whose type
// matches portType.
func FirstPortOfType(ports []Port, portType PortType) (Port, bool) {
	for _, p := range ports {
		if p.Type == portType {
			return p, true
		}
	}
	return Port{}, false
}

// URLForPath builds the URL serving path on hostName, using the first port
// of the given type to pick port number and scheme. The path is rooted at
// "/", so joining never produces a double slash.
func URLForPath(hostName string, ports []Port, portType PortType, path string) (string, error) {
	port, ok := FirstPortOfType(ports, portType)
	if !ok {
		return "", errors.Errorf("no %s port found for host %s", portType, hostName)
	}
	u := url.URL{
		Scheme: port.Scheme(),
		Host:   net.JoinHostPort(hostName, strconv.Itoa(port.Number)),
		Path:   rootedPath(path),
	}
	return u.String(), nil
}

func rootedPath(path string) string {
	return "/" + strings.TrimLeft(path, "/")
}
