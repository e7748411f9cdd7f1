package test

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/docker/go-connections/nat"
	"github.com/hashicorp/consul/api"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const consulAPIPort = "8500/tcp"

func startConsulContainer(t *testing.T) testcontainers.Container {
	req := &testcontainers.ContainerRequest{
		Image:        "consul:1.9.5",
		Env:          map[string]string{"CONSUL_BIND_INTERFACE": "eth0"},
		ExposedPorts: []string{consulAPIPort},
		WaitingFor:   wait.ForListeningPort(nat.Port(consulAPIPort)),
	}

	return startContainer(t, req)
}

func startContainer(t *testing.T, req *testcontainers.ContainerRequest) testcontainers.Container {
	c, err := testcontainers.GenericContainer(context.Background(), testcontainers.GenericContainerRequest{
		ContainerRequest: *req,
		Started:          true,
	})
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func consulAddress(t *testing.T, c testcontainers.Container) string {
	ctx := context.Background()

	host, err := c.Host(ctx)
	if err != nil {
		t.Fatal(err)
	}
	port, err := c.MappedPort(ctx, nat.Port(consulAPIPort))
	if err != nil {
		t.Fatal(err)
	}
	return fmt.Sprintf("%s:%d", host, port.Int())
}

// backend is an in-process stand-in for a service instance. It answers
// /hello on the application port and /ping on the admin port. The test
// process reaches both directly, so nothing needs to run inside Docker
// besides Consul itself.
type backend struct {
	id          string
	host        string
	port        int
	adminPort   int
	appServer   *httptest.Server
	adminServer *httptest.Server
}

func startBackend(t *testing.T, instanceID string) *backend {
	appMux := http.NewServeMux()
	appMux.HandleFunc("/hello", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintf(w, "Hello, %s", instanceID)
	})
	adminMux := http.NewServeMux()
	adminMux.HandleFunc("/ping", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintf(w, "pong from %s", instanceID)
	})

	appServer := httptest.NewServer(appMux)
	adminServer := httptest.NewServer(adminMux)

	host, port := hostPort(t, appServer)
	_, adminPort := hostPort(t, adminServer)

	return &backend{
		id:          instanceID,
		host:        host,
		port:        port,
		adminPort:   adminPort,
		appServer:   appServer,
		adminServer: adminServer,
	}
}

func (b *backend) close() {
	b.appServer.Close()
	b.adminServer.Close()
}

func hostPort(t *testing.T, server *httptest.Server) (string, int) {
	host, portStr, err := net.SplitHostPort(server.Listener.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatal(err)
	}
	return host, port
}

func registerBackendInConsul(client *api.Client, name string, b *backend, meta map[string]string) error {
	return client.Agent().ServiceRegister(&api.AgentServiceRegistration{
		ID:      b.id,
		Name:    name,
		Address: b.host,
		Port:    b.port,
		Meta:    meta,
	})
}

func deregisterServiceInConsul(id string, client *api.Client) error {
	return client.Agent().ServiceDeregister(id)
}
