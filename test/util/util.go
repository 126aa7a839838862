// Package util provides helpers shared across integration tests.
//
// StartMosquitto launches a disposable Mosquitto broker in a Docker container
// and returns its address with a cleanup function.
//
// WaitForMetric polls a Prometheus metrics endpoint until the desired metric
// appears in the output.
package util

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/kilianp07/mqttdemo/infra/mqtt"
)

const (
	MosquittoReadyTimeout = 10 * time.Second
	MetricTimeout         = 5 * time.Second

	pollInterval = 50 * time.Millisecond
)

const mosquittoConf = `listener 1883
allow_anonymous true
persistence false
log_dest stdout
log_type error
log_type warning
log_type notice
connection_messages true
`

// Broker is the address of a started test broker.
type Broker struct {
	Host string
	Port int
}

// URL returns the broker address with a tcp:// scheme.
func (b Broker) URL() string { return fmt.Sprintf("tcp://%s:%d", b.Host, b.Port) }

// StartMosquitto launches a temporary Mosquitto broker inside a Docker
// container. The broker accepts anonymous MQTT 3.1.1 and 5 clients.
func StartMosquitto(ctx context.Context) (Broker, func(), error) {
	dir, err := os.MkdirTemp("", "mosq")
	if err != nil {
		return Broker{}, nil, err
	}
	path := filepath.Join(dir, "mosquitto.conf")
	if err := os.WriteFile(path, []byte(mosquittoConf), 0o644); err != nil {
		_ = os.RemoveAll(dir)
		return Broker{}, nil, err
	}

	cont, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: tc.ContainerRequest{
			Image:        "eclipse-mosquitto:2.0",
			ExposedPorts: []string{"1883/tcp"},
			WaitingFor:   wait.ForListeningPort("1883/tcp"),
			Files: []tc.ContainerFile{{
				HostFilePath:      path,
				ContainerFilePath: "/mosquitto/config/mosquitto.conf",
				FileMode:          0o644,
			}},
		},
		Started: true,
	})
	if err != nil {
		_ = os.RemoveAll(dir)
		return Broker{}, nil, err
	}
	cleanup := func() {
		_ = cont.Terminate(context.Background())
		_ = os.RemoveAll(dir)
	}

	host, err := cont.Host(ctx)
	if err != nil {
		cleanup()
		return Broker{}, nil, err
	}
	port, err := cont.MappedPort(ctx, "1883")
	if err != nil {
		cleanup()
		return Broker{}, nil, err
	}
	b := Broker{Host: host, Port: port.Int()}

	waitCtx, cancel := context.WithTimeout(ctx, MosquittoReadyTimeout)
	defer cancel()
	if err := waitForMQTTReady(waitCtx, b); err != nil {
		cleanup()
		return Broker{}, nil, err
	}
	return b, cleanup, nil
}

// waitForMQTTReady retries a full MQTT handshake with the demo's own
// session driver until the broker accepts it.
func waitForMQTTReady(ctx context.Context, b Broker) error {
	cfg := mqtt.Config{Host: b.Host, Port: b.Port, ClientID: "readiness-check", ConnectTimeoutSeconds: 1}
	for {
		session, err := mqtt.NewPahoSession(cfg, nil)
		if err != nil {
			return err
		}
		if err = session.Connect(ctx); err == nil {
			return session.Close()
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("broker %s not ready: %w", b.URL(), err)
		case <-time.After(pollInterval):
		}
	}
}

// WaitForMetric polls the given metrics URL until the provided substring is
// found in the exposition or the context is done.
func WaitForMetric(ctx context.Context, metricsURL, substr string) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	var last error
	for {
		body, err := scrape(ctx, metricsURL)
		if err == nil && strings.Contains(body, substr) {
			return nil
		}
		if err != nil {
			last = err
		}
		select {
		case <-ctx.Done():
			if last != nil {
				return fmt.Errorf("metric %q not found (last error: %v): %w", substr, last, ctx.Err())
			}
			return fmt.Errorf("metric %q not found: %w", substr, ctx.Err())
		case <-ticker.C:
		}
	}
}

func scrape(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("scrape %s: status %d", url, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read metrics body: %w", err)
	}
	return string(body), nil
}
