//go:build !no_containers

package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/kilianp07/mqttdemo/app"
	"github.com/kilianp07/mqttdemo/config"
	coremetrics "github.com/kilianp07/mqttdemo/core/metrics"
	"github.com/kilianp07/mqttdemo/core/telemetry"
	"github.com/kilianp07/mqttdemo/infra/mqtt"
	"github.com/kilianp07/mqttdemo/test/util"
)

// syncBuffer lets the test read the demo output while the service writes it.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func requireDocker(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("e2e tests skipped in short mode")
	}
	if _, err := exec.LookPath("docker"); err != nil {
		t.Skipf("docker not installed: %v", err)
	}
}

func startBroker(ctx context.Context, t *testing.T) util.Broker {
	t.Helper()
	b, cleanup, err := util.StartMosquitto(ctx)
	if err != nil {
		t.Skipf("unable to start mosquitto: %v", err)
	}
	t.Cleanup(cleanup)
	return b
}

// observer subscribes to the telemetry topic with a plain paho client.
type observer struct {
	cli      paho.Client
	mu       sync.Mutex
	readings []telemetry.Reading
}

func newObserver(t *testing.T, b util.Broker) *observer {
	t.Helper()
	o := &observer{}
	opts := paho.NewClientOptions().AddBroker(b.URL()).SetClientID(fmt.Sprintf("observer-%d", time.Now().UnixNano()))
	o.cli = paho.NewClient(opts)
	tok := o.cli.Connect()
	require.True(t, tok.WaitTimeout(5*time.Second))
	require.NoError(t, tok.Error())
	tok = o.cli.Subscribe(config.DefaultTelemetryTopic, 1, func(_ paho.Client, m paho.Message) {
		var r telemetry.Reading
		if err := json.Unmarshal(m.Payload(), &r); err == nil {
			o.mu.Lock()
			o.readings = append(o.readings, r)
			o.mu.Unlock()
		}
	})
	require.True(t, tok.WaitTimeout(5*time.Second))
	require.NoError(t, tok.Error())
	t.Cleanup(func() { o.cli.Disconnect(100) })
	return o
}

func (o *observer) received() []telemetry.Reading {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]telemetry.Reading(nil), o.readings...)
}

func brokerConfig(b util.Broker, version int) *config.Config {
	cfg := &config.Config{Config: mqtt.Config{
		Host:            b.Host,
		Port:            b.Port,
		ClientID:        fmt.Sprintf("mqttdemo-e2e-v%d-%d", version, time.Now().UnixNano()),
		ProtocolVersion: version,
	}}
	cfg.SetDefaults()
	return cfg
}

func TestDemoAgainstMosquitto(t *testing.T) {
	requireDocker(t)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()
	b := startBroker(ctx, t)

	for _, version := range []int{4, 5} {
		t.Run("protocol_"+strconv.Itoa(version), func(t *testing.T) {
			obs := newObserver(t, b)
			cfg := brokerConfig(b, version)
			cfg.Telemetry.IntervalMS = 50

			out := &syncBuffer{}
			svc, err := app.New(cfg, out)
			require.NoError(t, err)
			defer svc.Close() //nolint:errcheck

			runCtx, stop := context.WithCancel(ctx)
			done := make(chan error, 1)
			go func() { done <- svc.Run(runCtx) }()

			// Telemetry only flows once the command subscription is in place.
			require.Eventually(t, func() bool { return len(obs.received()) > 0 }, 10*time.Second, 20*time.Millisecond)
			tok := obs.cli.Publish(config.DefaultCommandTopic, 1, false, "STOP")
			require.True(t, tok.WaitTimeout(5*time.Second))
			require.NoError(t, tok.Error())
			require.Eventually(t, func() bool { return strings.Contains(out.String(), "\nSTOP\n") }, 5*time.Second, 20*time.Millisecond)

			stop()
			require.NoError(t, <-done)
			assert.Equal(t, 1, strings.Count(out.String(), "\nSTOP\n"))
			assert.Contains(t, out.String(), fmt.Sprintf("Connecting to %s on port %d ...", b.Host, b.Port))
			for _, r := range obs.received() {
				assert.GreaterOrEqual(t, r.Temperature, telemetry.BaseTemperature)
				assert.Less(t, r.Temperature, telemetry.BaseTemperature+1)
				assert.GreaterOrEqual(t, r.Humidity, telemetry.BaseHumidity)
				assert.Less(t, r.Humidity, telemetry.BaseHumidity+1)
			}
		})
	}
}

func TestDemoCount(t *testing.T) {
	requireDocker(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	b := startBroker(ctx, t)
	obs := newObserver(t, b)

	cfg := brokerConfig(b, 4)
	cfg.Telemetry.Count = 3
	out := &syncBuffer{}
	svc, err := app.New(cfg, out)
	require.NoError(t, err)
	defer svc.Close() //nolint:errcheck

	require.NoError(t, svc.Run(ctx))
	assert.Equal(t, 3, strings.Count(out.String(), "Published: {"))
	require.Eventually(t, func() bool { return len(obs.received()) == 3 }, 5*time.Second, 20*time.Millisecond)
}

func TestDemoPrometheus(t *testing.T) {
	requireDocker(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	b := startBroker(ctx, t)

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	cfg := brokerConfig(b, 4)
	cfg.Telemetry.Count = 2
	cfg.Metrics = coremetrics.Config{PrometheusEnabled: true, PrometheusPort: addr}
	svc, err := app.New(cfg, &syncBuffer{})
	require.NoError(t, err)
	defer svc.Close() //nolint:errcheck

	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	require.NoError(t, svc.Run(runCtx))

	waitCtx, waitCancel := context.WithTimeout(ctx, util.MetricTimeout)
	defer waitCancel()
	require.NoError(t, util.WaitForMetric(waitCtx, "http://"+addr+"/metrics", `telemetry_publish_total{success="true",topic="hivemqdemo/telemetry"} 2`))
}

// startInflux starts an InfluxDB 2.7 container initialised with org, bucket
// and token, and returns its base URL.
func startInflux(ctx context.Context, t *testing.T, org, bucket, token string) string {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "influxdb:2.7",
		ExposedPorts: []string{"8086/tcp"},
		Env: map[string]string{
			"DOCKER_INFLUXDB_INIT_MODE":        "setup",
			"DOCKER_INFLUXDB_INIT_USERNAME":    "e2e",
			"DOCKER_INFLUXDB_INIT_PASSWORD":    "e2e-password",
			"DOCKER_INFLUXDB_INIT_ORG":         org,
			"DOCKER_INFLUXDB_INIT_BUCKET":      bucket,
			"DOCKER_INFLUXDB_INIT_ADMIN_TOKEN": token,
		},
		WaitingFor: wait.ForHTTP("/health").WithPort("8086/tcp").WithStartupTimeout(60 * time.Second),
	}
	cont, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{ContainerRequest: req, Started: true})
	if err != nil {
		t.Skipf("unable to start influx container: %v", err)
	}
	t.Cleanup(func() { _ = cont.Terminate(context.Background()) })
	host, err := cont.Host(ctx)
	require.NoError(t, err)
	port, err := cont.MappedPort(ctx, "8086")
	require.NoError(t, err)
	return fmt.Sprintf("http://%s:%s", host, port.Port())
}

func TestDemoInflux(t *testing.T) {
	requireDocker(t)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	const org, bucket, token = "e2e_org", "e2e_bucket", "e2e-token"
	url := startInflux(ctx, t, org, bucket, token)

	session := mqtt.NewMockSession()
	cfg := &config.Config{Config: mqtt.Config{Host: "mock", Port: 1883}}
	cfg.Telemetry.Count = 3
	cfg.Metrics = coremetrics.Config{
		InfluxEnabled: true,
		InfluxURL:     url,
		InfluxToken:   token,
		InfluxOrg:     org,
		InfluxBucket:  bucket,
	}
	cfg.SetDefaults()
	svc, err := app.New(cfg, &syncBuffer{}, app.WithSession(session))
	require.NoError(t, err)
	require.NoError(t, svc.Run(ctx))
	require.NoError(t, svc.Close())

	cli := NewInfluxClient(url, org, bucket, token)
	defer cli.Close()
	require.Eventually(t, func() bool {
		n, err := cli.CountPoints(ctx, "telemetry_reading", "temperature")
		return err == nil && n == 3
	}, 10*time.Second, 200*time.Millisecond)
}
