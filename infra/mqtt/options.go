package mqtt

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"strconv"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
)

const (
	defaultConnectTimeout    = 10 * time.Second
	defaultKeepAlive         = 60 * time.Second
	defaultDisconnectQuiesce = 250 // milliseconds
)

// Config defines the broker connection. Host and Port are mandatory and are
// validated by the config loader.
type Config struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	ClientID string `json:"client_id"`
	Username string `json:"username"`
	Password string `json:"password"`

	UseTLS     bool   `json:"use_tls"`
	ClientCert string `json:"client_cert"`
	ClientKey  string `json:"client_key"`
	CABundle   string `json:"ca_bundle"`

	KeepAliveSeconds      int  `json:"keep_alive_seconds"`
	ConnectTimeoutSeconds int  `json:"connect_timeout_seconds"`
	PersistentSession     bool `json:"persistent_session"`
	// ProtocolVersion selects the wire protocol: 3 (3.1), 4 (3.1.1) or 5.
	// Zero means 4.
	ProtocolVersion int `json:"protocol_version"`

	TLSConfig *tls.Config `json:"-"`
}

// Address returns host:port.
func (c Config) Address() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}

// BrokerURL returns the broker address with a tcp:// or ssl:// scheme.
func (c Config) BrokerURL() string {
	scheme := "tcp"
	if c.UseTLS {
		scheme = "ssl"
	}
	return fmt.Sprintf("%s://%s", scheme, c.Address())
}

func (c Config) keepAlive() time.Duration {
	if c.KeepAliveSeconds <= 0 {
		return defaultKeepAlive
	}
	return time.Duration(c.KeepAliveSeconds) * time.Second
}

func (c Config) connectTimeout() time.Duration {
	if c.ConnectTimeoutSeconds <= 0 {
		return defaultConnectTimeout
	}
	return time.Duration(c.ConnectTimeoutSeconds) * time.Second
}

// NewClientOptions builds paho client options from Config. Reconnection is
// disabled: a lost connection is reported, never silently restored.
func NewClientOptions(cfg Config) (*paho.ClientOptions, error) {
	opts := paho.NewClientOptions().
		AddBroker(cfg.BrokerURL()).
		SetClientID(cfg.ClientID).
		SetKeepAlive(cfg.keepAlive()).
		SetConnectTimeout(cfg.connectTimeout()).
		SetCleanSession(!cfg.PersistentSession).
		SetAutoReconnect(false).
		SetConnectRetry(false)
	switch cfg.ProtocolVersion {
	case 0:
		opts.SetProtocolVersion(4)
	case 3, 4:
		opts.SetProtocolVersion(uint(cfg.ProtocolVersion))
	default:
		return nil, fmt.Errorf("protocol version %d not supported by the 3.x client", cfg.ProtocolVersion)
	}
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	if cfg.UseTLS {
		tlsCfg, err := cfg.LoadTLSConfig()
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsCfg)
	}
	return opts, nil
}

// LoadTLSConfig builds the TLS configuration. Without a CA bundle the system
// roots are used; a client certificate is optional but needs both halves.
func (c Config) LoadTLSConfig() (*tls.Config, error) {
	if c.TLSConfig != nil {
		return c.TLSConfig, nil
	}
	cfg := &tls.Config{ServerName: c.Host, MinVersion: tls.VersionTLS12}
	if (c.ClientCert == "") != (c.ClientKey == "") {
		return nil, fmt.Errorf("tls config requires both client_cert and client_key")
	}
	if c.ClientCert != "" {
		cert, err := tls.LoadX509KeyPair(c.ClientCert, c.ClientKey)
		if err != nil {
			return nil, fmt.Errorf("load cert: %w", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}
	if c.CABundle != "" {
		caBytes, err := os.ReadFile(c.CABundle)
		if err != nil {
			return nil, fmt.Errorf("read ca: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caBytes) {
			return nil, fmt.Errorf("ca bundle %s contains no certificates", c.CABundle)
		}
		cfg.RootCAs = pool
	}
	return cfg, nil
}
