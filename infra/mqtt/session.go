package mqtt

import (
	coremqtt "github.com/kilianp07/mqttdemo/core/mqtt"
	"github.com/kilianp07/mqttdemo/infra/logger"
)

// New returns the session driver matching cfg.ProtocolVersion.
func New(cfg Config, log logger.Logger) (coremqtt.Session, error) {
	if cfg.ProtocolVersion == 5 {
		return NewV5Session(cfg, log)
	}
	return NewPahoSession(cfg, log)
}
