package fleet

import (
	"errors"
	"log/slog"
	"time"

	"github.com/gammadia/nimbus/retention"
)

type Config struct {
	Auditor                     retention.Auditor `json:"-"`
	Logger                      *slog.Logger      `json:"-"`
	NamePrefix                  string            `json:"name-prefix"`
	MinNodes                    int               `json:"min-nodes"`
	MaxNodes                    int               `json:"max-nodes"`
	Retention                   time.Duration     `json:"retention"`
	RetentionDisabled           bool              `json:"retention-disabled"`
	CheckInterval               time.Duration     `json:"check-interval"`
	SweepInterval               time.Duration     `json:"sweep-interval"`
	ProvisioningFailureCooldown time.Duration     `json:"provisioning-failure-cooldown"`
}

func Validate(config Config) error {
	if config.MaxNodes < 1 {
		return errors.New("max-nodes must be greater than 0")
	}
	if config.MinNodes < 0 {
		return errors.New("min-nodes must not be negative")
	}
	if config.MinNodes > config.MaxNodes {
		return errors.New("min-nodes must not be greater than max-nodes")
	}
	if config.CheckInterval <= 0 {
		return errors.New("check-interval must be greater than 0")
	}
	if config.SweepInterval < 0 {
		return errors.New("sweep-interval must not be negative")
	}
	return nil
}
