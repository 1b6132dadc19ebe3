package config

import (
	stderrors "errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/multierr"

	"github.com/CoreBridgeTechnologies/corebridge-plugin-health-monitor/errors"
)

var configValidate *validator.Validate

func init() {
	configValidate = validator.New(validator.WithRequiredStructEnabled())

	// Report failures with the configuration file's key names
	configValidate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
}

// Validate checks the configuration and returns every problem found, combined.
// The returned error wraps errors.ErrInvalidConfig.
func (c *Config) Validate() error {
	var errs error

	if err := configValidate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if stderrors.As(err, &verrs) {
			for _, fe := range verrs {
				errs = multierr.Append(errs, fieldError(fe))
			}
		} else {
			errs = multierr.Append(errs, err)
		}
	}

	if c.Version != "" && c.Version != SupportedVersion {
		errs = multierr.Append(errs,
			fmt.Errorf("version %q is not supported (want %q)", c.Version, SupportedVersion))
	}

	errs = multierr.Append(errs, c.validateTargets())
	errs = multierr.Append(errs, c.validateSelfMonitor())

	if c.Database.Enabled && c.Database.Name == "" {
		errs = multierr.Append(errs, fmt.Errorf("database.name is required when the database check is enabled"))
	}

	if errs == nil {
		return nil
	}
	return errors.WrapInvalid(fmt.Errorf("%w: %w", errors.ErrInvalidConfig, errs), "Config", "Validate", "validate configuration")
}

func (c *Config) validateTargets() error {
	var errs error
	seen := make(map[string]int, len(c.Targets))

	for i, t := range c.Targets {
		label := fmt.Sprintf("targets[%d]", i)
		if t.Name != "" {
			label = fmt.Sprintf("target %q", t.Name)
			if first, dup := seen[t.Name]; dup {
				errs = multierr.Append(errs, fmt.Errorf("%s: duplicate name (first defined at targets[%d])", label, first))
			} else {
				seen[t.Name] = i
			}
		}

		switch t.Kind {
		case KindHTTP:
			if t.URL == "" {
				errs = multierr.Append(errs, fmt.Errorf("%s: url is required for http targets", label))
			}
		case KindTCP:
			if t.Host == "" {
				errs = multierr.Append(errs, fmt.Errorf("%s: host is required for tcp targets", label))
			}
			if t.Port == 0 {
				errs = multierr.Append(errs, fmt.Errorf("%s: port is required for tcp targets", label))
			}
			if t.Auth != nil {
				errs = multierr.Append(errs, fmt.Errorf("%s: auth is only supported for http targets", label))
			}
		}

		if t.Auth != nil {
			switch t.Auth.Type {
			case AuthBasic:
				if t.Auth.Username == "" {
					errs = multierr.Append(errs, fmt.Errorf("%s: basic auth requires a username", label))
				}
			case AuthBearer:
				if t.Auth.Token == "" {
					errs = multierr.Append(errs, fmt.Errorf("%s: bearer auth requires a token", label))
				}
			}
		}
	}

	if c.Database.Enabled {
		if _, clash := seen[c.Database.Name]; clash {
			errs = multierr.Append(errs, fmt.Errorf("database.name %q collides with a target name", c.Database.Name))
		}
	}
	return errs
}

func (c *Config) validateSelfMonitor() error {
	var errs error
	th := c.SelfMonitor.Thresholds
	if th.MemoryMB <= 0 {
		errs = multierr.Append(errs, fmt.Errorf("selfMonitor.thresholds.memoryMB must be > 0"))
	}
	if th.CPUPercent <= 0 {
		errs = multierr.Append(errs, fmt.Errorf("selfMonitor.thresholds.cpuPercent must be > 0"))
	}
	if th.EventLoopDelayMs <= 0 {
		errs = multierr.Append(errs, fmt.Errorf("selfMonitor.thresholds.eventLoopDelayMs must be > 0"))
	}
	return errs
}

// fieldError renders a validator failure using the configuration's key names
func fieldError(fe validator.FieldError) error {
	path := fe.Namespace()
	if i := strings.Index(path, "."); i >= 0 {
		path = path[i+1:]
	}

	switch fe.Tag() {
	case "required":
		return fmt.Errorf("%s is required", path)
	case "oneof":
		return fmt.Errorf("%s must be one of [%s], got %v", path, fe.Param(), fe.Value())
	case "url":
		return fmt.Errorf("%s must be a valid URL, got %q", path, fe.Value())
	default:
		if fe.Param() != "" {
			return fmt.Errorf("%s failed %s=%s (got %v)", path, fe.Tag(), fe.Param(), fe.Value())
		}
		return fmt.Errorf("%s failed %s (got %v)", path, fe.Tag(), fe.Value())
	}
}
