package config

import (
	"fmt"
	"path/filepath"

	"github.com/go-playground/validator/v10"
)

var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Validate checks struct tags first, then rules that span profiles.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}
	return validateCustomRules(cfg)
}

func validateCustomRules(cfg *Config) error {
	seen := make(map[string]string, len(cfg.Profiles))
	for _, name := range cfg.ProfileNames() {
		p := cfg.Profiles[name]
		mp := filepath.Clean(ExpandHome(p.MountPoint))
		if !filepath.IsAbs(mp) {
			return fmt.Errorf("profiles.%s.mount_point: must be absolute or start with ~/ (got %q)", name, p.MountPoint)
		}
		if other, ok := seen[mp]; ok {
			return fmt.Errorf("profiles.%s.mount_point: %s is already used by profile %q", name, mp, other)
		}
		seen[mp] = name
	}
	return nil
}

func formatValidationError(err error) error {
	if validationErrs, ok := err.(validator.ValidationErrors); ok && len(validationErrs) > 0 {
		e := validationErrs[0]
		return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
			e.Namespace(), e.Tag(), e.Value())
	}
	return err
}
