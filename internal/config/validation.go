package config

import (
	"errors"
	"fmt"
	"slices"

	"github.com/go-playground/validator/v10"

	"github.com/simonhull/bfio/internal/ome"
	"github.com/simonhull/bfio/internal/types"
)

var validate = validator.New()

// Validate checks struct tags, then rules tags cannot express. Failures
// wrap types.ErrInvalidArgument.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("%w: %w", types.ErrInvalidArgument, formatValidationError(err))
	}
	if err := validateCustomRules(cfg); err != nil {
		return fmt.Errorf("%w: %w", types.ErrInvalidArgument, err)
	}
	return nil
}

func validateCustomRules(cfg *Config) error {
	if cfg.Writer.TileSize%16 != 0 {
		return fmt.Errorf("writer.tile_size: %d is not a multiple of 16", cfg.Writer.TileSize)
	}
	if !cfg.Reader.RepairMetadata && len(cfg.Reader.RepairRules) > 0 {
		return errors.New("reader.repair_rules: set but repair_metadata is false")
	}
	known := ruleNames()
	for i, name := range cfg.Reader.RepairRules {
		if !slices.Contains(known, name) {
			return fmt.Errorf("reader.repair_rules[%d]: unknown rule %q", i, name)
		}
	}
	if cfg.Store.Type == "s3" && len(cfg.Store.S3) == 0 {
		return errors.New("store.s3: section is required when store.type is s3")
	}
	return nil
}

func ruleNames() []string {
	var names []string
	for _, r := range ome.DefaultRules() {
		names = append(names, r.Name)
	}
	return names
}

// formatValidationError reports the first failing field.
func formatValidationError(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		e := verrs[0]
		return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)", e.Namespace(), e.Tag(), e.Value())
	}
	return err
}
