package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/pitabwire/vendordesk/internal/config"
	"github.com/pitabwire/vendordesk/internal/definition"
	"github.com/pitabwire/vendordesk/internal/openapi"
	"github.com/pitabwire/vendordesk/model"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the configuration and list definitions without serving",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("configuration: %w", err)
		}
		defs, index, err := loadDefinitions(cfg)
		if err != nil {
			return err
		}
		lists := 0
		for _, d := range defs {
			lists += len(d.Lists)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "ok: %d domains, %d lists, %d operations indexed\n",
			len(defs), lists, index.Len())
		return nil
	},
}

// loadDefinitions loads the OpenAPI index and every definition directory,
// then validates the definitions against the index.
func loadDefinitions(cfg *config.Config) ([]model.DomainDefinition, *openapi.Index, error) {
	index := openapi.NewIndex()
	if err := index.Load(specSources(cfg)); err != nil {
		return nil, nil, fmt.Errorf("openapi: %w", err)
	}
	defs, err := definition.LoadDirs(cfg.Definitions.Directories)
	if err != nil {
		return nil, nil, fmt.Errorf("definitions: %w", err)
	}
	if verrs := definition.NewValidator().Validate(defs, index); len(verrs) > 0 {
		return nil, nil, &validationFailure{errs: verrs}
	}
	return defs, index, nil
}

type validationFailure struct {
	errs []definition.VError
}

func (v *validationFailure) Error() string {
	msg := fmt.Sprintf("%d definition errors", len(v.errs))
	for _, e := range v.errs {
		msg += "\n  " + e.Error()
	}
	return msg
}

// specSources converts config spec sources to openapi.SpecSource.
func specSources(cfg *config.Config) []openapi.SpecSource {
	sources := make([]openapi.SpecSource, len(cfg.Specs.Sources))
	for i, s := range cfg.Specs.Sources {
		specPath := s.SpecFile
		if cfg.Specs.Directory != "" && !filepath.IsAbs(specPath) {
			specPath = filepath.Join(cfg.Specs.Directory, specPath)
		}
		sources[i] = openapi.SpecSource{
			ServiceID: s.ServiceID,
			BaseURL:   cfg.Services[s.ServiceID].BaseURL,
			SpecPath:  specPath,
		}
	}
	return sources
}
