package commands

import (
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/savaki/datapipe/internal/policy"
	"github.com/urfave/cli/v2"
)

// ValidateCommand returns the validate command for policy-checking templates
func ValidateCommand(logger *zerolog.Logger) *cli.Command {
	return &cli.Command{
		Name:  "validate",
		Usage: "Validate a synthesized pipeline against the embedded policy",
		Description: `Synthesizes the manifest and evaluates the resulting template against the
embedded rego policy (bucket encryption, delivery buffering bounds, rule
targets). Exits non-zero on violations.

Examples:
  datapipe validate --manifest pipeline.yml`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "manifest",
				Aliases:  []string{"m"},
				Usage:    "Path to the pipeline manifest",
				Required: true,
			},
		},
		Action: func(c *cli.Context) error {
			return validateAction(c, logger)
		},
	}
}

func validateAction(c *cli.Context, logger *zerolog.Logger) error {
	ctx := c.Context

	tpl, p, err := synthesize(c.String("manifest"))
	if err != nil {
		return err
	}

	body, err := tpl.JSON()
	if err != nil {
		return fmt.Errorf("failed to render template: %w", err)
	}

	var doc map[string]interface{}
	if err := json.Unmarshal(body, &doc); err != nil {
		return fmt.Errorf("failed to parse rendered template: %w", err)
	}

	validator, err := policy.NewValidator()
	if err != nil {
		return err
	}

	result, err := validator.ValidateTemplate(ctx, doc)
	if err != nil {
		return err
	}

	if !result.Allowed {
		for _, violation := range result.Violations {
			logger.Error().Str("pipeline", p.Name()).Msg(violation)
		}
		return fmt.Errorf("policy validation failed with %d violation(s)", len(result.Violations))
	}

	logger.Info().Str("pipeline", p.Name()).Msg("Policy validation passed")
	return nil
}
