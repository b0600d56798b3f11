package commands

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/savaki/datapipe/internal/cfn"
	"github.com/savaki/datapipe/internal/manifest"
	"github.com/savaki/datapipe/internal/pipeline"
	"github.com/urfave/cli/v2"
)

// SynthCommand returns the synth command for rendering pipeline templates
func SynthCommand(logger *zerolog.Logger) *cli.Command {
	return &cli.Command{
		Name:  "synth",
		Usage: "Synthesize a pipeline manifest into a CloudFormation template",
		Description: `Builds the stages described by a manifest and prints the resulting
CloudFormation template.

Examples:
  # Print the template as JSON
  datapipe synth --manifest pipeline.yml

  # Print as YAML for review
  datapipe synth --manifest pipeline.yml --format yaml

  # Write to a file
  datapipe synth --manifest pipeline.yml --out template.json`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "manifest",
				Aliases:  []string{"m"},
				Usage:    "Path to the pipeline manifest",
				Required: true,
			},
			&cli.StringFlag{
				Name:    "format",
				Aliases: []string{"f"},
				Usage:   "Output format: json or yaml",
				Value:   "json",
			},
			&cli.StringFlag{
				Name:    "out",
				Aliases: []string{"o"},
				Usage:   "Write the template to a file instead of stdout",
			},
		},
		Action: func(c *cli.Context) error {
			return synthAction(c, logger)
		},
	}
}

func synthAction(c *cli.Context, logger *zerolog.Logger) error {
	tpl, p, err := synthesize(c.String("manifest"))
	if err != nil {
		return err
	}

	logger.Info().
		Str("pipeline", p.Name()).
		Int("stages", len(p.Stages())).
		Msg("Synthesized pipeline")

	var body []byte
	switch format := c.String("format"); format {
	case "json":
		body, err = tpl.JSON()
	case "yaml":
		body, err = tpl.YAML()
	default:
		return fmt.Errorf("unknown format: %s", format)
	}
	if err != nil {
		return fmt.Errorf("failed to render template: %w", err)
	}

	if out := c.String("out"); out != "" {
		return os.WriteFile(out, body, 0o644)
	}

	fmt.Fprintln(c.App.Writer, string(body))
	return nil
}

// synthesize loads a manifest and builds its pipeline into a fresh template.
func synthesize(manifestPath string) (*cfn.Template, *pipeline.Pipeline, error) {
	m, err := manifest.LoadFile(manifestPath)
	if err != nil {
		return nil, nil, err
	}

	tpl := cfn.NewTemplate(m.Description)
	p, err := m.Build(tpl)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build pipeline: %w", err)
	}

	return tpl, p, nil
}
