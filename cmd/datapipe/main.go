package main

import (
	"context"
	"os"

	"github.com/savaki/datapipe/cmd/datapipe/commands"
	"github.com/savaki/datapipe/internal/di"
	"github.com/urfave/cli/v2"
)

func main() {
	logger := di.ProvideLogger()
	ctx := logger.WithContext(context.Background())

	app := &cli.App{
		Name:  "datapipe",
		Usage: "Declarative AWS data pipeline stages",
		Description: `Composes Athena, Firehose, and Step Functions resources into event-driven
pipelines described by a YAML manifest.

This tool provides commands for:
  - Synthesizing a pipeline manifest into a CloudFormation template
  - Validating templates against the embedded policy
  - Deploying pipelines as CloudFormation stacks
  - Triggering stage state machines and inspecting run history`,
		Commands: []*cli.Command{
			commands.SynthCommand(&logger),
			commands.ValidateCommand(&logger),
			commands.DeployCommand(&logger),
			commands.TriggerCommand(&logger),
			commands.RunsCommand(&logger),
		},
	}

	if err := app.RunContext(ctx, os.Args); err != nil {
		logger.Error().Err(err).Msg("Application error")
		os.Exit(1)
	}
}
