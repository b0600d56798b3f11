package commands

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/savaki/datapipe/internal/di"
	"github.com/savaki/datapipe/internal/trigger"
	"github.com/urfave/cli/v2"
)

// TriggerCommand returns the trigger command for manual stage executions
func TriggerCommand(logger *zerolog.Logger) *cli.Command {
	return &cli.Command{
		Name:  "trigger",
		Usage: "Start a deployed stage's state machine",
		Description: `Starts a Step Functions execution against a deployed stage's state
machine and records the run.

The state machine ARN is published as a stack output by synth; pass it here.
For stages defined with a dynamic query path, supply the SQL via --query.

Examples:
  # Trigger a static-query stage
  datapipe trigger --env dev --pipeline clickstream --stage transform \
    --state-machine-arn arn:aws:states:us-west-2:123456789012:stateMachine:transform

  # Trigger a dynamic-query stage with inline SQL
  datapipe trigger --env dev --pipeline clickstream --stage transform \
    --state-machine-arn arn:aws:states:us-west-2:123456789012:stateMachine:transform \
    --query "SELECT count(*) FROM clicks"`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "env",
				Aliases:  []string{"e"},
				Usage:    "Deployment environment (dev, stg, or prd)",
				Required: true,
				EnvVars:  []string{"ENV"},
			},
			&cli.StringFlag{
				Name:     "pipeline",
				Usage:    "Pipeline name",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "stage",
				Usage:    "Stage name",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "state-machine-arn",
				Usage:    "ARN of the stage's state machine",
				Required: true,
			},
			&cli.StringFlag{
				Name:    "query",
				Aliases: []string{"q"},
				Usage:   "SQL for dynamic-query stages",
			},
		},
		Action: func(c *cli.Context) error {
			return triggerAction(c, logger)
		},
	}
}

func triggerAction(c *cli.Context, logger *zerolog.Logger) error {
	env := c.String("env")

	container, err := di.New(env)
	if err != nil {
		return fmt.Errorf("failed to build container: %w", err)
	}

	return container.Invoke(func(t *trigger.Trigger) error {
		ctx := logger.WithContext(c.Context)

		executionArn, err := t.Start(ctx, c.String("state-machine-arn"), trigger.Input{
			Env:         env,
			Pipeline:    c.String("pipeline"),
			Stage:       c.String("stage"),
			QueryString: c.String("query"),
		})
		if err != nil {
			return err
		}

		fmt.Fprintln(c.App.Writer, executionArn)
		return nil
	})
}
