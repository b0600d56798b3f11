package commands

import (
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/savaki/datapipe/internal/dao/rundao"
	"github.com/savaki/datapipe/internal/di"
	"github.com/urfave/cli/v2"
)

// RunsCommand returns the runs command for inspecting run history
func RunsCommand(logger *zerolog.Logger) *cli.Command {
	return &cli.Command{
		Name:  "runs",
		Usage: "List deployment and trigger history for a pipeline",
		Description: `Lists run records for a pipeline in an environment, most useful for
checking what was deployed or triggered and when.

Examples:
  datapipe runs --env dev --pipeline clickstream
  datapipe runs --env dev --pipeline clickstream --json`,
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
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Emit records as JSON",
			},
		},
		Action: func(c *cli.Context) error {
			return runsAction(c, logger)
		},
	}
}

func runsAction(c *cli.Context, logger *zerolog.Logger) error {
	env := c.String("env")
	pipeline := c.String("pipeline")

	container, err := di.New(env)
	if err != nil {
		return fmt.Errorf("failed to build container: %w", err)
	}

	return container.Invoke(func(dao *rundao.DAO) error {
		ctx := logger.WithContext(c.Context)

		records, err := dao.QueryByPipeline(ctx, env, pipeline)
		if err != nil {
			return err
		}

		if c.Bool("json") {
			encoder := json.NewEncoder(c.App.Writer)
			encoder.SetIndent("", "  ")
			return encoder.Encode(records)
		}

		if len(records) == 0 {
			fmt.Fprintf(c.App.Writer, "no runs found for %s/%s\n", env, pipeline)
			return nil
		}

		for _, record := range records {
			line := fmt.Sprintf("%-28s %-8s %-12s", record.GetID(), record.Type, record.Status)
			if record.Type == rundao.RunTypeTrigger {
				line += " stage=" + record.Stage
			}
			if record.Operation != "" {
				line += " op=" + record.Operation
			}
			fmt.Fprintln(c.App.Writer, line)
		}
		return nil
	})
}
