package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/savaki/datapipe/internal/cfn"
	"github.com/savaki/datapipe/internal/dao/rundao"
	"github.com/savaki/datapipe/internal/deploy"
	"github.com/savaki/datapipe/internal/di"
	"github.com/savaki/datapipe/internal/policy"
	"github.com/segmentio/ksuid"
	"github.com/urfave/cli/v2"
)

// DeployCommand returns the deploy command for pushing pipeline stacks
func DeployCommand(logger *zerolog.Logger) *cli.Command {
	return &cli.Command{
		Name:  "deploy",
		Usage: "Deploy a pipeline manifest as a CloudFormation stack",
		Description: `Synthesizes the manifest, validates it against policy, and creates or
updates the stack {env}-{pipeline}. Each deployment is recorded in the runs
table.

Examples:
  # Deploy to dev
  datapipe deploy --env dev --manifest pipeline.yml

  # Deploy with stack parameters
  datapipe deploy --env prd --manifest pipeline.yml --param Retention=90

  # Archive the template copy to S3
  datapipe deploy --env dev --manifest pipeline.yml --archive-bucket my-templates`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "env",
				Aliases:  []string{"e"},
				Usage:    "Deployment environment (dev, stg, or prd)",
				Required: true,
				EnvVars:  []string{"ENV"},
			},
			&cli.StringFlag{
				Name:     "manifest",
				Aliases:  []string{"m"},
				Usage:    "Path to the pipeline manifest",
				Required: true,
			},
			&cli.StringSliceFlag{
				Name:    "param",
				Aliases: []string{"p"},
				Usage:   "Stack parameter as Key=Value (can be specified multiple times)",
			},
			&cli.StringFlag{
				Name:    "archive-bucket",
				Usage:   "S3 bucket to archive template copies to",
				EnvVars: []string{"ARCHIVE_BUCKET"},
			},
			&cli.BoolFlag{
				Name:  "wait",
				Usage: "Wait for the stack operation to complete",
			},
			&cli.BoolFlag{
				Name:  "skip-validation",
				Usage: "Skip policy validation",
			},
		},
		Action: func(c *cli.Context) error {
			return deployAction(c, logger)
		},
	}
}

func deployAction(c *cli.Context, logger *zerolog.Logger) error {
	env := c.String("env")

	tpl, p, err := synthesize(c.String("manifest"))
	if err != nil {
		return err
	}

	if !c.Bool("skip-validation") {
		if err := validateTemplate(c.Context, tpl); err != nil {
			return err
		}
	}

	params, err := parseParams(c.StringSlice("param"))
	if err != nil {
		return err
	}

	container, err := di.New(env, di.WithArchiveBucket(c.String("archive-bucket")))
	if err != nil {
		return fmt.Errorf("failed to build container: %w", err)
	}

	return container.Invoke(func(deployer *deploy.Deployer, dao *rundao.DAO) error {
		ctx := logger.WithContext(c.Context)
		stackName := deploy.StackName(env, p.Name())

		record, err := dao.Create(ctx, rundao.CreateInput{
			Env:       env,
			Pipeline:  p.Name(),
			SK:        ksuid.New().String(),
			Type:      rundao.RunTypeDeploy,
			StackName: stackName,
		})
		if err != nil {
			return fmt.Errorf("failed to create run record: %w", err)
		}

		result, err := deployer.Deploy(ctx, env, p.Name(), tpl, deploy.MergeParameters(params))
		if err != nil {
			status := rundao.RunStatusFailed
			errorMsg := err.Error()
			if updateErr := dao.Update(ctx, rundao.UpdateInput{
				PK:       record.PK,
				SK:       record.SK,
				Status:   &status,
				ErrorMsg: &errorMsg,
			}); updateErr != nil {
				logger.Warn().Err(updateErr).Msg("Failed to record deployment failure")
			}
			return err
		}

		if c.Bool("wait") && result.Operation != "NOOP" {
			logger.Info().Str("stack_name", result.StackName).Msg("Waiting for stack to stabilize")
			if err := deployer.Wait(ctx, result.StackName, result.Operation); err != nil {
				return fmt.Errorf("stack did not stabilize: %w", err)
			}
		}

		status := rundao.RunStatusSuccess
		if err := dao.Update(ctx, rundao.UpdateInput{
			PK:        record.PK,
			SK:        record.SK,
			Status:    &status,
			Operation: &result.Operation,
		}); err != nil {
			logger.Warn().Err(err).Msg("Failed to record deployment success")
		}

		logger.Info().
			Str("stack_name", result.StackName).
			Str("operation", result.Operation).
			Msg("Deployment complete")
		return nil
	})
}

func validateTemplate(ctx context.Context, tpl *cfn.Template) error {
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
		return fmt.Errorf("policy validation failed: %s", strings.Join(result.Violations, "; "))
	}
	return nil
}

// parseParams converts Key=Value strings into a parameter map
func parseParams(raw []string) (map[string]string, error) {
	params := map[string]string{}
	for _, kv := range raw {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid parameter %q, expected Key=Value", kv)
		}
		params[key] = value
	}
	return params, nil
}
