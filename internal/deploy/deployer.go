// Package deploy pushes synthesized pipeline templates to CloudFormation.
// Templates are validated against policy, archived to S3, then created or
// updated as a stack named {env}-{pipeline}.
package deploy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/rs/zerolog"
	"github.com/savaki/datapipe/internal/cfn"
)

// Deployer creates or updates pipeline stacks.
type Deployer struct {
	cfClient      *cloudformation.Client
	s3Client      *s3.Client
	archiveBucket string // optional: template copies are archived here
}

// Result describes a completed deployment.
type Result struct {
	StackName string `json:"stack_name"`
	StackID   string `json:"stack_id"`
	Operation string `json:"operation"`
}

// New creates a Deployer. archiveBucket may be empty to skip archiving.
func New(cfClient *cloudformation.Client, s3Client *s3.Client, archiveBucket string) *Deployer {
	return &Deployer{
		cfClient:      cfClient,
		s3Client:      s3Client,
		archiveBucket: archiveBucket,
	}
}

// StackName derives the stack name for a pipeline in an environment.
func StackName(env, pipeline string) string {
	return fmt.Sprintf("%s-%s", env, pipeline)
}

// MergeParameters merges multiple parameter maps with later maps having
// higher precedence, returning a sorted CloudFormation parameter list.
func MergeParameters(pp ...map[string]string) []types.Parameter {
	m := map[string]string{}
	for _, p := range pp {
		maps.Copy(m, p)
	}

	var results []types.Parameter
	for _, k := range slices.Sorted(maps.Keys(m)) {
		v := m[k]
		results = append(results, types.Parameter{
			ParameterKey:   aws.String(k),
			ParameterValue: aws.String(v),
		})
	}

	return results
}

// Deploy synthesizes tpl, archives it, and creates or updates the stack.
func (d *Deployer) Deploy(ctx context.Context, env, pipeline string, tpl *cfn.Template, params []types.Parameter) (result *Result, err error) {
	logger := zerolog.Ctx(ctx)

	stackName := StackName(env, pipeline)

	defer func(begin time.Time) {
		logger.Info().
			Interface("error", err).
			Str("stack_name", stackName).
			Dur("elapsed", time.Since(begin)).
			Msg("Deploy completed")
	}(time.Now())

	body, err := tpl.JSON()
	if err != nil {
		return nil, fmt.Errorf("failed to render template: %w", err)
	}

	if d.archiveBucket != "" {
		if err := d.archiveTemplate(ctx, stackName, body); err != nil {
			// Archiving is best-effort; the deployment still proceeds.
			logger.Warn().Err(err).Msg("Failed to archive template")
		}
	}

	exists, err := d.stackExists(ctx, stackName)
	if err != nil {
		return nil, fmt.Errorf("failed to check if stack exists: %w", err)
	}

	if exists {
		result, err = d.updateStack(ctx, stackName, string(body), params)
		if err != nil {
			return nil, fmt.Errorf("failed to update stack: %w", err)
		}
		if result.Operation == "" {
			result.Operation = "UPDATE"
		}
	} else {
		result, err = d.createStack(ctx, stackName, string(body), params)
		if err != nil {
			return nil, fmt.Errorf("failed to create stack: %w", err)
		}
		result.Operation = "CREATE"
	}

	return result, nil
}

// Wait blocks until the stack reaches a terminal state.
func (d *Deployer) Wait(ctx context.Context, stackName, operation string) error {
	input := &cloudformation.DescribeStacksInput{
		StackName: aws.String(stackName),
	}

	switch operation {
	case "CREATE":
		waiter := cloudformation.NewStackCreateCompleteWaiter(d.cfClient)
		return waiter.Wait(ctx, input, 30*time.Minute)
	case "UPDATE":
		waiter := cloudformation.NewStackUpdateCompleteWaiter(d.cfClient)
		return waiter.Wait(ctx, input, 30*time.Minute)
	default:
		return fmt.Errorf("unknown operation: %s", operation)
	}
}

func (d *Deployer) archiveTemplate(ctx context.Context, stackName string, body []byte) error {
	key := fmt.Sprintf("templates/%s/%d.json", stackName, time.Now().Unix())
	_, err := d.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(d.archiveBucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("failed to upload template to s3://%s/%s: %w", d.archiveBucket, key, err)
	}
	return nil
}

func (d *Deployer) stackExists(ctx context.Context, stackName string) (bool, error) {
	_, err := d.cfClient.DescribeStacks(ctx, &cloudformation.DescribeStacksInput{
		StackName: aws.String(stackName),
	})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) {
			if apiErr.ErrorCode() == "ValidationError" || strings.Contains(apiErr.ErrorMessage(), "does not exist") {
				return false, nil
			}
		}
		return false, err
	}
	return true, nil
}

func (d *Deployer) createStack(ctx context.Context, stackName, body string, params []types.Parameter) (*Result, error) {
	result, err := d.cfClient.CreateStack(ctx, &cloudformation.CreateStackInput{
		StackName:    aws.String(stackName),
		TemplateBody: aws.String(body),
		Parameters:   params,
		Capabilities: []types.Capability{
			types.CapabilityCapabilityIam,
			types.CapabilityCapabilityNamedIam,
		},
		Tags: []types.Tag{
			{
				Key:   aws.String("ManagedBy"),
				Value: aws.String("datapipe"),
			},
		},
	})
	if err != nil {
		return nil, err
	}

	return &Result{
		StackName: stackName,
		StackID:   aws.ToString(result.StackId),
	}, nil
}

func (d *Deployer) updateStack(ctx context.Context, stackName, body string, params []types.Parameter) (*Result, error) {
	logger := zerolog.Ctx(ctx)

	result, err := d.cfClient.UpdateStack(ctx, &cloudformation.UpdateStackInput{
		StackName:    aws.String(stackName),
		TemplateBody: aws.String(body),
		Parameters:   params,
		Capabilities: []types.Capability{
			types.CapabilityCapabilityIam,
			types.CapabilityCapabilityNamedIam,
		},
	})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) {
			if apiErr.ErrorCode() == "ValidationError" &&
				(strings.Contains(apiErr.ErrorMessage(), "No updates are to be performed") ||
					strings.Contains(apiErr.ErrorMessage(), "No updates to be performed")) {
				logger.Info().Str("stack_name", stackName).Msg("No updates needed for stack")
				return &Result{
					StackName: stackName,
					StackID:   stackName,
					Operation: "NOOP",
				}, nil
			}
		}
		return nil, err
	}

	return &Result{
		StackName: stackName,
		StackID:   aws.ToString(result.StackId),
	}, nil
}
