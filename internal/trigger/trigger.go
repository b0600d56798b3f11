// Package trigger starts Step Functions executions for deployed pipeline
// stages and records each run.
package trigger

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sfn"
	"github.com/rs/zerolog"
	"github.com/savaki/datapipe/internal/dao/rundao"
	"github.com/segmentio/ksuid"
)

// Input is the execution payload for a stage state machine. QueryString is
// what an Athena stage reads when its query was defined as a dynamic path.
type Input struct {
	Env         string `json:"env"`                   // Environment name (dev, stg, prd)
	Pipeline    string `json:"pipeline"`              // Pipeline name
	Stage       string `json:"stage"`                 // Stage name
	QueryString string `json:"queryString,omitempty"` // SQL for dynamic-query stages
}

// Trigger manages manual stage executions
type Trigger struct {
	sfnClient *sfn.Client
	dao       *rundao.DAO
}

// New creates a new Trigger instance
func New(sfnClient *sfn.Client, dao *rundao.DAO) *Trigger {
	return &Trigger{
		sfnClient: sfnClient,
		dao:       dao,
	}
}

// ExecutionName derives a unique, traceable execution name.
func ExecutionName(pipeline, stage, sk string) string {
	return fmt.Sprintf("%s-%s-%s", pipeline, stage, sk)
}

// Start begins a Step Functions execution against the stage's state machine
// and records the run as IN_PROGRESS with the execution ARN.
func (t *Trigger) Start(ctx context.Context, stateMachineArn string, input Input) (string, error) {
	logger := zerolog.Ctx(ctx)

	inputJSON, err := json.Marshal(input)
	if err != nil {
		return "", fmt.Errorf("failed to marshal execution input: %w", err)
	}

	sk := ksuid.New().String()
	executionName := ExecutionName(input.Pipeline, input.Stage, sk)

	record, err := t.dao.Create(ctx, rundao.CreateInput{
		Env:      input.Env,
		Pipeline: input.Pipeline,
		SK:       sk,
		Type:     rundao.RunTypeTrigger,
		Stage:    input.Stage,
	})
	if err != nil {
		return "", fmt.Errorf("failed to create run record: %w", err)
	}

	result, err := t.sfnClient.StartExecution(ctx, &sfn.StartExecutionInput{
		StateMachineArn: aws.String(stateMachineArn),
		Name:            aws.String(executionName),
		Input:           aws.String(string(inputJSON)),
	})
	if err != nil {
		status := rundao.RunStatusFailed
		errorMsg := err.Error()
		if updateErr := t.dao.Update(ctx, rundao.UpdateInput{
			PK:       record.PK,
			SK:       record.SK,
			Status:   &status,
			ErrorMsg: &errorMsg,
		}); updateErr != nil {
			logger.Warn().Err(updateErr).Msg("Failed to record execution failure")
		}
		return "", fmt.Errorf("failed to start execution: %w", err)
	}

	executionArn := aws.ToString(result.ExecutionArn)

	status := rundao.RunStatusInProgress
	if err := t.dao.Update(ctx, rundao.UpdateInput{
		PK:           record.PK,
		SK:           record.SK,
		Status:       &status,
		ExecutionArn: &executionArn,
	}); err != nil {
		return "", fmt.Errorf("failed to update run record: %w", err)
	}

	logger.Info().
		Str("execution_arn", executionArn).
		Str("stage", input.Stage).
		Msg("Started stage execution")

	return executionArn, nil
}
