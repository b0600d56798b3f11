package stage

import (
	"encoding/json"
	"fmt"

	"github.com/savaki/datapipe/internal/cfn"
	"github.com/savaki/datapipe/internal/errors"
)

// QuerySource identifies where an Athena stage gets its SQL from: either a
// literal string fixed at definition time, or a JSONPath resolved from the
// triggering event at execution time. Modeling this as a closed union removes
// the invalid "both set" and "neither set" configurations from the type.
type QuerySource interface {
	querySource()
}

type literalQuery struct {
	sql string
}

func (literalQuery) querySource() {}

type pathQuery struct {
	path string
}

func (pathQuery) querySource() {}

// QueryLiteral fixes the SQL at definition time. The stage's rule target
// carries a static invocation input containing the query.
func QueryLiteral(sql string) QuerySource {
	return literalQuery{sql: sql}
}

// QueryPath resolves the SQL from the triggering event at execution time.
// The stage's rule target forwards the event's detail payload, and the state
// machine reads the query from the given JSONPath within it.
func QueryPath(path string) QuerySource {
	return pathQuery{path: path}
}

// AthenaSQLProps configures an AthenaSQLStage. Query is required; everything
// else is optional.
type AthenaSQLProps struct {
	Query          QuerySource
	WorkGroup      string // Athena workgroup
	Catalog        string // data catalog
	Database       string // database within the catalog
	OutputLocation string // s3:// URI for query results
	Encryption     string // result encryption option, default SSE_S3
}

// AthenaSQLStage runs a single SQL query via a two-state Step Functions
// state machine: start the query execution synchronously, then succeed.
type AthenaSQLStage struct {
	name           string
	stateMachineID string
	targets        []RuleTarget
}

const defaultEncryption = "SSE_S3"

// NewAthenaSQLStage validates props, synthesizes the state machine and its
// execution role into tpl, and returns the stage. Construction fails if name
// is empty or no query source was given.
func NewAthenaSQLStage(tpl *cfn.Template, name string, props AthenaSQLProps) (*AthenaSQLStage, error) {
	if name == "" {
		return nil, errors.ErrStageNameRequired
	}
	if props.Query == nil {
		return nil, errors.ErrQuerySourceRequired
	}

	encryption := props.Encryption
	if encryption == "" {
		encryption = defaultEncryption
	}

	params := map[string]any{
		"ResultConfiguration": map[string]any{
			"EncryptionConfiguration": map[string]any{
				"EncryptionOption": encryption,
			},
		},
	}
	if props.OutputLocation != "" {
		params["ResultConfiguration"].(map[string]any)["OutputLocation"] = props.OutputLocation
	}
	if props.WorkGroup != "" {
		params["WorkGroup"] = props.WorkGroup
	}
	if props.Catalog != "" || props.Database != "" {
		execCtx := map[string]any{}
		if props.Catalog != "" {
			execCtx["Catalog"] = props.Catalog
		}
		if props.Database != "" {
			execCtx["Database"] = props.Database
		}
		params["QueryExecutionContext"] = execCtx
	}

	var target RuleTarget
	switch q := props.Query.(type) {
	case literalQuery:
		params["QueryString"] = q.sql
		// Static query, static invocation input.
		input, err := json.Marshal(map[string]string{"queryString": q.sql})
		if err != nil {
			return nil, fmt.Errorf("failed to marshal query input: %w", err)
		}
		target = RuleTarget{Input: string(input)}
	case pathQuery:
		params["QueryString.$"] = q.path
		// Dynamic query, forward the triggering event's detail.
		target = RuleTarget{InputPath: "$.detail"}
	default:
		return nil, fmt.Errorf("unsupported query source %T", props.Query)
	}

	definition := map[string]any{
		"StartAt": "run-query",
		"States": map[string]any{
			"run-query": map[string]any{
				"Type":       "Task",
				"Resource":   "arn:aws:states:::athena:startQueryExecution.sync",
				"Parameters": params,
				"Next":       "done",
			},
			"done": map[string]any{
				"Type": "Succeed",
			},
		},
	}

	definitionJSON, err := json.Marshal(definition)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal state machine definition: %w", err)
	}

	roleID := cfn.LogicalID(name, "sfn-role")
	if err := tpl.AddResource(roleID, roleResource("states.amazonaws.com", "athena-query", []any{
		map[string]any{
			"Effect": "Allow",
			"Action": []string{
				"athena:StartQueryExecution",
				"athena:GetQueryExecution",
				"athena:GetQueryResults",
				"glue:GetTable",
				"glue:GetDatabase",
				"s3:GetObject",
				"s3:PutObject",
				"s3:GetBucketLocation",
				"s3:ListBucket",
			},
			"Resource": "*",
		},
	})); err != nil {
		return nil, err
	}

	stateMachineID := cfn.LogicalID(name, "state-machine")
	if err := tpl.AddResource(stateMachineID, cfn.Resource{
		Type: "AWS::StepFunctions::StateMachine",
		Properties: map[string]any{
			"DefinitionString": string(definitionJSON),
			"RoleArn":          cfn.GetAtt(roleID, "Arn"),
		},
	}); err != nil {
		return nil, err
	}

	tpl.AddOutput(cfn.LogicalID(name, "state-machine-arn"), cfn.Output{
		Description: fmt.Sprintf("state machine for stage %s", name),
		Value:       cfn.Ref(stateMachineID),
	})

	target.Arn = cfn.Ref(stateMachineID)

	return &AthenaSQLStage{
		name:           name,
		stateMachineID: stateMachineID,
		targets:        []RuleTarget{target},
	}, nil
}

// Name returns the stage name.
func (s *AthenaSQLStage) Name() string {
	return s.name
}

// EventPattern returns nil: the stage's completion events are emitted by the
// provider's state machine runtime, not derived here.
func (s *AthenaSQLStage) EventPattern() *EventPattern {
	return nil
}

// Targets returns the state machine invocation target.
func (s *AthenaSQLStage) Targets() []RuleTarget {
	return s.targets
}

// StateMachineArn returns a reference to the stage's state machine ARN.
func (s *AthenaSQLStage) StateMachineArn() any {
	return cfn.Ref(s.stateMachineID)
}
