// Package rundao records pipeline runs (deployments and manual triggers)
// in DynamoDB.
package rundao

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/savaki/ddb/v2"
	"github.com/savaki/gox/slicex"
)

// PK represents a DynamoDB partition key in format {env}/{pipeline}
// Example: dev/clickstream
type PK string

// NewPK creates a new partition key from env and pipeline
func NewPK(env, pipeline string) PK {
	return PK(fmt.Sprintf("%s/%s", env, pipeline))
}

// ParsePK parses a partition key into its env and pipeline components
func ParsePK(pk PK) (env, pipeline string, err error) {
	s := string(pk)
	parts := strings.Split(s, "/")
	if len(parts) != 2 {
		return "", "", fmt.Errorf("invalid PK format: %s, expected {env}/{pipeline}", s)
	}
	return parts[0], parts[1], nil
}

// String returns the string representation of the partition key
func (pk PK) String() string {
	return string(pk)
}

// ID represents a run ID in format {env}/{pipeline}:{ksuid}
// Example: dev/clickstream:2HFj3kLmNoPqRsTuVwXy
type ID string

func (id ID) String() string {
	return string(id)
}

// NewID constructs an ID from partition key and sort key
func NewID(pk PK, sk string) ID {
	return ID(fmt.Sprintf("%s:%s", pk, sk))
}

// ParseID parses a run ID into its partition key (pk) and sort key (sk) components
func ParseID(id ID) (pk PK, sk string, err error) {
	s := string(id)
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return "", "", fmt.Errorf("invalid run ID format: %s, expected {env}/{pipeline}:{ksuid}", s)
	}
	return PK(parts[0]), parts[1], nil
}

// RunType distinguishes stack deployments from manual stage triggers
type RunType string

const (
	RunTypeDeploy  RunType = "DEPLOY"
	RunTypeTrigger RunType = "TRIGGER"
)

// RunStatus represents the current status of a run
type RunStatus string

const (
	RunStatusPending    RunStatus = "PENDING"
	RunStatusInProgress RunStatus = "IN_PROGRESS"
	RunStatusSuccess    RunStatus = "SUCCESS"
	RunStatusFailed     RunStatus = "FAILED"
)

// Record represents a pipeline run record in DynamoDB
type Record struct {
	PK           PK        `ddb:"hash" dynamodbav:"pk"`  // {env}/{pipeline}
	SK           string    `ddb:"range" dynamodbav:"sk"` // KSUID
	Env          string    `dynamodbav:"env,omitempty"`
	Pipeline     string    `dynamodbav:"pipeline,omitempty"`
	Type         RunType   `dynamodbav:"type,omitempty"`
	Status       RunStatus `dynamodbav:"status,omitempty"`
	StackName    string    `dynamodbav:"stack_name,omitempty"`
	Operation    string    `dynamodbav:"operation,omitempty"`     // CREATE, UPDATE, NOOP
	Stage        string    `dynamodbav:"stage,omitempty"`         // triggered stage name
	ExecutionArn *string   `dynamodbav:"execution_arn,omitempty"` // Step Functions execution ARN
	ErrorMsg     *string   `dynamodbav:"error_msg,omitempty"`
	CreatedAt    int64     `dynamodbav:"created_at,omitempty"`
	FinishedAt   *int64    `dynamodbav:"finished_at,omitempty"`
	UpdatedAt    int64     `dynamodbav:"updated_at,omitempty"`
}

// GetID returns the full run ID in format: {env}/{pipeline}:{ksuid}
func (r *Record) GetID() ID {
	return NewID(r.PK, r.SK)
}

// GetID returns the ID for a record value, for use with slicex
func GetID(r Record) ID {
	return r.GetID()
}

// TableName returns the runs table name for an environment
func TableName(env string) string {
	return fmt.Sprintf("%s-datapipe-runs", env)
}

// CreateInput contains the fields needed to create a new run record
type CreateInput struct {
	Env       string
	Pipeline  string
	SK        string // KSUID sort key
	Type      RunType
	StackName string
	Stage     string // only for TRIGGER runs
}

// UpdateInput contains the fields that can be updated on a run record
type UpdateInput struct {
	PK           PK
	SK           string
	Status       *RunStatus
	Operation    *string
	ExecutionArn *string
	ErrorMsg     *string
}

// DAO provides data access operations for run records
type DAO struct {
	db    *ddb.DDB
	table *ddb.Table
}

// New creates a new DAO instance
func New(client *dynamodb.Client, tableName string) *DAO {
	db := ddb.New(client)
	table := db.MustTable(tableName, &Record{})
	return &DAO{
		db:    db,
		table: table,
	}
}

// Create creates a new run record with initial status PENDING
func (d *DAO) Create(ctx context.Context, input CreateInput) (Record, error) {
	pk := NewPK(input.Env, input.Pipeline)
	now := time.Now().Unix()

	record := Record{
		PK:        pk,
		SK:        input.SK,
		Env:       input.Env,
		Pipeline:  input.Pipeline,
		Type:      input.Type,
		Status:    RunStatusPending,
		StackName: input.StackName,
		Stage:     input.Stage,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err := d.table.Put(&record).RunWithContext(ctx)
	if err != nil {
		return Record{}, fmt.Errorf("failed to create run record: %w", err)
	}

	return record, nil
}

// Find retrieves a run record by ID
func (d *DAO) Find(ctx context.Context, id ID) (Record, error) {
	pk, sk, err := ParseID(id)
	if err != nil {
		return Record{}, err
	}

	var record Record

	err = d.table.Get(pk.String()).
		Range(sk).
		ConsistentRead(true).
		ScanWithContext(ctx, &record)
	if err != nil {
		errStr := err.Error()
		if strings.Contains(errStr, "item not found") || strings.Contains(errStr, "ItemNotFound") {
			return Record{}, fmt.Errorf("run record not found: %s", id)
		}
		return Record{}, fmt.Errorf("failed to find run record: %w", err)
	}

	if record.PK == "" && record.SK == "" {
		return Record{}, fmt.Errorf("run record not found: %s", id)
	}

	return record, nil
}

// Update applies status, operation, execution ARN, and error updates to a run
func (d *DAO) Update(ctx context.Context, input UpdateInput) error {
	now := time.Now().Unix()

	update := d.table.Update(input.PK.String()).
		Range(input.SK).
		Set("#UpdatedAt = ?", now)

	if input.Status != nil {
		update = update.Set("#Status = ?", string(*input.Status))
		if *input.Status == RunStatusSuccess || *input.Status == RunStatusFailed {
			update = update.Set("#FinishedAt = ?", now)
		}
	}
	if input.Operation != nil {
		update = update.Set("#Operation = ?", *input.Operation)
	}
	if input.ExecutionArn != nil {
		update = update.Set("#ExecutionArn = ?", *input.ExecutionArn)
	}
	if input.ErrorMsg != nil {
		update = update.Set("#ErrorMsg = ?", *input.ErrorMsg)
	}

	if err := update.RunWithContext(ctx); err != nil {
		return fmt.Errorf("failed to update run record: %w", err)
	}

	return nil
}

// Delete removes a run record by ID
func (d *DAO) Delete(ctx context.Context, id ID) error {
	pk, sk, err := ParseID(id)
	if err != nil {
		return err
	}

	err = d.table.Delete(pk).
		Range(sk).
		RunWithContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to delete run record: %w", err)
	}

	return nil
}

// Query returns all runs for a given env/pipeline partition key
func (d *DAO) Query(ctx context.Context, pk PK) ([]Record, error) {
	var records []Record

	err := d.table.Query("#PK = ?", pk.String()).
		FindAllWithContext(ctx, &records)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}

	return records, nil
}

// QueryByPipeline returns all runs for a given pipeline and environment
func (d *DAO) QueryByPipeline(ctx context.Context, env, pipeline string) ([]Record, error) {
	pk := NewPK(env, pipeline)
	return d.Query(ctx, pk)
}

// IDs returns the IDs for a set of run records
func IDs(records []Record) []ID {
	return slicex.Map(records, GetID)
}
