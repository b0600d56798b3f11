// Package stage defines composable data-pipeline stages. Each stage validates
// its configuration at construction, writes the resources it owns into a
// cfn.Template, and exposes an event pattern and rule targets for pipeline
// wiring. All validation is construction-time; nothing here executes at
// runtime.
package stage

import (
	"github.com/savaki/datapipe/internal/cfn"
)

// Stage is one composable unit of a data pipeline. A stage may emit an event
// pattern (what downstream stages react to), expose rule targets (what fires
// when an upstream pattern matches), or both.
type Stage interface {
	// Name returns the stage name used to derive logical IDs.
	Name() string

	// EventPattern describes the events this stage emits, or nil if the
	// stage emits none.
	EventPattern() *EventPattern

	// Targets returns the destinations to invoke when an upstream pattern
	// matches, or nil if the stage is a pure producer.
	Targets() []RuleTarget
}

// EventPattern is a declarative EventBridge filter over event attributes.
type EventPattern struct {
	Source     []string       // e.g. ["aws.s3"]
	DetailType []string       // e.g. ["Object Created"]
	Detail     map[string]any // detail shape filter
}

// Map renders the pattern in the wire shape CloudFormation rules expect.
func (p *EventPattern) Map() map[string]any {
	m := map[string]any{}
	if len(p.Source) > 0 {
		m["source"] = p.Source
	}
	if len(p.DetailType) > 0 {
		m["detail-type"] = p.DetailType
	}
	if len(p.Detail) > 0 {
		m["detail"] = p.Detail
	}
	return m
}

// RuleTarget is a destination for a rule plus its input transformation.
// Exactly one of Input (a literal JSON object passed as-is) or InputPath
// (a JSONPath into the triggering event) may be set; both empty means the
// whole event is forwarded.
type RuleTarget struct {
	Arn       any    // target ARN: literal string or cfn intrinsic
	Input     string // literal JSON input
	InputPath string // JSONPath into the triggering event, e.g. "$.detail"
}

// BucketRef is a handle to an S3 bucket. The holder has no lifecycle
// responsibility: buckets created by a stage live in the template, external
// buckets belong to whoever created them.
type BucketRef struct {
	Name string // bucket name, used for event pattern derivation
	Arn  any    // bucket ARN: literal string or cfn intrinsic
}

// ExternalBucket returns a handle to a bucket that already exists outside
// the template.
func ExternalBucket(name string) *BucketRef {
	return &BucketRef{
		Name: name,
		Arn:  "arn:aws:s3:::" + name,
	}
}

// StreamRef is a handle to a Kinesis data stream, with the same ownership
// semantics as BucketRef.
type StreamRef struct {
	Name any // stream name: literal string or cfn intrinsic
	Arn  any // stream ARN: literal string or cfn intrinsic
}

// ExternalStream returns a handle to a data stream that already exists
// outside the template.
func ExternalStream(arn, name string) *StreamRef {
	return &StreamRef{
		Name: name,
		Arn:  arn,
	}
}

func assumeRolePolicy(service string) map[string]any {
	return map[string]any{
		"Version": "2012-10-17",
		"Statement": []any{
			map[string]any{
				"Effect":    "Allow",
				"Principal": map[string]any{"Service": service},
				"Action":    "sts:AssumeRole",
			},
		},
	}
}

func inlinePolicy(name string, statements []any) map[string]any {
	return map[string]any{
		"PolicyName": name,
		"PolicyDocument": map[string]any{
			"Version":   "2012-10-17",
			"Statement": statements,
		},
	}
}

func roleResource(service, policyName string, statements []any) cfn.Resource {
	return cfn.Resource{
		Type: "AWS::IAM::Role",
		Properties: map[string]any{
			"AssumeRolePolicyDocument": assumeRolePolicy(service),
			"Policies":                 []any{inlinePolicy(policyName, statements)},
		},
	}
}
