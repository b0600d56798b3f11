// Package pipeline chains stages together on an EventBridge bus: each
// stage's targets fire in response to the previous stage's event pattern,
// or on a fixed-rate schedule when one is configured.
package pipeline

import (
	"fmt"

	"github.com/savaki/datapipe/internal/cfn"
	"github.com/savaki/datapipe/internal/errors"
	"github.com/savaki/datapipe/internal/stage"
)

// Pipeline composes an ordered list of stages. Wiring happens at
// construction time only; the resulting rules live in the template.
type Pipeline struct {
	tpl           *cfn.Template
	name          string
	busID         string
	forwardRoleID string
	stages        []stage.Stage
	prevPattern   *stage.EventPattern
}

// New creates a pipeline with its own event bus in tpl, plus the role that
// lets default-bus rules relay events onto it.
func New(tpl *cfn.Template, name string) (*Pipeline, error) {
	if name == "" {
		return nil, fmt.Errorf("pipeline name is required")
	}

	busID := cfn.LogicalID(name, "event-bus")
	if err := tpl.AddResource(busID, cfn.Resource{
		Type: "AWS::Events::EventBus",
		Properties: map[string]any{
			"Name": name,
		},
	}); err != nil {
		return nil, err
	}

	forwardRoleID := cfn.LogicalID(name, "forward-role")
	if err := tpl.AddResource(forwardRoleID, cfn.Resource{
		Type: "AWS::IAM::Role",
		Properties: map[string]any{
			"AssumeRolePolicyDocument": map[string]any{
				"Version": "2012-10-17",
				"Statement": []any{
					map[string]any{
						"Effect":    "Allow",
						"Principal": map[string]any{"Service": "events.amazonaws.com"},
						"Action":    "sts:AssumeRole",
					},
				},
			},
			"Policies": []any{
				map[string]any{
					"PolicyName": "forward-events",
					"PolicyDocument": map[string]any{
						"Version": "2012-10-17",
						"Statement": []any{
							map[string]any{
								"Effect":   "Allow",
								"Action":   "events:PutEvents",
								"Resource": cfn.GetAtt(busID, "Arn"),
							},
						},
					},
				},
			},
		},
	}); err != nil {
		return nil, err
	}

	return &Pipeline{
		tpl:           tpl,
		name:          name,
		busID:         busID,
		forwardRoleID: forwardRoleID,
	}, nil
}

type addStageOptions struct {
	rateMinutes     int
	overridePattern *stage.EventPattern
}

// AddStageOption adjusts how a stage is wired into the pipeline.
type AddStageOption func(*addStageOptions)

// WithSchedule triggers the stage on a fixed rate instead of the previous
// stage's event pattern.
func WithSchedule(rateMinutes int) AddStageOption {
	return func(o *addStageOptions) {
		o.rateMinutes = rateMinutes
	}
}

// WithOverridePattern triggers the stage on the given pattern instead of the
// previous stage's.
func WithOverridePattern(p *stage.EventPattern) AddStageOption {
	return func(o *addStageOptions) {
		o.overridePattern = p
	}
}

// AddStage appends s to the pipeline. If s has targets and there is a
// trigger (the previous stage's pattern, an override, or a schedule), a rule
// is synthesized connecting them. Stages without targets only contribute
// their event pattern to the next stage.
func (p *Pipeline) AddStage(s stage.Stage, opts ...AddStageOption) error {
	var o addStageOptions
	for _, opt := range opts {
		opt(&o)
	}

	pattern := p.prevPattern
	if o.overridePattern != nil {
		pattern = o.overridePattern
	}

	targets := s.Targets()
	switch {
	case len(targets) == 0:
		// Pure producer, nothing to wire.
	case o.rateMinutes > 0:
		if err := p.addScheduleRule(s, o.rateMinutes, targets); err != nil {
			return err
		}
	case pattern != nil:
		if err := p.addEventRule(s, pattern, targets); err != nil {
			return err
		}
	}

	p.stages = append(p.stages, s)
	p.prevPattern = s.EventPattern()
	return nil
}

func (p *Pipeline) addEventRule(s stage.Stage, pattern *stage.EventPattern, targets []stage.RuleTarget) error {
	// Service events (aws.s3 and friends) are only delivered to the default
	// bus, so a default-bus rule relays matches onto the pipeline bus before
	// the stage rule fires.
	forwardID := cfn.LogicalID(p.name, s.Name(), "forward-rule")
	if err := p.tpl.AddResource(forwardID, cfn.Resource{
		Type: "AWS::Events::Rule",
		Properties: map[string]any{
			"EventPattern": pattern.Map(),
			"State":        "ENABLED",
			"Targets": []any{
				map[string]any{
					"Id":      cfn.LogicalID(p.name, "bus"),
					"Arn":     cfn.GetAtt(p.busID, "Arn"),
					"RoleArn": cfn.GetAtt(p.forwardRoleID, "Arn"),
				},
			},
		},
	}); err != nil {
		return err
	}

	rendered, err := p.ruleTargets(s, targets)
	if err != nil {
		return err
	}

	ruleID := cfn.LogicalID(p.name, s.Name(), "rule")
	return p.tpl.AddResource(ruleID, cfn.Resource{
		Type: "AWS::Events::Rule",
		Properties: map[string]any{
			"EventBusName": cfn.Ref(p.busID),
			"EventPattern": pattern.Map(),
			"State":        "ENABLED",
			"Targets":      rendered,
		},
	})
}

func (p *Pipeline) addScheduleRule(s stage.Stage, rateMinutes int, targets []stage.RuleTarget) error {
	unit := "minutes"
	if rateMinutes == 1 {
		unit = "minute"
	}

	rendered, err := p.ruleTargets(s, targets)
	if err != nil {
		return err
	}

	// Scheduled rules only run on the default bus.
	ruleID := cfn.LogicalID(p.name, s.Name(), "schedule-rule")
	return p.tpl.AddResource(ruleID, cfn.Resource{
		Type: "AWS::Events::Rule",
		Properties: map[string]any{
			"ScheduleExpression": fmt.Sprintf("rate(%d %s)", rateMinutes, unit),
			"State":              "ENABLED",
			"Targets":            rendered,
		},
	})
}

// ruleTargets renders targets in wire shape, synthesizing an invocation role
// per stage so EventBridge can start the target state machines.
func (p *Pipeline) ruleTargets(s stage.Stage, targets []stage.RuleTarget) ([]any, error) {
	arns := make([]any, 0, len(targets))
	for _, t := range targets {
		arns = append(arns, t.Arn)
	}

	roleID := cfn.LogicalID(p.name, s.Name(), "events-role")
	if err := p.tpl.AddResource(roleID, cfn.Resource{
		Type: "AWS::IAM::Role",
		Properties: map[string]any{
			"AssumeRolePolicyDocument": map[string]any{
				"Version": "2012-10-17",
				"Statement": []any{
					map[string]any{
						"Effect":    "Allow",
						"Principal": map[string]any{"Service": "events.amazonaws.com"},
						"Action":    "sts:AssumeRole",
					},
				},
			},
			"Policies": []any{
				map[string]any{
					"PolicyName": "invoke-targets",
					"PolicyDocument": map[string]any{
						"Version": "2012-10-17",
						"Statement": []any{
							map[string]any{
								"Effect":   "Allow",
								"Action":   "states:StartExecution",
								"Resource": arns,
							},
						},
					},
				},
			},
		},
	}); err != nil {
		return nil, err
	}

	rendered := make([]any, 0, len(targets))
	for i, t := range targets {
		entry := map[string]any{
			"Id":      fmt.Sprintf("%s-%d", cfn.LogicalID(s.Name()), i),
			"Arn":     t.Arn,
			"RoleArn": cfn.GetAtt(roleID, "Arn"),
		}
		if t.Input != "" {
			entry["Input"] = t.Input
		}
		if t.InputPath != "" {
			entry["InputPath"] = t.InputPath
		}
		rendered = append(rendered, entry)
	}
	return rendered, nil
}

// AddNotifications synthesizes an SNS topic and a rule that forwards failed,
// timed out, or aborted executions of the pipeline's state machines to it.
// Returns an error when the pipeline has no stages with state machines.
func (p *Pipeline) AddNotifications() error {
	if len(p.stages) == 0 {
		return errors.ErrPipelineEmpty
	}

	type stateMachineStage interface {
		StateMachineArn() any
	}

	var arns []any
	for _, s := range p.stages {
		if sm, ok := s.(stateMachineStage); ok {
			arns = append(arns, sm.StateMachineArn())
		}
	}
	if len(arns) == 0 {
		return fmt.Errorf("pipeline %s has no state machine stages to notify on", p.name)
	}

	topicID := cfn.LogicalID(p.name, "notifications-topic")
	if err := p.tpl.AddResource(topicID, cfn.Resource{
		Type: "AWS::SNS::Topic",
		Properties: map[string]any{
			"TopicName": p.name + "-notifications",
		},
	}); err != nil {
		return err
	}

	// Execution status events are emitted on the default bus by the provider.
	ruleID := cfn.LogicalID(p.name, "notifications-rule")
	return p.tpl.AddResource(ruleID, cfn.Resource{
		Type: "AWS::Events::Rule",
		Properties: map[string]any{
			"EventPattern": map[string]any{
				"source":      []string{"aws.states"},
				"detail-type": []string{"Step Functions Execution Status Change"},
				"detail": map[string]any{
					"status":          []string{"FAILED", "TIMED_OUT", "ABORTED"},
					"stateMachineArn": arns,
				},
			},
			"State": "ENABLED",
			"Targets": []any{
				map[string]any{
					"Id":  cfn.LogicalID(p.name, "notifications"),
					"Arn": cfn.Ref(topicID),
				},
			},
		},
	})
}

// Name returns the pipeline name.
func (p *Pipeline) Name() string {
	return p.name
}

// Stages returns the stages in order.
func (p *Pipeline) Stages() []stage.Stage {
	return p.stages
}
