package pipeline

import (
	"testing"

	"github.com/savaki/datapipe/internal/cfn"
	"github.com/savaki/datapipe/internal/stage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFirehoseStage(t *testing.T, tpl *cfn.Template, name, bucket, prefix string) *stage.FirehoseToS3Stage {
	t.Helper()
	s, err := stage.NewFirehoseToS3Stage(tpl, name, stage.FirehoseToS3Props{
		Bucket:    stage.ExternalBucket(bucket),
		KeyPrefix: prefix,
	})
	require.NoError(t, err)
	return s
}

func newAthenaStage(t *testing.T, tpl *cfn.Template, name string) *stage.AthenaSQLStage {
	t.Helper()
	s, err := stage.NewAthenaSQLStage(tpl, name, stage.AthenaSQLProps{
		Query: stage.QueryLiteral("SELECT 1"),
	})
	require.NoError(t, err)
	return s
}

func TestNew_CreatesEventBus(t *testing.T) {
	tpl := cfn.NewTemplate("test")

	_, err := New(tpl, "clickstream")
	require.NoError(t, err)

	bus, ok := tpl.Resource("ClickstreamEventBus")
	require.True(t, ok)
	assert.Equal(t, "AWS::Events::EventBus", bus.Type)
	assert.Equal(t, "clickstream", bus.Properties["Name"])

	role, ok := tpl.Resource("ClickstreamForwardRole")
	require.True(t, ok)
	assert.Equal(t, "AWS::IAM::Role", role.Type)
}

func TestAddStage_WiresPreviousPatternToTargets(t *testing.T) {
	tpl := cfn.NewTemplate("test")

	p, err := New(tpl, "clickstream")
	require.NoError(t, err)

	ingest := newFirehoseStage(t, tpl, "ingest", "raw-data", "raw/")
	transform := newAthenaStage(t, tpl, "transform")

	require.NoError(t, p.AddStage(ingest))
	require.NoError(t, p.AddStage(transform))

	// The producer stage gets no rule.
	_, ok := tpl.Resource("ClickstreamIngestRule")
	assert.False(t, ok)

	rule, ok := tpl.Resource("ClickstreamTransformRule")
	require.True(t, ok)
	assert.Equal(t, "AWS::Events::Rule", rule.Type)
	assert.Equal(t, cfn.Ref("ClickstreamEventBus"), rule.Properties["EventBusName"])

	pattern := rule.Properties["EventPattern"].(map[string]any)
	assert.Equal(t, []string{"aws.s3"}, pattern["source"])
	assert.Equal(t, []string{"Object Created"}, pattern["detail-type"])

	targets := rule.Properties["Targets"].([]any)
	require.Len(t, targets, 1)
	entry := targets[0].(map[string]any)
	assert.Equal(t, cfn.Ref("TransformStateMachine"), entry["Arn"])
	assert.JSONEq(t, `{"queryString":"SELECT 1"}`, entry["Input"].(string))
}

// Service events like S3 object notifications only land on the default bus,
// so every pattern wiring needs a default-bus rule relaying them onto the
// pipeline bus before the bus rule can match.
func TestAddStage_ForwardsServiceEventsToBus(t *testing.T) {
	tpl := cfn.NewTemplate("test")

	p, err := New(tpl, "clickstream")
	require.NoError(t, err)

	require.NoError(t, p.AddStage(newFirehoseStage(t, tpl, "ingest", "raw-data", "raw/")))
	require.NoError(t, p.AddStage(newAthenaStage(t, tpl, "transform")))

	forward, ok := tpl.Resource("ClickstreamTransformForwardRule")
	require.True(t, ok)
	assert.Equal(t, "AWS::Events::Rule", forward.Type)

	// On the default bus, matching the same pattern as the bus rule.
	assert.NotContains(t, forward.Properties, "EventBusName")
	rule, _ := tpl.Resource("ClickstreamTransformRule")
	assert.Equal(t, rule.Properties["EventPattern"], forward.Properties["EventPattern"])

	targets := forward.Properties["Targets"].([]any)
	require.Len(t, targets, 1)
	entry := targets[0].(map[string]any)
	assert.Equal(t, cfn.GetAtt("ClickstreamEventBus", "Arn"), entry["Arn"])
	assert.Equal(t, cfn.GetAtt("ClickstreamForwardRole", "Arn"), entry["RoleArn"])
}

func TestAddStage_DuplicateStageReturnsError(t *testing.T) {
	tpl := cfn.NewTemplate("test")

	p, err := New(tpl, "clickstream")
	require.NoError(t, err)

	require.NoError(t, p.AddStage(newFirehoseStage(t, tpl, "ingest", "raw-data", "raw/")))

	transform := newAthenaStage(t, tpl, "transform")
	require.NoError(t, p.AddStage(transform))

	// A second wiring of the same stage collides on logical IDs and must
	// surface as an error, not a panic.
	assert.Error(t, p.AddStage(transform, WithSchedule(5)))
}

func TestAddStage_NoRuleWithoutUpstreamPattern(t *testing.T) {
	tpl := cfn.NewTemplate("test")

	p, err := New(tpl, "clickstream")
	require.NoError(t, err)

	// First stage has targets but nothing upstream to trigger it.
	transform := newAthenaStage(t, tpl, "transform")
	require.NoError(t, p.AddStage(transform))

	_, ok := tpl.Resource("ClickstreamTransformRule")
	assert.False(t, ok)
}

func TestAddStage_Schedule(t *testing.T) {
	tpl := cfn.NewTemplate("test")

	p, err := New(tpl, "clickstream")
	require.NoError(t, err)

	transform := newAthenaStage(t, tpl, "transform")
	require.NoError(t, p.AddStage(transform, WithSchedule(15)))

	rule, ok := tpl.Resource("ClickstreamTransformScheduleRule")
	require.True(t, ok)
	assert.Equal(t, "rate(15 minutes)", rule.Properties["ScheduleExpression"])

	// Scheduled rules run on the default bus.
	assert.NotContains(t, rule.Properties, "EventBusName")
}

func TestAddStage_ScheduleSingularUnit(t *testing.T) {
	tpl := cfn.NewTemplate("test")

	p, err := New(tpl, "clickstream")
	require.NoError(t, err)

	transform := newAthenaStage(t, tpl, "transform")
	require.NoError(t, p.AddStage(transform, WithSchedule(1)))

	rule, _ := tpl.Resource("ClickstreamTransformScheduleRule")
	assert.Equal(t, "rate(1 minute)", rule.Properties["ScheduleExpression"])
}

func TestAddStage_OverridePattern(t *testing.T) {
	tpl := cfn.NewTemplate("test")

	p, err := New(tpl, "clickstream")
	require.NoError(t, err)

	override := &stage.EventPattern{
		Source:     []string{"custom.source"},
		DetailType: []string{"custom-event"},
	}

	transform := newAthenaStage(t, tpl, "transform")
	require.NoError(t, p.AddStage(transform, WithOverridePattern(override)))

	rule, ok := tpl.Resource("ClickstreamTransformRule")
	require.True(t, ok)
	pattern := rule.Properties["EventPattern"].(map[string]any)
	assert.Equal(t, []string{"custom.source"}, pattern["source"])
}

func TestAddNotifications(t *testing.T) {
	tpl := cfn.NewTemplate("test")

	p, err := New(tpl, "clickstream")
	require.NoError(t, err)

	require.NoError(t, p.AddStage(newAthenaStage(t, tpl, "transform")))
	require.NoError(t, p.AddNotifications())

	topic, ok := tpl.Resource("ClickstreamNotificationsTopic")
	require.True(t, ok)
	assert.Equal(t, "AWS::SNS::Topic", topic.Type)

	rule, ok := tpl.Resource("ClickstreamNotificationsRule")
	require.True(t, ok)
	pattern := rule.Properties["EventPattern"].(map[string]any)
	assert.Equal(t, []string{"aws.states"}, pattern["source"])

	detail := pattern["detail"].(map[string]any)
	assert.Equal(t, []string{"FAILED", "TIMED_OUT", "ABORTED"}, detail["status"])
	assert.Equal(t, []any{cfn.Ref("TransformStateMachine")}, detail["stateMachineArn"])
}

func TestAddNotifications_EmptyPipeline(t *testing.T) {
	tpl := cfn.NewTemplate("test")

	p, err := New(tpl, "clickstream")
	require.NoError(t, err)

	assert.Error(t, p.AddNotifications())
}
