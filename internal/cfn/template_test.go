package cfn

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogicalID(t *testing.T) {
	tests := []struct {
		name  string
		parts []string
		want  string
	}{
		{
			name:  "hyphenated stage name",
			parts: []string{"raw-ingest", "bucket"},
			want:  "RawIngestBucket",
		},
		{
			name:  "underscores and slashes",
			parts: []string{"my_pipeline/stage"},
			want:  "MyPipelineStage",
		},
		{
			name:  "already clean",
			parts: []string{"Ingest", "Stream"},
			want:  "IngestStream",
		},
		{
			name:  "digits preserved",
			parts: []string{"stage-2", "alarm"},
			want:  "Stage2Alarm",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, LogicalID(tt.parts...))
		})
	}
}

func TestTemplate_DuplicateLogicalID(t *testing.T) {
	tpl := NewTemplate("test")
	err := tpl.AddResource("Bucket", Resource{Type: "AWS::S3::Bucket"})
	require.NoError(t, err)

	err = tpl.AddResource("Bucket", Resource{Type: "AWS::S3::Bucket"})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate logical ID")
}

func TestTemplate_JSON(t *testing.T) {
	tpl := NewTemplate("pipeline template")
	tpl.MustAddResource("Bucket", Resource{
		Type: "AWS::S3::Bucket",
		Properties: map[string]any{
			"BucketName": "my-bucket",
		},
	})
	tpl.AddOutput("BucketName", Output{Value: Ref("Bucket")})

	data, err := tpl.JSON()
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))

	assert.Equal(t, "2010-09-09", doc["AWSTemplateFormatVersion"])
	assert.Equal(t, "pipeline template", doc["Description"])

	resources := doc["Resources"].(map[string]any)
	bucket := resources["Bucket"].(map[string]any)
	assert.Equal(t, "AWS::S3::Bucket", bucket["Type"])

	outputs := doc["Outputs"].(map[string]any)
	out := outputs["BucketName"].(map[string]any)
	assert.Equal(t, map[string]any{"Ref": "Bucket"}, out["Value"])
}

func TestIntrinsics(t *testing.T) {
	assert.Equal(t, map[string]any{"Ref": "Bucket"}, Ref("Bucket"))
	assert.Equal(t, map[string]any{"Fn::GetAtt": []string{"Stream", "Arn"}}, GetAtt("Stream", "Arn"))
	assert.Equal(t, map[string]any{"Fn::Sub": "${AWS::Region}"}, Sub("${AWS::Region}"))
}
