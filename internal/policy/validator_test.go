package policy

import (
	"context"
	"encoding/json"
	"testing"
)

func TestValidator_ValidateTemplate(t *testing.T) {
	validator, err := NewValidator()
	if err != nil {
		t.Fatalf("Failed to create validator: %v", err)
	}

	tests := []struct {
		name             string
		template         string
		expectAllow      bool
		expectViolations []string
	}{
		{
			name: "valid pipeline template",
			template: `{
				"Resources": {
					"IngestBucket": {
						"Type": "AWS::S3::Bucket",
						"Properties": {
							"BucketName": "raw-data",
							"BucketEncryption": {}
						}
					},
					"IngestDeliveryStream": {
						"Type": "AWS::KinesisFirehose::DeliveryStream",
						"Properties": {
							"ExtendedS3DestinationConfiguration": {
								"BufferingHints": {"IntervalInSeconds": 300, "SizeInMBs": 5},
								"CompressionFormat": "GZIP"
							}
						}
					},
					"TransformRule": {
						"Type": "AWS::Events::Rule",
						"Properties": {
							"Targets": [{"Id": "transform", "Arn": "arn:aws:states:::sm"}]
						}
					}
				}
			}`,
			expectAllow: true,
		},
		{
			name: "unencrypted bucket rejected",
			template: `{
				"Resources": {
					"IngestBucket": {
						"Type": "AWS::S3::Bucket",
						"Properties": {
							"BucketName": "raw-data"
						}
					}
				}
			}`,
			expectAllow:      false,
			expectViolations: []string{"bucket IngestBucket must define BucketEncryption"},
		},
		{
			name: "buffering interval too small rejected",
			template: `{
				"Resources": {
					"IngestDeliveryStream": {
						"Type": "AWS::KinesisFirehose::DeliveryStream",
						"Properties": {
							"ExtendedS3DestinationConfiguration": {
								"BufferingHints": {"IntervalInSeconds": 30, "SizeInMBs": 5},
								"CompressionFormat": "GZIP"
							}
						}
					}
				}
			}`,
			expectAllow:      false,
			expectViolations: []string{"delivery stream IngestDeliveryStream buffering interval must be at least 60 seconds"},
		},
		{
			name: "uncompressed delivery rejected",
			template: `{
				"Resources": {
					"IngestDeliveryStream": {
						"Type": "AWS::KinesisFirehose::DeliveryStream",
						"Properties": {
							"ExtendedS3DestinationConfiguration": {
								"BufferingHints": {"IntervalInSeconds": 300, "SizeInMBs": 5},
								"CompressionFormat": "UNCOMPRESSED"
							}
						}
					}
				}
			}`,
			expectAllow:      false,
			expectViolations: []string{"delivery stream IngestDeliveryStream must compress delivered data"},
		},
		{
			name: "rule without targets rejected",
			template: `{
				"Resources": {
					"TransformRule": {
						"Type": "AWS::Events::Rule",
						"Properties": {
							"EventPattern": {"source": ["aws.s3"]}
						}
					}
				}
			}`,
			expectAllow:      false,
			expectViolations: []string{"rule TransformRule has no targets"},
		},
		{
			name:        "empty template allowed",
			template:    `{"Resources": {}}`,
			expectAllow: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var template map[string]interface{}
			if err := json.Unmarshal([]byte(tt.template), &template); err != nil {
				t.Fatalf("Failed to parse test template: %v", err)
			}

			result, err := validator.ValidateTemplate(context.Background(), template)
			if err != nil {
				t.Fatalf("ValidateTemplate failed: %v", err)
			}

			if result.Allowed != tt.expectAllow {
				t.Errorf("Allowed = %v, want %v (violations: %v)", result.Allowed, tt.expectAllow, result.Violations)
			}

			for _, want := range tt.expectViolations {
				found := false
				for _, got := range result.Violations {
					if got == want {
						found = true
						break
					}
				}
				if !found {
					t.Errorf("missing violation %q, got %v", want, result.Violations)
				}
			}
		})
	}
}
