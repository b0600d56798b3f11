package stage

import (
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/savaki/datapipe/internal/cfn"
	"github.com/savaki/datapipe/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFirehoseToS3Stage_RequiresBucket(t *testing.T) {
	tpl := cfn.NewTemplate("test")

	_, err := NewFirehoseToS3Stage(tpl, "ingest", FirehoseToS3Props{})
	assert.ErrorIs(t, err, errors.ErrBucketRequired)
}

func TestNewFirehoseToS3Stage_ExistingBucketWins(t *testing.T) {
	tpl := cfn.NewTemplate("test")

	s, err := NewFirehoseToS3Stage(tpl, "ingest", FirehoseToS3Props{
		Bucket:      ExternalBucket("existing-data"),
		BucketProps: &BucketProps{Name: "ignored"},
	})
	require.NoError(t, err)

	assert.Equal(t, "existing-data", s.Bucket().Name)

	// The handle wins: no bucket resource is created.
	_, ok := tpl.Resource("IngestBucket")
	assert.False(t, ok)
}

func TestNewFirehoseToS3Stage_CreatesBucket(t *testing.T) {
	tpl := cfn.NewTemplate("test")

	s, err := NewFirehoseToS3Stage(tpl, "ingest", FirehoseToS3Props{
		BucketProps: &BucketProps{Name: "raw-data", Versioned: true},
	})
	require.NoError(t, err)

	bucket, ok := tpl.Resource("IngestBucket")
	require.True(t, ok)
	assert.Equal(t, "AWS::S3::Bucket", bucket.Type)
	assert.Equal(t, "raw-data", bucket.Properties["BucketName"])
	assert.Equal(t, map[string]any{"Status": "Enabled"}, bucket.Properties["VersioningConfiguration"])
	assert.Equal(t, "raw-data", s.Bucket().Name)
}

func TestNewFirehoseToS3Stage_DataStreamResolution(t *testing.T) {
	external := ExternalStream("arn:aws:kinesis:us-west-2:123456789012:stream/clicks", "clicks")

	tests := []struct {
		name        string
		enabled     *bool
		stream      *StreamRef
		wantStream  bool
		wantCreated bool
	}{
		{
			name:        "enabled with no handle creates a stream",
			enabled:     aws.Bool(true),
			wantStream:  true,
			wantCreated: true,
		},
		{
			name:       "handle without explicit disable is reused",
			stream:     external,
			wantStream: true,
		},
		{
			name:       "handle with explicit enable is reused",
			enabled:    aws.Bool(true),
			stream:     external,
			wantStream: true,
		},
		{
			name: "default is direct put",
		},
		{
			name:    "explicit disable is direct put",
			enabled: aws.Bool(false),
		},
		{
			name:    "explicit disable wins over a handle",
			enabled: aws.Bool(false),
			stream:  external,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tpl := cfn.NewTemplate("test")

			s, err := NewFirehoseToS3Stage(tpl, "ingest", FirehoseToS3Props{
				Bucket:            ExternalBucket("raw-data"),
				DataStreamEnabled: tt.enabled,
				DataStream:        tt.stream,
			})
			require.NoError(t, err)

			if !tt.wantStream {
				assert.Nil(t, s.DataStream())
			} else {
				require.NotNil(t, s.DataStream())
			}

			_, created := tpl.Resource("IngestDataStream")
			assert.Equal(t, tt.wantCreated, created)

			delivery, ok := tpl.Resource("IngestDeliveryStream")
			require.True(t, ok)
			if tt.wantStream {
				assert.Equal(t, "KinesisStreamAsSource", delivery.Properties["DeliveryStreamType"])
				assert.Contains(t, delivery.Properties, "KinesisStreamSourceConfiguration")
			} else {
				assert.Equal(t, "DirectPut", delivery.Properties["DeliveryStreamType"])
				assert.NotContains(t, delivery.Properties, "KinesisStreamSourceConfiguration")
			}
		})
	}
}

func TestNewFirehoseToS3Stage_DeliveryDefaults(t *testing.T) {
	tpl := cfn.NewTemplate("test")

	_, err := NewFirehoseToS3Stage(tpl, "ingest", FirehoseToS3Props{
		Bucket: ExternalBucket("raw-data"),
	})
	require.NoError(t, err)

	delivery, ok := tpl.Resource("IngestDeliveryStream")
	require.True(t, ok)

	destination := delivery.Properties["ExtendedS3DestinationConfiguration"].(map[string]any)
	assert.Equal(t, "GZIP", destination["CompressionFormat"])
	assert.Equal(t, map[string]any{
		"IntervalInSeconds": 300,
		"SizeInMBs":         5,
	}, destination["BufferingHints"])
}

func TestNewFirehoseToS3Stage_DeliveryOverridesMergePerField(t *testing.T) {
	tpl := cfn.NewTemplate("test")

	_, err := NewFirehoseToS3Stage(tpl, "ingest", FirehoseToS3Props{
		Bucket:   ExternalBucket("raw-data"),
		Delivery: &DeliveryProps{BufferingInterval: 60},
	})
	require.NoError(t, err)

	delivery, _ := tpl.Resource("IngestDeliveryStream")
	destination := delivery.Properties["ExtendedS3DestinationConfiguration"].(map[string]any)

	// Only the overridden field changes; the rest keep their defaults.
	assert.Equal(t, map[string]any{
		"IntervalInSeconds": 60,
		"SizeInMBs":         5,
	}, destination["BufferingHints"])
	assert.Equal(t, "GZIP", destination["CompressionFormat"])
}

func TestNewFirehoseToS3Stage_FreshnessAlarm(t *testing.T) {
	tests := []struct {
		name        string
		alarm       *AlarmProps
		wantValue   int
		wantPeriods int
	}{
		{
			name:        "defaults",
			wantValue:   900,
			wantPeriods: 1,
		},
		{
			name:        "override threshold only",
			alarm:       &AlarmProps{Threshold: 600},
			wantValue:   600,
			wantPeriods: 1,
		},
		{
			name:        "override both",
			alarm:       &AlarmProps{Threshold: 600, EvaluationPeriods: 3},
			wantValue:   600,
			wantPeriods: 3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tpl := cfn.NewTemplate("test")

			_, err := NewFirehoseToS3Stage(tpl, "ingest", FirehoseToS3Props{
				Bucket: ExternalBucket("raw-data"),
				Alarm:  tt.alarm,
			})
			require.NoError(t, err)

			alarm, ok := tpl.Resource("IngestFreshnessAlarm")
			require.True(t, ok)
			assert.Equal(t, "AWS::CloudWatch::Alarm", alarm.Type)
			assert.Equal(t, "AWS/Firehose", alarm.Properties["Namespace"])
			assert.Equal(t, "DeliveryToS3.DataFreshness", alarm.Properties["MetricName"])
			assert.Equal(t, tt.wantValue, alarm.Properties["Threshold"])
			assert.Equal(t, tt.wantPeriods, alarm.Properties["EvaluationPeriods"])
		})
	}
}

func TestNewFirehoseToS3Stage_EventPattern(t *testing.T) {
	t.Run("without prefix", func(t *testing.T) {
		tpl := cfn.NewTemplate("test")

		s, err := NewFirehoseToS3Stage(tpl, "ingest", FirehoseToS3Props{
			Bucket: ExternalBucket("raw-data"),
		})
		require.NoError(t, err)

		pattern := s.EventPattern()
		require.NotNil(t, pattern)
		assert.Equal(t, []string{"aws.s3"}, pattern.Source)
		assert.Equal(t, []string{"Object Created"}, pattern.DetailType)
		assert.Equal(t, map[string]any{
			"bucket": map[string]any{"name": []string{"raw-data"}},
		}, pattern.Detail)
	})

	t.Run("with prefix", func(t *testing.T) {
		tpl := cfn.NewTemplate("test")

		s, err := NewFirehoseToS3Stage(tpl, "ingest", FirehoseToS3Props{
			Bucket:    ExternalBucket("raw-data"),
			KeyPrefix: "raw/",
		})
		require.NoError(t, err)

		pattern := s.EventPattern()
		require.NotNil(t, pattern)
		assert.Equal(t, map[string]any{
			"bucket": map[string]any{"name": []string{"raw-data"}},
			"object": map[string]any{
				"key": []any{map[string]any{"prefix": "raw/"}},
			},
		}, pattern.Detail)
	})
}
