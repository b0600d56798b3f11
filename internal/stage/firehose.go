package stage

import (
	"github.com/savaki/datapipe/internal/cfn"
	"github.com/savaki/datapipe/internal/errors"
)

// BucketProps configures a bucket the stage creates itself. Name is required
// because the emitted event pattern is derived from it.
type BucketProps struct {
	Name      string
	Versioned bool
}

// DeliveryProps override the delivery stream's buffering behavior. Zero
// fields keep their defaults; only set fields replace them.
type DeliveryProps struct {
	BufferingInterval int    // seconds until the buffer is flushed, default 300
	BufferingSize     int    // MiB until the buffer is flushed, default 5
	Compression       string // output compression format, default GZIP
}

// AlarmProps override the data-freshness alarm.
type AlarmProps struct {
	Threshold         int // seconds of staleness before alarming, default 900
	EvaluationPeriods int // periods the threshold must hold, default 1
}

// FirehoseToS3Props configures a FirehoseToS3Stage.
//
// Exactly one of Bucket (an existing bucket handle) or BucketProps (create a
// bucket) must be provided; if both are set the handle wins and no bucket is
// created.
//
// The ingestion data stream is governed jointly by DataStreamEnabled and
// DataStream: enabled with no handle creates a stream, a handle with no
// explicit disable reuses it, and everything else (including an explicit
// disable alongside a handle) runs the delivery stream in direct-put mode.
type FirehoseToS3Props struct {
	Bucket            *BucketRef
	BucketProps       *BucketProps
	KeyPrefix         string // S3 object key prefix for delivered data
	DataStreamEnabled *bool
	DataStream        *StreamRef
	Delivery          *DeliveryProps
	Alarm             *AlarmProps
}

// FirehoseToS3Stage provisions a delivery stream into an S3 bucket, with an
// optional Kinesis data stream in front and a data-freshness alarm. Its
// event pattern matches object-created events on the resolved bucket.
type FirehoseToS3Stage struct {
	name             string
	bucket           *BucketRef
	dataStream       *StreamRef
	deliveryStreamID string
	pattern          *EventPattern
}

const (
	defaultBufferingInterval = 300
	defaultBufferingSize     = 5
	defaultCompression       = "GZIP"
	defaultAlarmThreshold    = 900
	defaultAlarmPeriods      = 1
)

func mergeDelivery(override *DeliveryProps) DeliveryProps {
	merged := DeliveryProps{
		BufferingInterval: defaultBufferingInterval,
		BufferingSize:     defaultBufferingSize,
		Compression:       defaultCompression,
	}
	if override == nil {
		return merged
	}
	if override.BufferingInterval != 0 {
		merged.BufferingInterval = override.BufferingInterval
	}
	if override.BufferingSize != 0 {
		merged.BufferingSize = override.BufferingSize
	}
	if override.Compression != "" {
		merged.Compression = override.Compression
	}
	return merged
}

func mergeAlarm(override *AlarmProps) AlarmProps {
	merged := AlarmProps{
		Threshold:         defaultAlarmThreshold,
		EvaluationPeriods: defaultAlarmPeriods,
	}
	if override == nil {
		return merged
	}
	if override.Threshold != 0 {
		merged.Threshold = override.Threshold
	}
	if override.EvaluationPeriods != 0 {
		merged.EvaluationPeriods = override.EvaluationPeriods
	}
	return merged
}

// NewFirehoseToS3Stage validates props, synthesizes the bucket (when
// created here), the optional data stream, the delivery stream, its role,
// and the freshness alarm into tpl, and returns the stage.
func NewFirehoseToS3Stage(tpl *cfn.Template, name string, props FirehoseToS3Props) (*FirehoseToS3Stage, error) {
	if name == "" {
		return nil, errors.ErrStageNameRequired
	}

	bucket, err := resolveBucket(tpl, name, props)
	if err != nil {
		return nil, err
	}

	dataStream, err := resolveDataStream(tpl, name, props)
	if err != nil {
		return nil, err
	}

	delivery := mergeDelivery(props.Delivery)
	alarm := mergeAlarm(props.Alarm)

	roleID := cfn.LogicalID(name, "delivery-role")
	statements := []any{
		map[string]any{
			"Effect": "Allow",
			"Action": []string{
				"s3:AbortMultipartUpload",
				"s3:GetBucketLocation",
				"s3:GetObject",
				"s3:ListBucket",
				"s3:ListBucketMultipartUploads",
				"s3:PutObject",
			},
			"Resource": []any{bucket.Arn, join(bucket.Arn, "/*")},
		},
	}
	if dataStream != nil {
		statements = append(statements, map[string]any{
			"Effect": "Allow",
			"Action": []string{
				"kinesis:DescribeStream",
				"kinesis:GetShardIterator",
				"kinesis:GetRecords",
				"kinesis:ListShards",
			},
			"Resource": dataStream.Arn,
		})
	}
	if err := tpl.AddResource(roleID, roleResource("firehose.amazonaws.com", "delivery", statements)); err != nil {
		return nil, err
	}

	destination := map[string]any{
		"BucketARN": bucket.Arn,
		"RoleARN":   cfn.GetAtt(roleID, "Arn"),
		"BufferingHints": map[string]any{
			"IntervalInSeconds": delivery.BufferingInterval,
			"SizeInMBs":         delivery.BufferingSize,
		},
		"CompressionFormat": delivery.Compression,
	}
	if props.KeyPrefix != "" {
		destination["Prefix"] = props.KeyPrefix
	}

	deliveryProps := map[string]any{
		"ExtendedS3DestinationConfiguration": destination,
	}
	if dataStream != nil {
		deliveryProps["DeliveryStreamType"] = "KinesisStreamAsSource"
		deliveryProps["KinesisStreamSourceConfiguration"] = map[string]any{
			"KinesisStreamARN": dataStream.Arn,
			"RoleARN":          cfn.GetAtt(roleID, "Arn"),
		}
	} else {
		deliveryProps["DeliveryStreamType"] = "DirectPut"
	}

	deliveryStreamID := cfn.LogicalID(name, "delivery-stream")
	if err := tpl.AddResource(deliveryStreamID, cfn.Resource{
		Type:       "AWS::KinesisFirehose::DeliveryStream",
		Properties: deliveryProps,
	}); err != nil {
		return nil, err
	}

	alarmID := cfn.LogicalID(name, "freshness-alarm")
	if err := tpl.AddResource(alarmID, cfn.Resource{
		Type: "AWS::CloudWatch::Alarm",
		Properties: map[string]any{
			"AlarmDescription": "data freshness for stage " + name,
			"Namespace":        "AWS/Firehose",
			"MetricName":       "DeliveryToS3.DataFreshness",
			"Dimensions": []any{
				map[string]any{
					"Name":  "DeliveryStreamName",
					"Value": cfn.Ref(deliveryStreamID),
				},
			},
			"Statistic":          "Maximum",
			"Period":             alarm.Threshold,
			"Threshold":          alarm.Threshold,
			"EvaluationPeriods":  alarm.EvaluationPeriods,
			"ComparisonOperator": "GreaterThanOrEqualToThreshold",
		},
	}); err != nil {
		return nil, err
	}

	pattern := eventPatternForBucket(bucket.Name, props.KeyPrefix)

	return &FirehoseToS3Stage{
		name:             name,
		bucket:           bucket,
		dataStream:       dataStream,
		deliveryStreamID: deliveryStreamID,
		pattern:          pattern,
	}, nil
}

// resolveBucket applies the bucket precedence policy: an existing handle wins
// over creation props; neither fails construction.
func resolveBucket(tpl *cfn.Template, name string, props FirehoseToS3Props) (*BucketRef, error) {
	if props.Bucket != nil {
		return props.Bucket, nil
	}
	if props.BucketProps == nil {
		return nil, errors.ErrBucketRequired
	}

	bucketProps := map[string]any{
		"BucketName": props.BucketProps.Name,
		// Object-created events flow to EventBridge for pipeline wiring.
		"NotificationConfiguration": map[string]any{
			"EventBridgeConfiguration": map[string]any{
				"EventBridgeEnabled": true,
			},
		},
		"BucketEncryption": map[string]any{
			"ServerSideEncryptionConfiguration": []any{
				map[string]any{
					"ServerSideEncryptionByDefault": map[string]any{
						"SSEAlgorithm": "AES256",
					},
				},
			},
		},
	}
	if props.BucketProps.Versioned {
		bucketProps["VersioningConfiguration"] = map[string]any{"Status": "Enabled"}
	}

	bucketID := cfn.LogicalID(name, "bucket")
	if err := tpl.AddResource(bucketID, cfn.Resource{
		Type:       "AWS::S3::Bucket",
		Properties: bucketProps,
	}); err != nil {
		return nil, err
	}

	return &BucketRef{
		Name: props.BucketProps.Name,
		Arn:  cfn.GetAtt(bucketID, "Arn"),
	}, nil
}

// resolveDataStream applies the three-way data stream policy. An explicit
// disable always wins, even over a provided handle.
func resolveDataStream(tpl *cfn.Template, name string, props FirehoseToS3Props) (*StreamRef, error) {
	enabled := props.DataStreamEnabled
	if enabled != nil && !*enabled {
		return nil, nil
	}
	if props.DataStream != nil {
		return props.DataStream, nil
	}
	if enabled == nil || !*enabled {
		return nil, nil
	}

	streamID := cfn.LogicalID(name, "data-stream")
	if err := tpl.AddResource(streamID, cfn.Resource{
		Type: "AWS::Kinesis::Stream",
		Properties: map[string]any{
			"StreamModeDetails": map[string]any{
				"StreamMode": "ON_DEMAND",
			},
		},
	}); err != nil {
		return nil, err
	}

	return &StreamRef{
		Name: cfn.Ref(streamID),
		Arn:  cfn.GetAtt(streamID, "Arn"),
	}, nil
}

// eventPatternForBucket builds the object-created pattern for the resolved
// bucket, with a key prefix filter iff a prefix was configured.
func eventPatternForBucket(bucketName, keyPrefix string) *EventPattern {
	detail := map[string]any{
		"bucket": map[string]any{
			"name": []string{bucketName},
		},
	}
	if keyPrefix != "" {
		detail["object"] = map[string]any{
			"key": []any{
				map[string]any{"prefix": keyPrefix},
			},
		}
	}
	return &EventPattern{
		Source:     []string{"aws.s3"},
		DetailType: []string{"Object Created"},
		Detail:     detail,
	}
}

// join concatenates a literal string onto an ARN value that may be either a
// string or an intrinsic.
func join(arn any, suffix string) any {
	if s, ok := arn.(string); ok {
		return s + suffix
	}
	return map[string]any{"Fn::Join": []any{"", []any{arn, suffix}}}
}

// Name returns the stage name.
func (s *FirehoseToS3Stage) Name() string {
	return s.name
}

// EventPattern matches object-created events on the stage's bucket.
func (s *FirehoseToS3Stage) EventPattern() *EventPattern {
	return s.pattern
}

// Targets returns nil: the stage is a producer.
func (s *FirehoseToS3Stage) Targets() []RuleTarget {
	return nil
}

// Bucket returns the resolved bucket handle.
func (s *FirehoseToS3Stage) Bucket() *BucketRef {
	return s.bucket
}

// DataStream returns the resolved ingestion stream handle, or nil in
// direct-put mode.
func (s *FirehoseToS3Stage) DataStream() *StreamRef {
	return s.dataStream
}

// DeliveryStreamName returns a reference to the delivery stream's name.
func (s *FirehoseToS3Stage) DeliveryStreamName() any {
	return cfn.Ref(s.deliveryStreamID)
}
