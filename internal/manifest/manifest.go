// Package manifest builds pipelines from declarative YAML documents so the
// CLI can synthesize templates without callers writing Go.
package manifest

import (
	"fmt"
	"io"
	"os"

	"github.com/savaki/datapipe/internal/cfn"
	"github.com/savaki/datapipe/internal/errors"
	"github.com/savaki/datapipe/internal/pipeline"
	"github.com/savaki/datapipe/internal/stage"
	"gopkg.in/yaml.v3"
)

// Manifest is the top-level pipeline document.
type Manifest struct {
	Name          string      `yaml:"name"`
	Description   string      `yaml:"description"`
	Stages        []StageSpec `yaml:"stages"`
	Notifications bool        `yaml:"notifications"`
}

// StageSpec is one stage entry. Type selects the stage kind; the remaining
// fields mirror the corresponding stage props.
type StageSpec struct {
	Type string `yaml:"type"` // firehose-s3 | athena-sql
	Name string `yaml:"name"`

	// firehose-s3
	Bucket            string        `yaml:"bucket"`     // existing bucket name
	BucketName        string        `yaml:"bucketName"` // bucket to create
	Versioned         bool          `yaml:"versioned"`
	KeyPrefix         string        `yaml:"keyPrefix"`
	DataStreamEnabled *bool         `yaml:"dataStreamEnabled"`
	DataStreamArn     string        `yaml:"dataStreamArn"` // existing stream
	DataStreamName    string        `yaml:"dataStreamName"`
	Delivery          *DeliverySpec `yaml:"delivery"`
	Alarm             *AlarmSpec    `yaml:"alarm"`

	// athena-sql
	Query          string `yaml:"query"`
	QueryPath      string `yaml:"queryPath"`
	WorkGroup      string `yaml:"workGroup"`
	Catalog        string `yaml:"catalog"`
	Database       string `yaml:"database"`
	OutputLocation string `yaml:"outputLocation"`

	// optional fixed-rate trigger, minutes
	Schedule int `yaml:"schedule"`
}

// DeliverySpec mirrors stage.DeliveryProps.
type DeliverySpec struct {
	BufferingInterval int    `yaml:"bufferingInterval"`
	BufferingSize     int    `yaml:"bufferingSize"`
	Compression       string `yaml:"compression"`
}

// AlarmSpec mirrors stage.AlarmProps.
type AlarmSpec struct {
	Threshold         int `yaml:"threshold"`
	EvaluationPeriods int `yaml:"evaluationPeriods"`
}

// Load parses a manifest from r.
func Load(r io.Reader) (*Manifest, error) {
	var m Manifest
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)
	if err := decoder.Decode(&m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	if m.Name == "" {
		return nil, fmt.Errorf("manifest name is required")
	}
	if len(m.Stages) == 0 {
		return nil, errors.ErrPipelineEmpty
	}
	return &m, nil
}

// LoadFile parses a manifest from a file.
func LoadFile(path string) (*Manifest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open manifest: %w", err)
	}
	defer f.Close()
	return Load(f)
}

// Build synthesizes the manifest into tpl and returns the wired pipeline.
func (m *Manifest) Build(tpl *cfn.Template) (*pipeline.Pipeline, error) {
	p, err := pipeline.New(tpl, m.Name)
	if err != nil {
		return nil, err
	}

	for _, spec := range m.Stages {
		s, err := spec.build(tpl)
		if err != nil {
			return nil, fmt.Errorf("stage %s: %w", spec.Name, err)
		}

		var opts []pipeline.AddStageOption
		if spec.Schedule > 0 {
			opts = append(opts, pipeline.WithSchedule(spec.Schedule))
		}
		if err := p.AddStage(s, opts...); err != nil {
			return nil, fmt.Errorf("stage %s: %w", spec.Name, err)
		}
	}

	if m.Notifications {
		if err := p.AddNotifications(); err != nil {
			return nil, err
		}
	}

	return p, nil
}

func (spec StageSpec) build(tpl *cfn.Template) (stage.Stage, error) {
	switch spec.Type {
	case "firehose-s3":
		props := stage.FirehoseToS3Props{
			KeyPrefix:         spec.KeyPrefix,
			DataStreamEnabled: spec.DataStreamEnabled,
		}
		if spec.Bucket != "" {
			props.Bucket = stage.ExternalBucket(spec.Bucket)
		}
		if spec.BucketName != "" {
			props.BucketProps = &stage.BucketProps{
				Name:      spec.BucketName,
				Versioned: spec.Versioned,
			}
		}
		if spec.DataStreamArn != "" {
			props.DataStream = stage.ExternalStream(spec.DataStreamArn, spec.DataStreamName)
		}
		if spec.Delivery != nil {
			props.Delivery = &stage.DeliveryProps{
				BufferingInterval: spec.Delivery.BufferingInterval,
				BufferingSize:     spec.Delivery.BufferingSize,
				Compression:       spec.Delivery.Compression,
			}
		}
		if spec.Alarm != nil {
			props.Alarm = &stage.AlarmProps{
				Threshold:         spec.Alarm.Threshold,
				EvaluationPeriods: spec.Alarm.EvaluationPeriods,
			}
		}
		return stage.NewFirehoseToS3Stage(tpl, spec.Name, props)

	case "athena-sql":
		props := stage.AthenaSQLProps{
			WorkGroup:      spec.WorkGroup,
			Catalog:        spec.Catalog,
			Database:       spec.Database,
			OutputLocation: spec.OutputLocation,
		}
		switch {
		case spec.Query != "" && spec.QueryPath != "":
			return nil, fmt.Errorf("query and queryPath are mutually exclusive")
		case spec.Query != "":
			props.Query = stage.QueryLiteral(spec.Query)
		case spec.QueryPath != "":
			props.Query = stage.QueryPath(spec.QueryPath)
		}
		return stage.NewAthenaSQLStage(tpl, spec.Name, props)

	default:
		return nil, fmt.Errorf("%w: %q", errors.ErrUnknownStageType, spec.Type)
	}
}
