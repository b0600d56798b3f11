package errors

import "errors"

var (
	ErrQuerySourceRequired = errors.New("a query source is required: use stage.QueryLiteral or stage.QueryPath")
	ErrBucketRequired      = errors.New("either an existing bucket or bucket creation props is required")
	ErrStageNameRequired   = errors.New("stage name is required")
	ErrPipelineEmpty       = errors.New("pipeline has no stages")
	ErrUnknownStageType    = errors.New("unknown stage type in manifest")
)
