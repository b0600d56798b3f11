package deploy

import (
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStackName(t *testing.T) {
	tests := []struct {
		name     string
		env      string
		pipeline string
		want     string
	}{
		{
			name:     "dev pipeline",
			env:      "dev",
			pipeline: "clickstream",
			want:     "dev-clickstream",
		},
		{
			name:     "prod pipeline",
			env:      "prd",
			pipeline: "audit-log",
			want:     "prd-audit-log",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StackName(tt.env, tt.pipeline))
		})
	}
}

func TestMergeParameters(t *testing.T) {
	t.Run("later maps win", func(t *testing.T) {
		got := MergeParameters(
			map[string]string{"Env": "dev", "Bucket": "base"},
			map[string]string{"Bucket": "override"},
		)

		require.Len(t, got, 2)
		assert.Equal(t, "Bucket", aws.ToString(got[0].ParameterKey))
		assert.Equal(t, "override", aws.ToString(got[0].ParameterValue))
		assert.Equal(t, "Env", aws.ToString(got[1].ParameterKey))
		assert.Equal(t, "dev", aws.ToString(got[1].ParameterValue))
	})

	t.Run("sorted by key", func(t *testing.T) {
		got := MergeParameters(map[string]string{"b": "2", "a": "1", "c": "3"})

		keys := make([]string, 0, len(got))
		for _, p := range got {
			keys = append(keys, aws.ToString(p.ParameterKey))
		}
		assert.Equal(t, []string{"a", "b", "c"}, keys)
	})

	t.Run("empty input", func(t *testing.T) {
		var got []types.Parameter = MergeParameters()
		assert.Empty(t, got)
	})
}
