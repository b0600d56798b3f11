package di

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sfn"
	"github.com/savaki/datapipe/internal/dao/rundao"
	"github.com/savaki/datapipe/internal/deploy"
	"github.com/savaki/datapipe/internal/policy"
	"github.com/savaki/datapipe/internal/trigger"
)

// ArchiveBucket is the optional S3 bucket deployed templates are archived to.
type ArchiveBucket string

func ProvideContext() context.Context {
	return context.Background()
}

func ProvideAWSConfig(ctx context.Context) (aws.Config, error) {
	return config.LoadDefaultConfig(ctx)
}

func ProvideCloudFormation(config aws.Config) *cloudformation.Client {
	return cloudformation.NewFromConfig(config)
}

func ProvideS3(config aws.Config) *s3.Client {
	return s3.NewFromConfig(config)
}

func ProvideStepFunctions(config aws.Config) *sfn.Client {
	return sfn.NewFromConfig(config)
}

func ProvideDynamoDB(config aws.Config) *dynamodb.Client {
	return dynamodb.NewFromConfig(config)
}

func ProvideValidator() (*policy.Validator, error) {
	return policy.NewValidator()
}

func ProvideDeployer(cfClient *cloudformation.Client, s3Client *s3.Client, archiveBucket ArchiveBucket) *deploy.Deployer {
	return deploy.New(cfClient, s3Client, string(archiveBucket))
}

func ProvideTrigger(sfnClient *sfn.Client, dao *rundao.DAO) *trigger.Trigger {
	return trigger.New(sfnClient, dao)
}
