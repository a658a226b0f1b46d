// Package aws builds the AWS clients the uploader needs for S3 artifacts and
// KMS encrypted keypairs.
package aws

import (
	"context"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"go.uber.org/zap"
)

const serviceAccountTokenPath = "/var/run/secrets/kubernetes.io/serviceaccount/token"

// LoadAWSConfig loads the default credential chain. Outside Kubernetes the
// shared config profile from AWS_PROFILE (or "default") is used.
func LoadAWSConfig(ctx context.Context, regionOverride string) (aws.Config, error) {
	var options []func(*config.LoadOptions) error

	if !isInKubernetes() {
		options = append(options, config.WithSharedConfigProfile(getProfile()))
	}
	if regionOverride != "" {
		options = append(options, config.WithRegion(regionOverride))
	}
	return config.LoadDefaultConfig(ctx, options...)
}

func isInKubernetes() bool {
	_, err := os.Stat(serviceAccountTokenPath)
	return err == nil
}

func getProfile() string {
	if profile := os.Getenv("AWS_PROFILE"); profile != "" {
		return profile
	}
	return "default"
}

// STSAPI is the subset of the STS client used to identify the caller.
type STSAPI interface {
	GetCallerIdentity(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error)
}

// LogCallerIdentity logs which AWS principal the uploader runs as. Failures
// are logged and otherwise ignored: identity is diagnostic only.
func LogCallerIdentity(ctx context.Context, client STSAPI, l *zap.Logger) {
	out, err := client.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		l.Sugar().Warnw("Failed to get AWS caller identity", "error", err)
		return
	}
	l.Sugar().Infow("Using AWS identity",
		"account", aws.ToString(out.Account),
		"arn", aws.ToString(out.Arn),
	)
}

// Clients are the AWS service clients built from one config.
type Clients struct {
	S3  *s3.Client
	KMS *kms.Client
	STS *sts.Client
}

func NewClients(cfg aws.Config) *Clients {
	return &Clients{
		S3:  s3.NewFromConfig(cfg),
		KMS: kms.NewFromConfig(cfg),
		STS: sts.NewFromConfig(cfg),
	}
}
