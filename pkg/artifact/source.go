package artifact

import (
	"context"
	"io"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/pkg/errors"

	"github.com/trepa-protocol/resolution-prover/pkg/types"
)

// DefaultMaxArtifactSize caps how much of an object is read from S3.
const DefaultMaxArtifactSize int64 = 256 << 20

var ErrArtifactNotFound = errors.New("artifact not found")

// ISource loads and validates an artifact.
type ISource interface {
	Load(ctx context.Context) ([]*types.GeneratedMerkleTree, error)
	String() string
}

// FileSource reads the artifact from the local filesystem.
type FileSource struct {
	Path string
}

func (f *FileSource) Load(ctx context.Context) ([]*types.GeneratedMerkleTree, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrap(ErrArtifactNotFound, f.Path)
		}
		return nil, errors.Wrapf(err, "failed to read artifact %s", f.Path)
	}
	return Decode(data)
}

func (f *FileSource) String() string { return f.Path }

// S3GetObjectAPI is the subset of the S3 client used to fetch artifacts.
type S3GetObjectAPI interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Source reads the artifact from an S3 object.
type S3Source struct {
	Client  S3GetObjectAPI
	Bucket  string
	Key     string
	MaxSize int64
}

func (s *S3Source) Load(ctx context.Context) ([]*types.GeneratedMerkleTree, error) {
	out, err := s.Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(s.Key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, errors.Wrap(ErrArtifactNotFound, s.String())
		}
		return nil, errors.Wrapf(err, "failed to get %s", s.String())
	}
	defer func() { _ = out.Body.Close() }()

	maxSize := s.MaxSize
	if maxSize <= 0 {
		maxSize = DefaultMaxArtifactSize
	}
	data, err := io.ReadAll(io.LimitReader(out.Body, maxSize+1))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read %s", s.String())
	}
	if int64(len(data)) > maxSize {
		return nil, errors.Wrapf(ErrMalformedInput, "%s exceeds %d bytes", s.String(), maxSize)
	}
	return Decode(data)
}

func (s *S3Source) String() string { return "s3://" + s.Bucket + "/" + s.Key }

func isNotFound(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.ErrorCode() {
	case "NoSuchKey", "NotFound", "404":
		return true
	default:
		return false
	}
}

// ParseS3URI splits s3://bucket/key. ok is false for anything else.
func ParseS3URI(uri string) (bucket, key string, ok bool) {
	rest, found := strings.CutPrefix(uri, "s3://")
	if !found {
		return "", "", false
	}
	bucket, key, found = strings.Cut(rest, "/")
	if !found || bucket == "" || key == "" {
		return "", "", false
	}
	return bucket, key, true
}

// NewSource picks an S3Source for s3:// locations and a FileSource otherwise.
// s3Client may be nil when location is a local path.
func NewSource(location string, s3Client S3GetObjectAPI) (ISource, error) {
	if bucket, key, ok := ParseS3URI(location); ok {
		if s3Client == nil {
			return nil, errors.Errorf("no S3 client configured for %s", location)
		}
		return &S3Source{Client: s3Client, Bucket: bucket, Key: key}, nil
	}
	if strings.HasPrefix(location, "s3://") {
		return nil, errors.Errorf("invalid S3 location %q, expected s3://bucket/key", location)
	}
	if location == "" {
		return nil, errors.New("artifact location is empty")
	}
	return &FileSource{Path: location}, nil
}
