package artifact

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	prover "github.com/trepa-protocol/resolution-prover/pkg/types"
)

type mockS3 struct {
	mock.Mock
}

func (m *mockS3) GetObject(ctx context.Context, params *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	args := m.Called(ctx, params)
	out, _ := args.Get(0).(*s3.GetObjectOutput)
	return out, args.Error(1)
}

func TestParseS3URI(t *testing.T) {
	tests := []struct {
		uri    string
		bucket string
		key    string
		ok     bool
	}{
		{"s3://artifacts/pools/merkle.json", "artifacts", "pools/merkle.json", true},
		{"s3://artifacts/merkle.json", "artifacts", "merkle.json", true},
		{"s3://artifacts", "", "", false},
		{"s3:///merkle.json", "", "", false},
		{"s3://artifacts/", "", "", false},
		{"/tmp/merkle.json", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.uri, func(t *testing.T) {
			bucket, key, ok := ParseS3URI(tt.uri)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.bucket, bucket)
			assert.Equal(t, tt.key, key)
		})
	}
}

func TestNewSource(t *testing.T) {
	src, err := NewSource("s3://bucket/key.json", &mockS3{})
	require.NoError(t, err)
	assert.IsType(t, &S3Source{}, src)
	assert.Equal(t, "s3://bucket/key.json", src.String())

	_, err = NewSource("s3://bucket/key.json", nil)
	require.Error(t, err)

	_, err = NewSource("s3://bucket", &mockS3{})
	require.Error(t, err)

	_, err = NewSource("", nil)
	require.Error(t, err)

	src, err = NewSource("./merkle.json", nil)
	require.NoError(t, err)
	assert.IsType(t, &FileSource{}, src)
}

func TestS3Source_Load(t *testing.T) {
	trees := []*prover.GeneratedMerkleTree{newTestTree(t, 3)}
	data, err := Encode(trees)
	require.NoError(t, err)

	client := &mockS3{}
	client.On("GetObject", mock.Anything, mock.MatchedBy(func(in *s3.GetObjectInput) bool {
		return *in.Bucket == "bucket" && *in.Key == "merkle.json"
	})).Return(&s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil)

	src := &S3Source{Client: client, Bucket: "bucket", Key: "merkle.json"}
	loaded, err := src.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, trees, loaded)
	client.AssertExpectations(t)
}

func TestS3Source_TooLarge(t *testing.T) {
	client := &mockS3{}
	client.On("GetObject", mock.Anything, mock.Anything).
		Return(&s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader(strings.Repeat(" ", 64)))}, nil)

	src := &S3Source{Client: client, Bucket: "bucket", Key: "merkle.json", MaxSize: 16}
	_, err := src.Load(context.Background())
	assert.ErrorIs(t, err, ErrMalformedInput)
}

func TestS3Source_NotFound(t *testing.T) {
	client := &mockS3{}
	client.On("GetObject", mock.Anything, mock.Anything).
		Return(nil, &types.NoSuchKey{Message: strPtr("missing")})

	src := &S3Source{Client: client, Bucket: "bucket", Key: "merkle.json"}
	_, err := src.Load(context.Background())
	assert.ErrorIs(t, err, ErrArtifactNotFound)
}

func strPtr(s string) *string { return &s }
