package artifact

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/opennames/internal/core"
)

type mockObjects struct {
	mock.Mock
}

func (m *mockObjects) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	args := m.Called(ctx, *in.Bucket, *in.Key)
	return &s3.PutObjectOutput{}, args.Error(0)
}

func (m *mockObjects) DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	args := m.Called(ctx, *in.Bucket, *in.Key)
	return &s3.DeleteObjectOutput{}, args.Error(0)
}

type mockPresigner struct {
	mock.Mock
}

func (m *mockPresigner) PresignGetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
	args := m.Called(ctx, *in.Bucket, *in.Key)
	return &v4.PresignedHTTPRequest{URL: args.String(0)}, args.Error(1)
}

var testSource = core.DataSource{ID: "2024-04/TR04.csv", Version: "2024-04", FileName: "TR04.csv"}

func TestLocal_Publish(t *testing.T) {
	u, err := Local{}.Publish(context.Background(), testSource, "/public/2024-04/TR04.csv")
	require.NoError(t, err)
	assert.Empty(t, u)

	u, err = Local{BaseURL: "http://app:3000/imports/"}.Publish(context.Background(), testSource, "")
	require.NoError(t, err)
	assert.Equal(t, "http://app:3000/imports/2024-04/TR04.csv", u)

	u, err = Local{BaseURL: "http://app:3000/imports/"}.URL(context.Background(), testSource)
	require.NoError(t, err)
	assert.Equal(t, "http://app:3000/imports/2024-04/TR04.csv", u)

	assert.NoError(t, Local{}.Remove(context.Background(), testSource))
}

func TestS3_PublishAndRemove(t *testing.T) {
	ctx := context.Background()
	local := filepath.Join(t.TempDir(), "TR04.csv")
	require.NoError(t, os.WriteFile(local, []byte("id,name\n"), 0o644))

	objects := &mockObjects{}
	presigner := &mockPresigner{}
	objects.On("PutObject", ctx, "artifacts", "opennames/2024-04/TR04.csv").Return(nil)
	presigner.On("PresignGetObject", ctx, "artifacts", "opennames/2024-04/TR04.csv").
		Return("https://artifacts.s3/opennames/2024-04/TR04.csv?X-Amz-Signature=abc", nil)
	objects.On("DeleteObject", ctx, "artifacts", "opennames/2024-04/TR04.csv").Return(nil)

	pub := NewS3(objects, presigner, S3Options{Bucket: "artifacts", Prefix: "opennames", TTL: time.Hour})

	u, err := pub.Publish(ctx, testSource, local)
	require.NoError(t, err)
	assert.Contains(t, u, "X-Amz-Signature")

	u, err = pub.URL(ctx, testSource)
	require.NoError(t, err)
	assert.Contains(t, u, "X-Amz-Signature")
	presigner.AssertNumberOfCalls(t, "PresignGetObject", 2)
	objects.AssertNumberOfCalls(t, "PutObject", 1)

	require.NoError(t, pub.Remove(ctx, testSource))
	objects.AssertExpectations(t)
	presigner.AssertExpectations(t)
}

func TestS3_PublishErrors(t *testing.T) {
	ctx := context.Background()
	objects := &mockObjects{}
	pub := NewS3(objects, &mockPresigner{}, S3Options{Bucket: "artifacts"})

	_, err := pub.Publish(ctx, testSource, filepath.Join(t.TempDir(), "missing.csv"))
	assert.ErrorIs(t, err, core.ErrIO)

	local := filepath.Join(t.TempDir(), "TR04.csv")
	require.NoError(t, os.WriteFile(local, nil, 0o644))
	objects.On("PutObject", ctx, "artifacts", "2024-04/TR04.csv").Return(errors.New("AccessDenied"))

	_, err = pub.Publish(ctx, testSource, local)
	assert.ErrorIs(t, err, core.ErrPersistence)
}
