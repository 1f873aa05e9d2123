package mail

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/pactsign-backend/pkg/logger"
)

type fakeS3 struct {
	objects map[string][]byte
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := f.objects[*in.Bucket+"/"+*in.Key]
	if !ok {
		return nil, errors.New("NoSuchKey")
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func TestS3LoaderReadsObject(t *testing.T) {
	loader := NewS3Loader(&fakeS3{objects: map[string][]byte{"docs/contracts/1.pdf": []byte("pdf")}}, "docs")

	data, err := loader.Load(context.Background(), "contracts/1.pdf")
	require.NoError(t, err)
	assert.Equal(t, []byte("pdf"), data)

	_, err = loader.Load(context.Background(), "contracts/2.pdf")
	assert.ErrorContains(t, err, "NoSuchKey")
}

func TestS3LoaderRequiresBucket(t *testing.T) {
	_, err := NewS3Loader(&fakeS3{}, "").Load(context.Background(), "k")
	assert.Error(t, err)
}

func TestLogTransportNeverFails(t *testing.T) {
	var buf bytes.Buffer
	logg := logger.New(logger.Options{ServiceName: "mail-test", Output: &buf})

	err := NewLogTransport(logg).Send(context.Background(), Message{
		To: "bob@example.com", Subject: "Hello", Attachments: []Attachment{{Filename: "a.pdf"}},
	})
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "mail delivered to log transport")
	assert.Contains(t, buf.String(), "a.pdf")
}
