package mail

import (
	"bytes"
	"context"
	"errors"
	"io"
	"mime"
	"mime/multipart"
	netmail "net/mail"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSES struct {
	inputs []*sesv2.SendEmailInput
	err    error
}

func (f *fakeSES) SendEmail(_ context.Context, in *sesv2.SendEmailInput, _ ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	f.inputs = append(f.inputs, in)
	if f.err != nil {
		return nil, f.err
	}
	return &sesv2.SendEmailOutput{}, nil
}

func TestSESSendsSimpleContentWithoutAttachments(t *testing.T) {
	client := &fakeSES{}
	transport := NewSESTransport(client, "no-reply@pactsign.io", "PactSign", "support@pactsign.io")

	err := transport.Send(context.Background(), Message{
		To: "bob@example.com", ToName: "Bob", Subject: "Hi", HTML: "<p>Hi</p>", Text: "Hi",
	})
	require.NoError(t, err)
	require.Len(t, client.inputs, 1)

	in := client.inputs[0]
	assert.Equal(t, `"PactSign" <no-reply@pactsign.io>`, *in.FromEmailAddress)
	assert.Equal(t, []string{`"Bob" <bob@example.com>`}, in.Destination.ToAddresses)
	assert.Equal(t, []string{"support@pactsign.io"}, in.ReplyToAddresses)
	require.NotNil(t, in.Content.Simple)
	assert.Nil(t, in.Content.Raw)
	assert.Equal(t, "Hi", *in.Content.Simple.Subject.Data)
	assert.Equal(t, "<p>Hi</p>", *in.Content.Simple.Body.Html.Data)
	assert.Equal(t, "Hi", *in.Content.Simple.Body.Text.Data)
}

func TestSESBuildsRawMessageForAttachments(t *testing.T) {
	client := &fakeSES{}
	transport := NewSESTransport(client, "no-reply@pactsign.io", "PactSign", "")
	pdf := []byte("%PDF-1.7 signed")

	err := transport.Send(context.Background(), Message{
		To: "bob@example.com", Subject: "Contract completed", HTML: "<p>Done</p>", Text: "Done",
		Attachments: []Attachment{{Filename: "contract.pdf", ContentType: "application/pdf", Data: pdf}},
	})
	require.NoError(t, err)
	require.Len(t, client.inputs, 1)
	require.NotNil(t, client.inputs[0].Content.Raw)

	parsed, err := netmail.ReadMessage(bytes.NewReader(client.inputs[0].Content.Raw.Data))
	require.NoError(t, err)
	assert.Equal(t, "bob@example.com", parsed.Header.Get("To"))
	assert.Equal(t, "Contract completed", parsed.Header.Get("Subject"))

	mediaType, params, err := mime.ParseMediaType(parsed.Header.Get("Content-Type"))
	require.NoError(t, err)
	assert.Equal(t, "multipart/mixed", mediaType)

	reader := multipart.NewReader(parsed.Body, params["boundary"])
	alt, err := reader.NextPart()
	require.NoError(t, err)
	altType, _, err := mime.ParseMediaType(alt.Header.Get("Content-Type"))
	require.NoError(t, err)
	assert.Equal(t, "multipart/alternative", altType)

	attachment, err := reader.NextPart()
	require.NoError(t, err)
	assert.Equal(t, "contract.pdf", attachment.FileName())
	assert.Equal(t, "base64", attachment.Header.Get("Content-Transfer-Encoding"))

	_, err = reader.NextPart()
	assert.ErrorIs(t, err, io.EOF)
}

func TestSESPropagatesProviderErrors(t *testing.T) {
	client := &fakeSES{err: errors.New("throttled")}
	transport := NewSESTransport(client, "no-reply@pactsign.io", "PactSign", "")

	err := transport.Send(context.Background(), Message{To: "bob@example.com", Subject: "x", HTML: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "throttled")
	assert.Len(t, client.inputs, 1, "the transport must not retry")
}
