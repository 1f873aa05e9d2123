package mail

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	netmail "net/mail"
	"net/textproto"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
)

type sesAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SESTransport sends through SES v2. Messages without attachments use simple
// content; attachments force a raw MIME message.
type SESTransport struct {
	client  sesAPI
	from    string
	replyTo string
}

func NewSESTransport(client sesAPI, fromEmail, fromName, replyTo string) *SESTransport {
	return &SESTransport{
		client:  client,
		from:    (&netmail.Address{Name: fromName, Address: fromEmail}).String(),
		replyTo: replyTo,
	}
}

func (t *SESTransport) Send(ctx context.Context, msg Message) error {
	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(t.from),
		Destination:      &types.Destination{ToAddresses: []string{recipient(msg)}},
	}
	if t.replyTo != "" {
		input.ReplyToAddresses = []string{t.replyTo}
	}

	if len(msg.Attachments) == 0 {
		body := &types.Body{
			Html: &types.Content{Data: aws.String(msg.HTML), Charset: aws.String("UTF-8")},
		}
		if msg.Text != "" {
			body.Text = &types.Content{Data: aws.String(msg.Text), Charset: aws.String("UTF-8")}
		}
		input.Content = &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(msg.Subject), Charset: aws.String("UTF-8")},
				Body:    body,
			},
		}
	} else {
		raw, err := buildRawMessage(t.from, t.replyTo, msg)
		if err != nil {
			return fmt.Errorf("build mime message: %w", err)
		}
		input.Content = &types.EmailContent{Raw: &types.RawMessage{Data: raw}}
	}

	if _, err := t.client.SendEmail(ctx, input); err != nil {
		return fmt.Errorf("ses send to %s: %w", msg.To, err)
	}
	return nil
}

func recipient(msg Message) string {
	if msg.ToName == "" {
		return msg.To
	}
	return (&netmail.Address{Name: msg.ToName, Address: msg.To}).String()
}

// buildRawMessage writes a multipart/mixed message: an alternative part with
// the text and html bodies followed by one part per attachment.
func buildRawMessage(from, replyTo string, msg Message) ([]byte, error) {
	var buf bytes.Buffer
	mixed := multipart.NewWriter(&buf)

	fmt.Fprintf(&buf, "From: %s\r\n", from)
	fmt.Fprintf(&buf, "To: %s\r\n", recipient(msg))
	if replyTo != "" {
		fmt.Fprintf(&buf, "Reply-To: %s\r\n", replyTo)
	}
	fmt.Fprintf(&buf, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", msg.Subject))
	buf.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&buf, "Content-Type: multipart/mixed; boundary=%q\r\n\r\n", mixed.Boundary())

	var alt bytes.Buffer
	altWriter := multipart.NewWriter(&alt)
	if msg.Text != "" {
		if err := writeBodyPart(altWriter, "text/plain; charset=UTF-8", msg.Text); err != nil {
			return nil, err
		}
	}
	if err := writeBodyPart(altWriter, "text/html; charset=UTF-8", msg.HTML); err != nil {
		return nil, err
	}
	if err := altWriter.Close(); err != nil {
		return nil, err
	}
	altPart, err := mixed.CreatePart(textproto.MIMEHeader{
		"Content-Type": {fmt.Sprintf("multipart/alternative; boundary=%q", altWriter.Boundary())},
	})
	if err != nil {
		return nil, err
	}
	if _, err := altPart.Write(alt.Bytes()); err != nil {
		return nil, err
	}

	for _, a := range msg.Attachments {
		contentType := a.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		part, err := mixed.CreatePart(textproto.MIMEHeader{
			"Content-Type":              {fmt.Sprintf("%s; name=%q", contentType, a.Filename)},
			"Content-Disposition":       {fmt.Sprintf("attachment; filename=%q", a.Filename)},
			"Content-Transfer-Encoding": {"base64"},
		})
		if err != nil {
			return nil, err
		}
		if err := writeBase64Lines(part, a.Data); err != nil {
			return nil, err
		}
	}
	if err := mixed.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeBodyPart(w *multipart.Writer, contentType, body string) error {
	part, err := w.CreatePart(textproto.MIMEHeader{
		"Content-Type":              {contentType},
		"Content-Transfer-Encoding": {"base64"},
	})
	if err != nil {
		return err
	}
	return writeBase64Lines(part, []byte(body))
}

// writeBase64Lines wraps the encoding at 76 columns.
func writeBase64Lines(w io.Writer, data []byte) error {
	encoded := base64.StdEncoding.EncodeToString(data)
	for len(encoded) > 76 {
		if _, err := fmt.Fprintf(w, "%s\r\n", encoded[:76]); err != nil {
			return err
		}
		encoded = encoded[76:]
	}
	_, err := fmt.Fprintf(w, "%s\r\n", encoded)
	return err
}
