package normalize

import (
	"encoding/base64"
	"fmt"
	"mime"
	"strings"

	json "github.com/goccy/go-json"
	"google.golang.org/api/gmail/v1"
)

// decodeGmailMessage parses a users.messages resource as returned by the API
func decodeGmailMessage(data []byte) (*gmail.Message, error) {
	var msg gmail.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("invalid gmail message json: %w", err)
	}
	if msg.Id == "" {
		return nil, fmt.Errorf("gmail message has no id")
	}
	if msg.Payload == nil {
		return nil, fmt.Errorf("gmail message %s has no payload", msg.Id)
	}
	return &msg, nil
}

// gmailHeader returns the first header with the given name, case-insensitively
func gmailHeader(p *gmail.MessagePart, name string) string {
	if p == nil {
		return ""
	}
	for _, h := range p.Headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

// walkGmailPart mirrors walkEntity for the API's pre-parsed MIME tree
func walkGmailPart(p *gmail.MessagePart, parts *bodyParts) error {
	if p == nil {
		return nil
	}
	if len(p.Parts) > 0 {
		for _, child := range p.Parts {
			if err := walkGmailPart(child, parts); err != nil {
				return err
			}
		}
		return nil
	}

	if isGmailAttachment(p) {
		return nil
	}

	mediaType := strings.ToLower(p.MimeType)
	if mediaType == "" {
		mediaType = "text/plain"
	}
	if mediaType != "text/plain" && mediaType != "text/html" {
		return nil
	}
	if p.Body == nil || p.Body.Data == "" {
		return nil
	}

	data, err := decodeBase64URL(p.Body.Data)
	if err != nil {
		return fmt.Errorf("failed to decode %s part %s: %w", mediaType, p.PartId, err)
	}

	var label string
	if ct := gmailHeader(p, "Content-Type"); ct != "" {
		if _, params, err := mime.ParseMediaType(ct); err == nil {
			label = params["charset"]
		}
	}
	parts.add(mediaType, decodeCharset(label, data))
	return nil
}

func isGmailAttachment(p *gmail.MessagePart) bool {
	if p.Filename != "" {
		return true
	}
	if p.Body != nil && p.Body.AttachmentId != "" {
		return true
	}
	disp := strings.ToLower(gmailHeader(p, "Content-Disposition"))
	return strings.HasPrefix(disp, "attachment")
}

// decodeBase64URL accepts padded and unpadded base64url
func decodeBase64URL(s string) ([]byte, error) {
	s = strings.TrimRight(strings.TrimSpace(s), "=")
	return base64.RawURLEncoding.DecodeString(s)
}
