package normalize

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/emersion/go-message"
	"github.com/jaytaylor/html2text"
)

// bodyParts collects decoded text parts in document order
type bodyParts struct {
	plain []string
	html  []string
}

// text joins the text/plain parts, or converts the HTML parts when the
// message has no plain text at all and fallback is enabled.
func (b *bodyParts) text(htmlFallback bool) string {
	if len(b.plain) > 0 {
		return strings.TrimSpace(strings.Join(b.plain, "\n"))
	}
	if !htmlFallback || len(b.html) == 0 {
		return ""
	}
	var out []string
	for _, h := range b.html {
		t, err := html2text.FromString(h, html2text.Options{})
		if err != nil {
			continue
		}
		out = append(out, t)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}

// add files a decoded leaf part under its media type
func (b *bodyParts) add(mediaType, text string) {
	switch mediaType {
	case "text/plain":
		b.plain = append(b.plain, text)
	case "text/html":
		b.html = append(b.html, text)
	}
}

// walkEntity visits every leaf of a MIME tree, skipping attachments.
// undecoded is set when go-message could not convert the part's charset.
func walkEntity(e *message.Entity, undecoded bool, parts *bodyParts) error {
	if mr := e.MultipartReader(); mr != nil {
		for {
			p, partErr := mr.NextPart()
			if errors.Is(partErr, io.EOF) {
				return nil
			}
			if partErr != nil && !isCharsetErr(partErr) {
				return fmt.Errorf("failed to read multipart section: %w", partErr)
			}
			if err := walkEntity(p, message.IsUnknownCharset(partErr), parts); err != nil {
				return err
			}
		}
	}

	if disp, _, _ := e.Header.ContentDisposition(); strings.EqualFold(disp, "attachment") {
		return nil
	}

	mediaType, params, err := e.Header.ContentType()
	if err != nil || mediaType == "" {
		mediaType = "text/plain"
	}
	mediaType = strings.ToLower(mediaType)
	if mediaType != "text/plain" && mediaType != "text/html" {
		return nil
	}

	data, err := io.ReadAll(e.Body)
	if err != nil {
		return fmt.Errorf("failed to read %s part: %w", mediaType, err)
	}

	// go-message already converted known charsets to UTF-8
	label := ""
	if undecoded {
		label = params["charset"]
	}
	parts.add(mediaType, decodeCharset(label, data))
	return nil
}

func isCharsetErr(err error) bool {
	return message.IsUnknownCharset(err) || message.IsUnknownEncoding(err)
}
