package session

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"golang.org/x/text/encoding/simplifiedchinese"
)

// AttachmentDelimiter introduces the folded attachment block in the
// prompt. The block never appears in the user-visible message content.
const AttachmentDelimiter = "=== 相关文档内容 ==="

// Attachment is one experimental_attachments entry from the client.
type Attachment struct {
	Name        string `json:"name"`
	ContentType string `json:"contentType,omitempty"`
	URL         string `json:"url"`
}

var htmlConverter = md.NewConverter("", true, nil)

// DecodeAttachment extracts the text payload of a data: URL attachment.
// Bytes are tried as UTF-8 first, then GBK; HTML payloads are converted
// to markdown.
func DecodeAttachment(att Attachment) (string, error) {
	raw, mediaType, err := decodeDataURL(att.URL)
	if err != nil {
		return "", fmt.Errorf("attachment %s: %w", att.Name, err)
	}

	text := decodeText(raw)

	if isHTML(att, mediaType) {
		converted, err := htmlConverter.ConvertString(text)
		if err != nil {
			return "", fmt.Errorf("attachment %s: convert html: %w", att.Name, err)
		}
		text = converted
	}
	return text, nil
}

// FoldAttachments appends the decoded attachment bodies to a prompt
// under the delimiter, one block per file.
func FoldAttachments(prompt string, atts []Attachment) (string, error) {
	if len(atts) == 0 {
		return prompt, nil
	}

	var b strings.Builder
	b.WriteString(prompt)
	b.WriteString("\n\n" + AttachmentDelimiter + "\n")
	for _, att := range atts {
		body, err := DecodeAttachment(att)
		if err != nil {
			return "", err
		}
		b.WriteString(fmt.Sprintf("\n--- %s ---\n%s\n", att.Name, body))
	}
	return b.String(), nil
}

// decodeDataURL parses a data: URL and returns the raw bytes plus the
// declared media type.
func decodeDataURL(raw string) ([]byte, string, error) {
	rest, ok := strings.CutPrefix(raw, "data:")
	if !ok {
		return nil, "", fmt.Errorf("not a data URL")
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return nil, "", fmt.Errorf("malformed data URL")
	}

	mediaType := meta
	base64Encoded := false
	if enc, found := strings.CutSuffix(meta, ";base64"); found {
		mediaType = enc
		base64Encoded = true
	}

	if base64Encoded {
		data, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return nil, "", fmt.Errorf("decode base64 payload: %w", err)
		}
		return data, mediaType, nil
	}

	decoded, err := url.QueryUnescape(payload)
	if err != nil {
		return nil, "", fmt.Errorf("decode payload: %w", err)
	}
	return []byte(decoded), mediaType, nil
}

// decodeText interprets bytes as UTF-8 when valid, otherwise GBK.
func decodeText(raw []byte) string {
	if utf8.Valid(raw) {
		return string(raw)
	}
	decoded, err := simplifiedchinese.GBK.NewDecoder().Bytes(raw)
	if err != nil {
		return string(raw)
	}
	return string(decoded)
}

func isHTML(att Attachment, mediaType string) bool {
	if strings.Contains(mediaType, "text/html") || strings.Contains(att.ContentType, "text/html") {
		return true
	}
	name := strings.ToLower(att.Name)
	return strings.HasSuffix(name, ".html") || strings.HasSuffix(name, ".htm")
}
