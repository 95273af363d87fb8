package mcprpc

import (
	"fmt"
)

// ContentType discriminates the variants of Content.
type ContentType string

const (
	ContentTypeText     ContentType = "text"
	ContentTypeImage    ContentType = "image"
	ContentTypeResource ContentType = "resource"
)

// Content is a tagged union of the message payloads a tool result, prompt
// message, or resource read can carry. Exactly one of the typed fields is
// populated, selected by Type.
type Content struct {
	Type ContentType `json:"type"`

	// Text is populated when Type == ContentTypeText.
	Text string `json:"text,omitempty"`

	// Image fields, populated when Type == ContentTypeImage. Exactly one of
	// URL or Base64Data is set.
	MimeType   string `json:"mimeType,omitempty"`
	URL        string `json:"url,omitempty"`
	Base64Data string `json:"data,omitempty"`

	// Resource fields, populated when Type == ContentTypeResource.
	URI  string `json:"uri,omitempty"`
	Blob string `json:"blob,omitempty"`
}

// TextContent constructs a text Content value.
func TextContent(text string) Content {
	return Content{Type: ContentTypeText, Text: text}
}

// ImageContentFromURL constructs an image Content value referencing a URL.
func ImageContentFromURL(mimeType, url string) Content {
	return Content{Type: ContentTypeImage, MimeType: mimeType, URL: url}
}

// ImageContentFromBase64 constructs an image Content value carrying inline data.
func ImageContentFromBase64(mimeType, data string) Content {
	return Content{Type: ContentTypeImage, MimeType: mimeType, Base64Data: data}
}

// ResourceContent constructs a resource-reference Content value.
func ResourceContent(uri, mimeType, text string) Content {
	return Content{Type: ContentTypeResource, URI: uri, MimeType: mimeType, Text: text}
}

// Validate checks that the fields Type requires are populated (a url or inline
// data for images, a uri for resources) and that Type is known. Fields that
// belong to other content types are not checked.
func (c Content) Validate() error {
	switch c.Type {
	case ContentTypeText:
		return nil
	case ContentTypeImage:
		if c.URL == "" && c.Base64Data == "" {
			return fmt.Errorf("image content requires a url or inline data")
		}
	case ContentTypeResource:
		if c.URI == "" {
			return fmt.Errorf("resource content requires a uri")
		}
	default:
		return fmt.Errorf("unknown content type %q", c.Type)
	}
	return nil
}

// ResourceContents is the element shape of resources/read's "contents" array,
// per the 2025-03-26 protocol revision. The legacy top-level content/mime_type
// shape is intentionally not represented anywhere in this package.
type ResourceContents struct {
	URI      string `json:"uri"`
	MimeType string `json:"mimeType,omitempty"`
	Text     string `json:"text,omitempty"`
	Blob     string `json:"blob,omitempty"`
}
