// Package media owns the binary-output conventions of agent turns: the
// reserved tool-result keys, the outbound file markers appended to the
// final assistant text, and the extractor that persists blobs and
// rewrites markers into stored-file references.
package media

import (
	"fmt"
)

// Kind classifies one collected media item.
type Kind string

const (
	KindImage Kind = "image"
	KindAudio Kind = "audio"
	KindHTML  Kind = "html"
	KindPDF   Kind = "pdf"
	KindPPTX  Kind = "pptx"
	KindFile  Kind = "file"
)

// Media is one blob collected during an agent turn. HTML and PDF carry
// base64-encoded HTML source (PDF conversion happens downstream), PPTX
// carries base64 plus a filename, File carries a server-local path.
type Media struct {
	Kind     Kind
	DataB64  string
	MimeType string
	Filename string
	Path     string
}

// Reserved tool-result keys. A tool result carrying one of these has the
// blob moved out before the model sees the remainder.
const (
	keyImage = "image_base64"
	keyAudio = "audio_base64"
	keyPPTX  = "pptx_base64"
	keyHTML  = "html_content"
	keyFile  = "local_file_path"
)

var blobKeys = []string{keyImage, keyAudio, keyPPTX, keyHTML, keyFile}

func summaryFor(kind Kind) string {
	switch kind {
	case KindImage:
		return "Bild wurde erfolgreich erstellt"
	case KindAudio:
		return "Audio wurde erfolgreich erstellt"
	case KindPPTX:
		return "Präsentation steht zum Download bereit"
	case KindHTML, KindPDF:
		return "Report wurde erstellt"
	case KindFile:
		return "Datei wurde gespeichert"
	}
	return "Ergebnis wurde erstellt"
}

// Intercept pulls reserved blob keys out of a tool result. It returns the
// collected media and a sanitized copy of the record: blob keys removed,
// the remaining fields preserved, and success/message fields added when
// the tool did not set its own.
func Intercept(record map[string]any) ([]Media, map[string]any) {
	var found []Media

	if b64, ok := stringValue(record, keyImage); ok {
		found = append(found, Media{
			Kind:     KindImage,
			DataB64:  b64,
			MimeType: stringOr(record, "mime_type", "image/png"),
		})
	}
	if b64, ok := stringValue(record, keyAudio); ok {
		found = append(found, Media{
			Kind:     KindAudio,
			DataB64:  b64,
			MimeType: stringOr(record, "mime_type", "audio/mpeg"),
		})
	}
	if b64, ok := stringValue(record, keyPPTX); ok {
		found = append(found, Media{
			Kind:     KindPPTX,
			DataB64:  b64,
			Filename: stringOr(record, "filename", "praesentation.pptx"),
		})
	}
	if b64, ok := stringValue(record, keyHTML); ok {
		kind := KindHTML
		if truthy(record["pdf"]) || truthy(record["as_pdf"]) {
			kind = KindPDF
		}
		found = append(found, Media{Kind: kind, DataB64: b64, MimeType: "text/html"})
	}
	if path, ok := stringValue(record, keyFile); ok {
		found = append(found, Media{Kind: KindFile, Path: path})
	}

	if len(found) == 0 {
		return nil, record
	}

	sanitized := make(map[string]any, len(record))
	for k, v := range record {
		sanitized[k] = v
	}
	for _, key := range blobKeys {
		delete(sanitized, key)
	}
	if _, ok := sanitized["success"]; !ok {
		sanitized["success"] = true
	}
	if _, ok := sanitized["message"]; !ok {
		sanitized["message"] = summaryFor(found[0].Kind)
	}
	return found, sanitized
}

// AppendMarkers attaches the collected media to the terminal assistant
// text using the outbound marker conventions.
func AppendMarkers(text string, items []Media) string {
	for _, m := range items {
		switch m.Kind {
		case KindImage:
			text += fmt.Sprintf("\n\n![Generiertes Bild](data:%s;base64,%s)", m.MimeType, m.DataB64)
		case KindAudio:
			text += fmt.Sprintf("\n\n![audio](data:%s;base64,%s)", m.MimeType, m.DataB64)
		case KindHTML:
			text += fmt.Sprintf("\n\n[HTML_REPORT](data:text/html;base64,%s)", m.DataB64)
		case KindPDF:
			text += fmt.Sprintf("\n\n[HTML_REPORT](data:text/html;base64,%s)\n\n[PDF_REPORT](data:text/html;base64,%s)", m.DataB64, m.DataB64)
		case KindPPTX:
			text += fmt.Sprintf("\n\n[PPTX_DOWNLOAD](%s::%s)", m.Filename, m.DataB64)
		case KindFile:
			text += fmt.Sprintf("\n\n[LOCAL_FILE](%s)", m.Path)
		}
	}
	return text
}

func stringValue(record map[string]any, key string) (string, bool) {
	v, ok := record[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}

func stringOr(record map[string]any, key, fallback string) string {
	if s, ok := stringValue(record, key); ok {
		return s
	}
	return fallback
}

func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		return t == "true" || t == "1" || t == "ja"
	case float64:
		return t != 0
	}
	return false
}
