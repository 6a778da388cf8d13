package media

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/openguenther/guenther/internal/observability"
	"github.com/openguenther/guenther/internal/storage"
)

// Artifact is one extracted blob, persisted under the chat's file
// directory and kept in memory for channel uploads.
type Artifact struct {
	Kind     Kind
	Name     string
	MimeType string
	Data     []byte
}

var (
	inlineMediaRe = regexp.MustCompile(`!\[([^\]]*)\]\(data:([a-zA-Z0-9./+-]+);base64,([A-Za-z0-9+/=]+)\)`)
	htmlReportRe  = regexp.MustCompile(`\[HTML_REPORT\]\(data:text/html;base64,([A-Za-z0-9+/=]+)\)`)
	pdfReportRe   = regexp.MustCompile(`\[PDF_REPORT\]\(data:text/html;base64,([A-Za-z0-9+/=]+)\)`)
	pptxRe        = regexp.MustCompile(`\[PPTX_DOWNLOAD\]\(([^:)]+)::([A-Za-z0-9+/=]+)\)`)
	localFileRe   = regexp.MustCompile(`\[LOCAL_FILE\]\(([^)]+)\)`)
	storedFileRe  = regexp.MustCompile(`\[STORED_FILE\]\(([^)]+)\)`)
	blankRunsRe   = regexp.MustCompile(`\n{3,}`)
)

// Extractor rewrites marker-laden assistant text into a persistable form:
// every inline blob is written to the chat's file store and its marker
// replaced with a [STORED_FILE](<name>) reference.
type Extractor struct {
	files  *storage.FileStore
	logger *observability.Logger
	now    func() time.Time
}

func NewExtractor(files *storage.FileStore, logger *observability.Logger) *Extractor {
	return &Extractor{files: files, logger: logger, now: time.Now}
}

// WithNow overrides the clock used for artifact names.
func (e *Extractor) WithNow(now func() time.Time) *Extractor {
	e.now = now
	return e
}

// Extract persists all media markers in text and returns the rewritten
// text plus the stored artifacts. Markers whose payload cannot be decoded
// or read are left in place.
func (e *Extractor) Extract(chatID, text string) (string, []Artifact) {
	var artifacts []Artifact
	stamp := e.now().Unix()
	seq := 0

	nextName := func(stem, ext string) string {
		seq++
		return fmt.Sprintf("%s_%d_%d%s", stem, stamp, seq, ext)
	}

	store := func(name, mimeType string, data []byte, kind Kind) string {
		if _, err := e.files.Save(chatID, name, data); err != nil {
			e.logger.Warn(context.Background(), "failed to store artifact", "chat_id", chatID, "name", name, "error", err)
			return ""
		}
		artifacts = append(artifacts, Artifact{Kind: kind, Name: name, MimeType: mimeType, Data: data})
		return fmt.Sprintf("[STORED_FILE](%s)", name)
	}

	text = inlineMediaRe.ReplaceAllStringFunc(text, func(marker string) string {
		m := inlineMediaRe.FindStringSubmatch(marker)
		data, err := base64.StdEncoding.DecodeString(m[3])
		if err != nil {
			e.logger.Warn(context.Background(), "invalid inline media payload", "chat_id", chatID, "error", err)
			return marker
		}
		mimeType := m[2]
		kind := KindImage
		stem := "bild"
		if strings.HasPrefix(mimeType, "audio/") {
			kind = KindAudio
			stem = "audio"
		}
		if ref := store(nextName(stem, extensionFor(mimeType)), mimeType, data, kind); ref != "" {
			return ref
		}
		return marker
	})

	text = htmlReportRe.ReplaceAllStringFunc(text, func(marker string) string {
		m := htmlReportRe.FindStringSubmatch(marker)
		data, err := base64.StdEncoding.DecodeString(m[1])
		if err != nil {
			e.logger.Warn(context.Background(), "invalid HTML report payload", "chat_id", chatID, "error", err)
			return marker
		}
		if ref := store(nextName("report", ".html"), "text/html", data, KindHTML); ref != "" {
			return ref
		}
		return marker
	})

	text = pdfReportRe.ReplaceAllStringFunc(text, func(marker string) string {
		m := pdfReportRe.FindStringSubmatch(marker)
		data, err := base64.StdEncoding.DecodeString(m[1])
		if err != nil {
			e.logger.Warn(context.Background(), "invalid PDF report payload", "chat_id", chatID, "error", err)
			return marker
		}
		// The payload is HTML source; conversion happens downstream.
		if ref := store(nextName("report", ".pdf.html"), "text/html", data, KindPDF); ref != "" {
			return ref
		}
		return marker
	})

	text = pptxRe.ReplaceAllStringFunc(text, func(marker string) string {
		m := pptxRe.FindStringSubmatch(marker)
		data, err := base64.StdEncoding.DecodeString(m[2])
		if err != nil {
			e.logger.Warn(context.Background(), "invalid PPTX payload", "chat_id", chatID, "error", err)
			return marker
		}
		name := filepath.Base(strings.TrimSpace(m[1]))
		if !strings.HasSuffix(strings.ToLower(name), ".pptx") {
			name += ".pptx"
		}
		mimeType := "application/vnd.openxmlformats-officedocument.presentationml.presentation"
		if ref := store(name, mimeType, data, KindPPTX); ref != "" {
			return ref
		}
		return marker
	})

	text = localFileRe.ReplaceAllStringFunc(text, func(marker string) string {
		m := localFileRe.FindStringSubmatch(marker)
		path := strings.TrimSpace(m[1])
		data, err := os.ReadFile(path)
		if err != nil {
			e.logger.Warn(context.Background(), "failed to read local file", "chat_id", chatID, "path", path, "error", err)
			return marker
		}
		if ref := store(filepath.Base(path), mimeTypeForName(path), data, KindFile); ref != "" {
			return ref
		}
		return marker
	})

	return text, artifacts
}

// StripStoredMarkers removes [STORED_FILE] references from text for
// channels that deliver artifacts as native uploads.
func StripStoredMarkers(text string) string {
	text = storedFileRe.ReplaceAllString(text, "")
	text = blankRunsRe.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

func extensionFor(mimeType string) string {
	switch mimeType {
	case "image/png":
		return ".png"
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	case "audio/mpeg", "audio/mp3":
		return ".mp3"
	case "audio/ogg", "audio/opus":
		return ".ogg"
	case "audio/wav":
		return ".wav"
	default:
		if strings.HasPrefix(mimeType, "image/") {
			return ".png"
		}
		if strings.HasPrefix(mimeType, "audio/") {
			return ".mp3"
		}
		return ".bin"
	}
}

func mimeTypeForName(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".gif":
		return "image/gif"
	case ".mp3":
		return "audio/mpeg"
	case ".ogg":
		return "audio/ogg"
	case ".wav":
		return "audio/wav"
	case ".pdf":
		return "application/pdf"
	case ".html":
		return "text/html"
	case ".pptx":
		return "application/vnd.openxmlformats-officedocument.presentationml.presentation"
	case ".txt":
		return "text/plain"
	case ".csv":
		return "text/csv"
	case ".json":
		return "application/json"
	default:
		return "application/octet-stream"
	}
}
