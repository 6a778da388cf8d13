package builtin

import (
	"context"
	"encoding/base64"

	qrcode "github.com/skip2/go-qrcode"

	"github.com/openguenther/guenther/internal/tools"
)

func generateQRCodeTool() tools.Descriptor {
	return tools.Descriptor{
		Name:        "generate_qr_code",
		Description: "Erzeugt einen QR-Code als Bild (PNG) aus einem Text oder einer URL.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"text": map[string]any{
					"type":        "string",
					"description": "Der Text oder die URL, die als QR-Code kodiert werden soll",
				},
				"size": map[string]any{
					"type":        "integer",
					"description": "Groesse der QR-Code-Bloecke in Pixeln (Standard: 10)",
					"default":     10,
				},
			},
			"required": []any{"text"},
		},
		Origin:  tools.OriginBuiltin,
		Handler: generateQRCode,
	}
}

func generateQRCode(ctx context.Context, hc *tools.Context, args map[string]any) (map[string]any, error) {
	text := argString(args, "text", "")
	if text == "" {
		return errorRecord("Kein Text angegeben."), nil
	}
	size := clamp(argInt(args, "size", 10), 1, 40)

	// The block size maps onto an absolute pixel edge; a typical code has
	// around 32 modules per side.
	png, err := qrcode.Encode(text, qrcode.Medium, size*32)
	if err != nil {
		return errorRecord("QR-Code konnte nicht erzeugt werden: %v", err), nil
	}
	return map[string]any{
		"image_base64": base64.StdEncoding.EncodeToString(png),
		"mime_type":    "image/png",
		"text_encoded": text,
	}, nil
}
