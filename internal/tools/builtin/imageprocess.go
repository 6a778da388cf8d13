package builtin

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"github.com/openguenther/guenther/internal/tools"
)

const imageMagickTimeout = 30 * time.Second

// convertCommand is the ImageMagick binary; tests swap it out.
var convertCommand = "convert"

func processImageTool() tools.Descriptor {
	return tools.Descriptor{
		Name: "process_image",
		Description: "Bearbeitet ein Bild mit ImageMagick (unscharf machen, Graustufen, rotieren, " +
			"skalieren, schärfen, Helligkeit/Kontrast, spiegeln, invertieren). " +
			"Das Bild wird per session_key (wenn via Telegram gesendet) oder als " +
			"direkter base64-String übergeben.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"session_key": map[string]any{
					"type": "string",
					"description": "Session-Key des gespeicherten Bildes (wird im System-Hinweis " +
						"bereitgestellt, wenn der Nutzer ein Bild via Telegram geschickt hat)",
				},
				"image_b64": map[string]any{
					"type":        "string",
					"description": "Alternatives direktes Übergeben als Base64-kodierter String",
				},
				"operation": map[string]any{
					"type":        "string",
					"description": "Die Bildbearbeitungs-Operation",
					"enum": []any{"blur", "grayscale", "rotate", "resize", "sharpen",
						"brightness", "contrast", "flip_horizontal", "flip_vertical", "invert"},
				},
				"radius": map[string]any{
					"type":        "number",
					"description": "Unschärfe-Radius für 'blur' (Standard: 5)",
				},
				"angle": map[string]any{
					"type":        "number",
					"description": "Rotationswinkel in Grad für 'rotate' (Standard: 90)",
				},
				"width": map[string]any{
					"type":        "integer",
					"description": "Neue Breite in Pixeln für 'resize'",
				},
				"height": map[string]any{
					"type":        "integer",
					"description": "Neue Höhe in Pixeln für 'resize'",
				},
				"factor": map[string]any{
					"type": "number",
					"description": "Stärke für 'brightness' oder 'contrast' " +
						"(1.0 = original, 2.0 = doppelt, 0.5 = halb; Standard: 1.5)",
				},
			},
			"required": []any{"operation"},
		},
		Origin:  tools.OriginBuiltin,
		Handler: processImage,
	}
}

func processImage(ctx context.Context, hc *tools.Context, args map[string]any) (map[string]any, error) {
	operation := argString(args, "operation", "")

	rawB64 := argString(args, "image_b64", "")
	if rawB64 == "" {
		sessionKey := argString(args, "session_key", "")
		if sessionKey == "" {
			return errorRecord("Entweder 'session_key' oder 'image_b64' muss angegeben werden."), nil
		}
		if hc.Images == nil {
			return errorRecord("Kein Bild für Session-Key '%s' gefunden.", sessionKey), nil
		}
		stored, err := hc.Images.Get(ctx, sessionKey)
		if err != nil || stored == nil {
			return errorRecord("Kein Bild für Session-Key '%s' gefunden.", sessionKey), nil
		}
		rawB64 = stored.DataB64
	}

	input, err := base64.StdEncoding.DecodeString(rawB64)
	if err != nil {
		return errorRecord("Base64-Dekodierung fehlgeschlagen: %v", err), nil
	}

	magickArgs, err := magickArgsFor(operation, args)
	if err != nil {
		return errorRecord("%v", err), nil
	}

	out, err := runImageMagick(ctx, input, magickArgs)
	if err != nil {
		return errorRecord("%v", err), nil
	}
	return map[string]any{
		"image_base64": base64.StdEncoding.EncodeToString(out),
		"mime_type":    "image/png",
		"operation":    operation,
	}, nil
}

func magickArgsFor(operation string, args map[string]any) ([]string, error) {
	switch operation {
	case "blur":
		return []string{"-blur", fmt.Sprintf("0x%g", argFloat(args, "radius", 5))}, nil
	case "grayscale":
		return []string{"-colorspace", "Gray"}, nil
	case "rotate":
		return []string{"-rotate", fmt.Sprintf("%g", argFloat(args, "angle", 90))}, nil
	case "resize":
		width := argInt(args, "width", 0)
		height := argInt(args, "height", 0)
		switch {
		case width > 0 && height > 0:
			return []string{"-resize", fmt.Sprintf("%dx%d!", width, height)}, nil
		case width > 0:
			return []string{"-resize", fmt.Sprintf("%dx", width)}, nil
		case height > 0:
			return []string{"-resize", fmt.Sprintf("x%d", height)}, nil
		}
		return nil, fmt.Errorf("Für 'resize' muss width und/oder height angegeben werden.")
	case "sharpen":
		return []string{"-sharpen", "0x1"}, nil
	case "brightness":
		pct := int(argFloat(args, "factor", 1.5) * 100)
		return []string{"-modulate", fmt.Sprintf("%d,100,100", pct)}, nil
	case "contrast":
		val := clamp(int((argFloat(args, "factor", 1.5)-1.0)*50), -100, 100)
		return []string{"-brightness-contrast", fmt.Sprintf("0,%d", val)}, nil
	case "flip_horizontal":
		return []string{"-flop"}, nil
	case "flip_vertical":
		return []string{"-flip"}, nil
	case "invert":
		return []string{"-negate"}, nil
	}
	return nil, fmt.Errorf("Unbekannte Operation: '%s'", operation)
}

// runImageMagick pipes the image through convert: stdin in, PNG on stdout.
func runImageMagick(ctx context.Context, input []byte, args []string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, imageMagickTimeout)
	defer cancel()

	cmdArgs := append([]string{"-"}, args...)
	cmdArgs = append(cmdArgs, "png:-")
	cmd := exec.CommandContext(ctx, convertCommand, cmdArgs...)
	cmd.Stdin = bytes.NewReader(input)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if ctx.Err() == context.DeadlineExceeded {
		return nil, fmt.Errorf("ImageMagick Timeout (>30s)")
	}
	if errors.Is(err, exec.ErrNotFound) {
		return nil, fmt.Errorf("ImageMagick nicht gefunden. Bitte im Container installieren.")
	}
	if err != nil {
		msg := bytes.TrimSpace(stderr.Bytes())
		if len(msg) > 0 {
			return nil, fmt.Errorf("Bildverarbeitung fehlgeschlagen: %s", msg)
		}
		return nil, fmt.Errorf("Bildverarbeitung fehlgeschlagen: %v", err)
	}
	return stdout.Bytes(), nil
}
