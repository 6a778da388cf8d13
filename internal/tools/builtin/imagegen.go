package builtin

import (
	"context"
	"errors"

	"github.com/openguenther/guenther/internal/provider"
	"github.com/openguenther/guenther/internal/tools"
	"github.com/openguenther/guenther/pkg/models"
)

func generateImageTool() tools.Descriptor {
	return tools.Descriptor{
		Name: "generate_image",
		Description: "Generiert ein Bild anhand einer Beschreibung (Prompt) mit einem KI-Bildgenerierungs-Modell. " +
			"Gibt das fertige Bild zurück. Nutze dies wenn der Benutzer ein Bild erstellen, zeichnen oder " +
			"generieren lassen möchte.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"prompt": map[string]any{
					"type": "string",
					"description": "Detaillierte Bildbeschreibung auf Englisch für beste Ergebnisse, " +
						"z.B. 'a photorealistic cat sitting on a red sofa, warm lighting'",
				},
				"aspect_ratio": map[string]any{
					"type":        "string",
					"description": "Seitenverhältnis des Bildes (Standard: 1:1)",
					"enum":        []any{"1:1", "16:9", "4:3", "3:4", "9:16", "21:9"},
				},
			},
			"required": []any{"prompt"},
		},
		SettingsSchema: []models.SettingsField{
			{Key: "provider", Label: "Provider", Type: "text",
				Description: "Provider-ID für die Bildgenerierung (leer = Standard)"},
			{Key: "model", Label: "Modell", Type: "text", Placeholder: "google/gemini-2.5-flash-image",
				Description: "Bildgenerierungs-Modell (leer = Standard)"},
		},
		Origin:           tools.OriginBuiltin,
		AgentOverridable: true,
		Handler:          generateImage,
	}
}

func generateImage(ctx context.Context, hc *tools.Context, args map[string]any) (map[string]any, error) {
	prompt := argString(args, "prompt", "")
	if prompt == "" {
		return errorRecord("Kein Prompt angegeben."), nil
	}
	aspectRatio := argString(args, "aspect_ratio", "1:1")

	client, cfg, err := defaultClient(hc.Snapshot)
	if err != nil {
		var keyErr *provider.KeyMissingError
		if errors.As(err, &keyErr) {
			return errorRecord("Kein %s API-Key konfiguriert.", keyErr.Label), nil
		}
		return errorRecord("%v", err), nil
	}

	model := hc.Snapshot.ImageGenModel
	if model == "" {
		model = hc.Snapshot.ModelFor(&cfg)
	}

	img, err := client.GenerateImage(ctx, model, prompt, aspectRatio)
	if err != nil {
		return errorRecord("%v", err), nil
	}
	return map[string]any{
		"image_base64": img.DataB64,
		"mime_type":    img.MimeType,
		"prompt":       prompt,
		"model":        model,
	}, nil
}
