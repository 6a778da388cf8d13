package builtin

import (
	"context"
	"errors"

	"github.com/openguenther/guenther/internal/provider"
	"github.com/openguenther/guenther/internal/tools"
)

func rememberTool() tools.Descriptor {
	return tools.Descriptor{
		Name: "remember",
		Description: "Speichert eine Information dauerhaft im Wissensspeicher. " +
			"Nutze dies wenn der Benutzer dich bittet, dir etwas zu merken.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"content": map[string]any{
					"type":        "string",
					"description": "Die zu speichernde Information als vollständiger Satz",
				},
				"source": map[string]any{
					"type":        "string",
					"description": "Optionale Quelle der Information",
				},
			},
			"required": []any{"content"},
		},
		Origin:  tools.OriginBuiltin,
		Handler: remember,
	}
}

func searchKnowledgeTool() tools.Descriptor {
	return tools.Descriptor{
		Name: "search_knowledge",
		Description: "Durchsucht den Wissensspeicher semantisch nach gespeicherten Informationen. " +
			"Nutze dies wenn sich der Benutzer auf früher Gespeichertes bezieht.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "Die Suchanfrage",
				},
				"limit": map[string]any{
					"type":        "integer",
					"description": "Maximale Anzahl Treffer (Standard: 5)",
					"default":     5,
				},
			},
			"required": []any{"query"},
		},
		Origin:  tools.OriginBuiltin,
		Handler: searchKnowledge,
	}
}

func remember(ctx context.Context, hc *tools.Context, args map[string]any) (map[string]any, error) {
	content := argString(args, "content", "")
	if content == "" {
		return errorRecord("Kein Inhalt angegeben."), nil
	}
	if hc.Knowledge == nil {
		return errorRecord("Wissensspeicher nicht verfügbar."), nil
	}

	embedding, record := embed(ctx, hc, content)
	if record != nil {
		return record, nil
	}

	id, err := hc.Knowledge.Add(ctx, content, argString(args, "source", "chat"), embedding)
	if err != nil {
		return errorRecord("Speichern fehlgeschlagen: %v", err), nil
	}
	return map[string]any{"id": id, "stored": true, "content": content}, nil
}

func searchKnowledge(ctx context.Context, hc *tools.Context, args map[string]any) (map[string]any, error) {
	query := argString(args, "query", "")
	if query == "" {
		return errorRecord("Keine Suchanfrage angegeben."), nil
	}
	if hc.Knowledge == nil {
		return errorRecord("Wissensspeicher nicht verfügbar."), nil
	}
	limit := clamp(argInt(args, "limit", 5), 1, 20)

	embedding, record := embed(ctx, hc, query)
	if record != nil {
		return record, nil
	}

	entries, err := hc.Knowledge.Search(ctx, embedding, limit)
	if err != nil {
		return errorRecord("Suche fehlgeschlagen: %v", err), nil
	}

	results := make([]map[string]any, len(entries))
	for i, e := range entries {
		results[i] = map[string]any{
			"content": e.Content,
			"source":  e.Source,
			"score":   e.Score,
		}
	}
	return map[string]any{"query": query, "results": results, "count": len(results)}, nil
}

// embed returns the embedding vector, or an error record when the provider
// is unusable.
func embed(ctx context.Context, hc *tools.Context, text string) ([]float32, map[string]any) {
	client, _, err := defaultClient(hc.Snapshot)
	if err != nil {
		var keyErr *provider.KeyMissingError
		if errors.As(err, &keyErr) {
			return nil, errorRecord("Kein %s API-Key konfiguriert.", keyErr.Label)
		}
		return nil, errorRecord("%v", err)
	}
	embedding, err := client.Embedding(ctx, hc.Snapshot.EmbeddingModel, text)
	if err != nil {
		return nil, errorRecord("Embedding fehlgeschlagen: %v", err)
	}
	return embedding, nil
}
