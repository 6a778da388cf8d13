package builtin

import (
	"context"
	"math/rand"

	"github.com/openguenther/guenther/internal/tools"
)

func rollDiceTool() tools.Descriptor {
	return tools.Descriptor{
		Name:        "roll_dice",
		Description: "Wuerfelt mit einem oder mehreren Wuerfeln. Gibt die Einzelergebnisse und die Summe zurueck.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"sides": map[string]any{
					"type":        "integer",
					"description": "Anzahl Seiten pro Wuerfel (Standard: 6)",
					"default":     6,
				},
				"count": map[string]any{
					"type":        "integer",
					"description": "Anzahl der Wuerfel (Standard: 1)",
					"default":     1,
				},
			},
			"required": []any{},
		},
		Origin:  tools.OriginBuiltin,
		Handler: rollDice,
	}
}

func rollDice(ctx context.Context, hc *tools.Context, args map[string]any) (map[string]any, error) {
	sides := clamp(argInt(args, "sides", 6), 2, 100)
	count := clamp(argInt(args, "count", 1), 1, 20)

	rolls := make([]int, count)
	total := 0
	for i := range rolls {
		rolls[i] = rand.Intn(sides) + 1
		total += rolls[i]
	}
	return map[string]any{
		"rolls": rolls,
		"total": total,
		"sides": sides,
		"count": count,
	}, nil
}
