package builtin

import (
	"context"
	"crypto/rand"
	"math/big"

	"github.com/openguenther/guenther/internal/tools"
)

const (
	lowerChars   = "abcdefghijklmnopqrstuvwxyz"
	upperChars   = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	digitChars   = "0123456789"
	specialChars = "!@#$%&*+-=?"
)

func generatePasswordTool() tools.Descriptor {
	return tools.Descriptor{
		Name:        "generate_password",
		Description: "Generiert ein sicheres zufaelliges Passwort mit konfigurierbarer Laenge und Zeichentypen.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"length": map[string]any{
					"type":        "integer",
					"description": "Laenge des Passworts (Standard: 16, Min: 4, Max: 128)",
					"default":     16,
				},
				"include_special": map[string]any{
					"type":        "boolean",
					"description": "Sonderzeichen einschliessen (Standard: true)",
					"default":     true,
				},
				"include_numbers": map[string]any{
					"type":        "boolean",
					"description": "Zahlen einschliessen (Standard: true)",
					"default":     true,
				},
				"include_uppercase": map[string]any{
					"type":        "boolean",
					"description": "Grossbuchstaben einschliessen (Standard: true)",
					"default":     true,
				},
			},
			"required": []any{},
		},
		Origin:  tools.OriginBuiltin,
		Handler: generatePassword,
	}
}

func generatePassword(ctx context.Context, hc *tools.Context, args map[string]any) (map[string]any, error) {
	length := clamp(argInt(args, "length", 16), 4, 128)
	special := argBool(args, "include_special", true)
	numbers := argBool(args, "include_numbers", true)
	uppercase := argBool(args, "include_uppercase", true)

	// One character per enabled class is guaranteed, the rest is drawn
	// from the full pool.
	pool := lowerChars
	password := []byte{pick(lowerChars)}
	if uppercase {
		pool += upperChars
		password = append(password, pick(upperChars))
	}
	if numbers {
		pool += digitChars
		password = append(password, pick(digitChars))
	}
	if special {
		pool += specialChars
		password = append(password, pick(specialChars))
	}
	for len(password) < length {
		password = append(password, pick(pool))
	}
	shuffle(password)

	return map[string]any{
		"password":           string(password),
		"length":             length,
		"includes_special":   special,
		"includes_numbers":   numbers,
		"includes_uppercase": uppercase,
	}, nil
}

func pick(chars string) byte {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(len(chars))))
	if err != nil {
		panic(err)
	}
	return chars[n.Int64()]
}

func shuffle(b []byte) {
	for i := len(b) - 1; i > 0; i-- {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(i+1)))
		if err != nil {
			panic(err)
		}
		j := n.Int64()
		b[i], b[j] = b[j], b[i]
	}
}
