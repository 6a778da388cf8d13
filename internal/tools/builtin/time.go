package builtin

import (
	"context"
	"strings"
	"time"

	"github.com/openguenther/guenther/internal/tools"
)

func currentTimeTool() tools.Descriptor {
	return tools.Descriptor{
		Name:        "get_current_time",
		Description: "Gibt die aktuelle Uhrzeit zurueck. Kann eine Zeitzone und ein Format angeben.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"timezone": map[string]any{
					"type":        "string",
					"description": "Zeitzone, z.B. 'Europe/Berlin', 'UTC', 'US/Eastern'",
					"default":     "Europe/Berlin",
				},
				"format": map[string]any{
					"type":        "string",
					"description": "Zeitformat, z.B. '%H:%M:%S', '%Y-%m-%d %H:%M:%S'",
					"default":     "%Y-%m-%d %H:%M:%S",
				},
			},
			"required": []any{},
		},
		Origin:  tools.OriginBuiltin,
		Handler: currentTime,
	}
}

func currentTime(ctx context.Context, hc *tools.Context, args map[string]any) (map[string]any, error) {
	zone := argString(args, "timezone", "Europe/Berlin")
	format := argString(args, "format", "%Y-%m-%d %H:%M:%S")

	loc, err := time.LoadLocation(zone)
	if err != nil {
		loc = time.UTC
	}
	now := time.Now().In(loc)
	return map[string]any{
		"time":     now.Format(strftimeLayout(format)),
		"timezone": zone,
		"iso":      now.Format(time.RFC3339),
	}, nil
}

var strftimeTokens = map[byte]string{
	'Y': "2006",
	'y': "06",
	'm': "01",
	'd': "02",
	'H': "15",
	'I': "03",
	'M': "04",
	'S': "05",
	'p': "PM",
	'a': "Mon",
	'A': "Monday",
	'b': "Jan",
	'B': "January",
	'z': "-0700",
	'Z': "MST",
	'%': "%",
}

// strftimeLayout translates the strftime tokens the model tends to send
// into a Go reference layout. Unknown tokens pass through literally.
func strftimeLayout(format string) string {
	var b strings.Builder
	for i := 0; i < len(format); i++ {
		if format[i] != '%' || i+1 == len(format) {
			b.WriteByte(format[i])
			continue
		}
		i++
		if layout, ok := strftimeTokens[format[i]]; ok {
			b.WriteString(layout)
		} else {
			b.WriteByte(format[i])
		}
	}
	return b.String()
}
