package control

import (
	"strconv"

	"github.com/fledge-iot/fledge-north-opcua/internal/domain"
)

// RenderEvent converts a written value to the string handed to the write
// callback. It reports false for null values, which are not forwarded.
func RenderEvent(v domain.Value) (string, bool) {
	switch val := v.(type) {
	case nil, domain.Null:
		return "", false
	case domain.DateTime:
		return domain.FormatDateTime(val), true
	case domain.Integer:
		return strconv.FormatInt(int64(val), 10), true
	case domain.Float:
		return strconv.FormatFloat(float64(val), 'f', 6, 64), true
	case domain.String:
		return string(val), true
	default:
		return domain.Render(val), true
	}
}
