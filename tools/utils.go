package tools

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-gl/mathgl/mgl64"
)

func FmtJSONString(v interface{}) string {
	data, err := json.Marshal(v)
	if err != nil {
		return "marshal data fail"
	}
	return string(data)
}

// ParseVec3 parses three comma separated numbers, e.g. "4198944.1,717440.9,4709231.0"
func ParseVec3(value string) (mgl64.Vec3, error) {
	parts := strings.Split(value, ",")
	if len(parts) != 3 {
		return mgl64.Vec3{}, fmt.Errorf("expected 3 comma separated numbers, got %q", value)
	}
	var out mgl64.Vec3
	for i, part := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return mgl64.Vec3{}, fmt.Errorf("component %d of %q: %w", i, value, err)
		}
		out[i] = f
	}
	return out, nil
}
