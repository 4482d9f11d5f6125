// Package structured decodes JSON answers out of free-form model replies.
package structured

import (
	"encoding/json"
	"fmt"
	"strings"

	brainErrors "github.com/harunnryd/brain/internal/errors"

	"github.com/kaptinlin/jsonrepair"
)

type ParseMode string

const (
	ParseModeJSON      ParseMode = "json"
	ParseModeExtracted ParseMode = "json_extracted"
	ParseModeRepaired  ParseMode = "json_repaired"
)

// DecodeObject decodes the first JSON object found in raw into v.
func DecodeObject(raw string, v any) (ParseMode, error) {
	return decode(raw, '{', '}', v)
}

// DecodeArray decodes the first JSON array found in raw into v.
func DecodeArray(raw string, v any) (ParseMode, error) {
	return decode(raw, '[', ']', v)
}

func decode(raw string, open, close byte, v any) (ParseMode, error) {
	normalized := cleanModelJSON(raw)
	if normalized == "" {
		return "", brainErrors.InvalidModelOutput("empty model reply")
	}

	if strings.HasPrefix(normalized, string(open)) && json.Unmarshal([]byte(normalized), v) == nil {
		return ParseModeJSON, nil
	}

	candidate := extractFirstBalancedJSON(normalized, open, close)
	if candidate != "" && json.Unmarshal([]byte(candidate), v) == nil {
		return ParseModeExtracted, nil
	}

	if candidate == "" {
		// Truncated replies never balance; hand everything from the first
		// opening bracket to the repairer.
		idx := strings.IndexByte(normalized, open)
		if idx < 0 {
			return "", brainErrors.InvalidModelOutput(fmt.Sprintf("no JSON %s in model reply", kindOf(open)))
		}
		candidate = normalized[idx:]
	}

	repaired, err := jsonrepair.JSONRepair(candidate)
	if err != nil {
		return "", brainErrors.InvalidModelOutput(fmt.Sprintf("unrepairable JSON %s: %v", kindOf(open), err))
	}
	if err := json.Unmarshal([]byte(repaired), v); err != nil {
		return "", brainErrors.InvalidModelOutput(fmt.Sprintf("decode repaired JSON %s: %v", kindOf(open), err))
	}
	return ParseModeRepaired, nil
}

func kindOf(open byte) string {
	if open == '[' {
		return "array"
	}
	return "object"
}

func cleanModelJSON(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func extractFirstBalancedJSON(input string, open, close byte) string {
	start := -1
	depth := 0
	inString := false
	escaped := false

	for i := 0; i < len(input); i++ {
		ch := input[i]
		if inString {
			if escaped {
				escaped = false
				continue
			}
			if ch == '\\' {
				escaped = true
				continue
			}
			if ch == '"' {
				inString = false
			}
			continue
		}

		switch ch {
		case '"':
			if depth > 0 {
				inString = true
			}
		case open:
			if depth == 0 {
				start = i
			}
			depth++
		case close:
			if depth == 0 {
				continue
			}
			depth--
			if depth == 0 && start >= 0 {
				return strings.TrimSpace(input[start : i+1])
			}
		}
	}
	return ""
}

// Clamp01 bounds a model-reported confidence to [0,1].
func Clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
