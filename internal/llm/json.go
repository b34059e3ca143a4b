package llm

import "strings"

// CleanJSONResponse removes markdown code fences from a model response.
func CleanJSONResponse(resp string) string {
	resp = strings.TrimSpace(resp)
	resp = strings.TrimPrefix(resp, "```json")
	resp = strings.TrimPrefix(resp, "```")
	resp = strings.TrimSuffix(resp, "```")
	return strings.TrimSpace(resp)
}

// ExtractJSON finds the first balanced JSON object in a response.
// Returns "" when no balanced object exists. Brace counting ignores
// braces inside string literals.
func ExtractJSON(response string) string {
	start := strings.Index(response, "{")
	if start == -1 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(response); i++ {
		c := response[i]
		if escaped {
			escaped = false
			continue
		}
		switch c {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					return response[start : i+1]
				}
			}
		}
	}

	return ""
}

// RecoverJSON applies fence stripping then brace balancing, the lossy
// parse path for model JSON contracts.
func RecoverJSON(response string) string {
	cleaned := CleanJSONResponse(response)
	if extracted := ExtractJSON(cleaned); extracted != "" {
		return extracted
	}
	return cleaned
}
