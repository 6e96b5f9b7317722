package vectorstore

import "neurospace-backend/internal/logger"

// Metadata filter operators accepted by the index.
var supportedOperators = map[string]bool{
	"$eq":  true,
	"$ne":  true,
	"$gt":  true,
	"$gte": true,
	"$lt":  true,
	"$lte": true,
	"$in":  true,
	"$nin": true,
}

// BuildFilter sanitizes a caller-supplied metadata filter. Bare values
// become implicit equality clauses; operator maps keep only supported
// operators. Anything unusable is dropped with a warning instead of
// failing the whole query: a malformed filter degrades to a broader
// search, never an error.
func BuildFilter(raw map[string]any) map[string]any {
	if len(raw) == 0 {
		return nil
	}

	sanitized := make(map[string]any, len(raw))
	for key, value := range raw {
		if value == nil {
			logger.Warn("Dropping nil filter value", "key", key)
			continue
		}

		opMap, ok := value.(map[string]any)
		if !ok {
			// Bare literal: implicit equality.
			sanitized[key] = map[string]any{"$eq": value}
			continue
		}

		cleaned := make(map[string]any, len(opMap))
		for op, operand := range opMap {
			if !supportedOperators[op] {
				logger.Warn("Dropping unsupported filter operator", "key", key, "operator", op)
				continue
			}
			if op == "$in" || op == "$nin" {
				list, ok := toList(operand)
				if !ok || len(list) == 0 {
					// An empty $in matches nothing, which is never what
					// the caller meant; drop the clause instead.
					logger.Warn("Dropping empty or non-list set operator", "key", key, "operator", op)
					continue
				}
				cleaned[op] = list
				continue
			}
			cleaned[op] = operand
		}

		if len(cleaned) > 0 {
			sanitized[key] = cleaned
		}
	}

	if len(sanitized) == 0 {
		return nil
	}
	return sanitized
}

func toList(operand any) ([]any, bool) {
	switch v := operand.(type) {
	case []any:
		return v, true
	case []string:
		list := make([]any, len(v))
		for i, s := range v {
			list[i] = s
		}
		return list, true
	default:
		return nil, false
	}
}
