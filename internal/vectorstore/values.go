package vectorstore

import "github.com/qdrant/go-client/qdrant"

// Payload decode helpers. Qdrant payload values are a protobuf union; these
// return the typed zero value on absence or kind mismatch, which matches the
// default-as-empty payload contract.

// PayloadString extracts a string field.
func PayloadString(p map[string]*qdrant.Value, key string) string {
	if v, ok := p[key]; ok {
		return v.GetStringValue()
	}
	return ""
}

// PayloadInt extracts an integer field. Doubles are truncated, which covers
// payloads written through the JSON path.
func PayloadInt(p map[string]*qdrant.Value, key string) int64 {
	v, ok := p[key]
	if !ok {
		return 0
	}
	if _, isDouble := v.GetKind().(*qdrant.Value_DoubleValue); isDouble {
		return int64(v.GetDoubleValue())
	}
	return v.GetIntegerValue()
}

// PayloadFloat extracts a floating-point field.
func PayloadFloat(p map[string]*qdrant.Value, key string) float64 {
	v, ok := p[key]
	if !ok {
		return 0
	}
	if _, isInt := v.GetKind().(*qdrant.Value_IntegerValue); isInt {
		return float64(v.GetIntegerValue())
	}
	return v.GetDoubleValue()
}

// PayloadBool extracts a boolean field.
func PayloadBool(p map[string]*qdrant.Value, key string) bool {
	if v, ok := p[key]; ok {
		return v.GetBoolValue()
	}
	return false
}

// PayloadStrings extracts a list-of-strings field, skipping non-string
// entries.
func PayloadStrings(p map[string]*qdrant.Value, key string) []string {
	v, ok := p[key]
	if !ok {
		return nil
	}
	list := v.GetListValue()
	if list == nil {
		return nil
	}
	out := make([]string, 0, len(list.GetValues()))
	for _, e := range list.GetValues() {
		if s := e.GetStringValue(); s != "" {
			out = append(out, s)
		}
	}
	return out
}
