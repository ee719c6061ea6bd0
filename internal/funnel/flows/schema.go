package flows

import (
	"encoding/json"
	"fmt"
)

const (
	schemaBool   = `{"type":"boolean"}`
	schemaNumber = `{"type":"number","minimum":0}`
	schemaDate   = `{"type":"string","pattern":"^(\\d{4}-\\d{2}-\\d{2})?$"}`
	schemaEmail  = `{"type":"string","maxLength":254}`
)

func schemaString(maxLength int) string {
	return fmt.Sprintf(`{"type":"string","maxLength":%d}`, maxLength)
}

func schemaEnum(values ...string) string {
	return fmt.Sprintf(`{"type":"string","enum":%s}`, mustJSON(append([]string{""}, values...)))
}

func schemaEnumArray(values ...string) string {
	return fmt.Sprintf(`{"type":"array","uniqueItems":true,"items":{"type":"string","enum":%s}}`, mustJSON(values))
}

func schemaStringArray(maxItems int) string {
	return fmt.Sprintf(`{"type":"array","maxItems":%d,"items":{"type":"string","maxLength":200}}`, maxItems)
}

// schemaObjectArray builds an array of objects with the given property schemas.
func schemaObjectArray(maxItems int, props map[string]string) string {
	raw := make(map[string]json.RawMessage, len(props))
	for k, v := range props {
		raw[k] = json.RawMessage(v)
	}
	return fmt.Sprintf(`{"type":"array","maxItems":%d,"items":{"type":"object","additionalProperties":false,"properties":%s}}`,
		maxItems, mustJSON(raw))
}

func mustJSON(v interface{}) string {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(b)
}
