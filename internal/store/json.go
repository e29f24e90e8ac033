package store

import "encoding/json"

func payloadJSON(m map[string]string) []byte {
	if m == nil {
		return []byte("{}")
	}
	b, err := json.Marshal(m)
	if err != nil {
		return []byte("{}")
	}
	return b
}

func payloadFromJSON(raw []byte) map[string]string {
	m := make(map[string]string)
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &m)
	}
	return m
}
