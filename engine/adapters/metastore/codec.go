package metastore

import (
	"encoding/json"
	"strings"

	"github.com/mevzuatgpt/mevzuatgpt-server/engine/domain"
)

func joinCSV(items []string) string {
	return strings.Join(items, ",")
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

func encodeStringMap(m map[string]string) string {
	if len(m) == 0 {
		return ""
	}
	b, _ := json.Marshal(m)
	return string(b)
}

func decodeStringMap(s string) map[string]string {
	if s == "" {
		return nil
	}
	var m map[string]string
	_ = json.Unmarshal([]byte(s), &m)
	return m
}

func encodeSourceRefs(refs []domain.SourceRef) string {
	if len(refs) == 0 {
		return ""
	}
	b, _ := json.Marshal(refs)
	return string(b)
}

func decodeSourceRefs(s string) []domain.SourceRef {
	if s == "" {
		return nil
	}
	var refs []domain.SourceRef
	_ = json.Unmarshal([]byte(s), &refs)
	return refs
}
