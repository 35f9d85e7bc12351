package api

import (
	"bytes"
	"encoding/json"
)

// pagedList decodes either a bare JSON array or an object wrapping it under
// one of the usual envelope keys. Elements are decoded one by one; an element
// that does not fit T is dropped and counted instead of failing the page.
type pagedList[T any] struct {
	out     *[]T
	key     string
	dropped int
}

func listOf[T any](out *[]T, key string) *pagedList[T] {
	return &pagedList[T]{out: out, key: key}
}

func (p *pagedList[T]) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*p.out = []T{}
		return nil
	}
	if data[0] == '[' {
		return p.decodeElements(data)
	}
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(data, &envelope); err != nil {
		return err
	}
	for _, key := range []string{p.key, "content", "items", "data"} {
		raw, ok := envelope[key]
		if !ok {
			continue
		}
		return p.decodeElements(raw)
	}
	*p.out = []T{}
	return nil
}

func (p *pagedList[T]) decodeElements(data []byte) error {
	var elements []json.RawMessage
	if err := json.Unmarshal(data, &elements); err != nil {
		return err
	}
	out := make([]T, 0, len(elements))
	for _, element := range elements {
		var item T
		if err := json.Unmarshal(element, &item); err != nil {
			p.dropped++
			continue
		}
		out = append(out, item)
	}
	*p.out = out
	return nil
}
