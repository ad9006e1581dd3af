package dataset

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/zeebo/blake3"
)

// The schema set is small and closed. Each validator checks the structural
// shape a sandboxed service is entitled to rely on; anything looser would
// let a bad upstream document reach a sandbox.
const (
	SchemaLinksV1 = "links.v1"
	SchemaFAQV1   = "faq.v1"
	SchemaObject  = "object"
	SchemaArray   = "array"
)

type linksDocument struct {
	Title      string `json:"title,omitempty"`
	Categories []struct {
		Name  string `json:"name"`
		Links []struct {
			Label string `json:"label"`
			URL   string `json:"url"`
		} `json:"links"`
	} `json:"categories"`
}

type faqDocument struct {
	Entries []struct {
		Question string `json:"question"`
		Answer   string `json:"answer"`
	} `json:"entries"`
}

// validationMemo caches validation verdicts by (schema, content hash), so an
// unchanged document revalidates with a map lookup.
var validationMemo sync.Map // [32]byte -> error (nil for valid)

// Validate checks a raw document against a named schema.
func Validate(schema string, doc []byte) error {
	h := blake3.New()
	h.WriteString(schema)
	h.Write([]byte{0})
	h.Write(doc)
	var key [32]byte
	copy(key[:], h.Sum(nil))

	if cached, ok := validationMemo.Load(key); ok {
		if cached == nil {
			return nil
		}
		return cached.(error)
	}

	err := validate(schema, doc)
	if err == nil {
		validationMemo.Store(key, nil)
	} else {
		validationMemo.Store(key, err)
	}
	return err
}

func validate(schema string, doc []byte) error {
	trimmed := bytes.TrimSpace(doc)
	if len(trimmed) == 0 {
		return fmt.Errorf("document is empty")
	}

	switch schema {
	case SchemaObject:
		if trimmed[0] != '{' || !json.Valid(trimmed) {
			return fmt.Errorf("document is not a JSON object")
		}
		return nil

	case SchemaArray:
		if trimmed[0] != '[' || !json.Valid(trimmed) {
			return fmt.Errorf("document is not a JSON array")
		}
		return nil

	case SchemaLinksV1:
		var d linksDocument
		if err := strictUnmarshal(trimmed, &d); err != nil {
			return fmt.Errorf("links.v1: %w", err)
		}
		if len(d.Categories) == 0 {
			return fmt.Errorf("links.v1: categories must be non-empty")
		}
		for i, cat := range d.Categories {
			if cat.Name == "" {
				return fmt.Errorf("links.v1: categories[%d] missing name", i)
			}
			for j, l := range cat.Links {
				if l.Label == "" || l.URL == "" {
					return fmt.Errorf("links.v1: categories[%d].links[%d] requires label and url", i, j)
				}
			}
		}
		return nil

	case SchemaFAQV1:
		var d faqDocument
		if err := strictUnmarshal(trimmed, &d); err != nil {
			return fmt.Errorf("faq.v1: %w", err)
		}
		if len(d.Entries) == 0 {
			return fmt.Errorf("faq.v1: entries must be non-empty")
		}
		for i, e := range d.Entries {
			if e.Question == "" || e.Answer == "" {
				return fmt.Errorf("faq.v1: entries[%d] requires question and answer", i)
			}
		}
		return nil

	default:
		return fmt.Errorf("unknown dataset schema %q", schema)
	}
}

func strictUnmarshal(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
