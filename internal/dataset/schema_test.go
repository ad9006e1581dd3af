package dataset

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateLinksV1(t *testing.T) {
	t.Parallel()
	valid := `{"title":"Community Links","categories":[
		{"name":"General","links":[{"label":"Site","url":"https://example.org"}]},
		{"name":"Community","links":[]}
	]}`
	assert.NoError(t, Validate(SchemaLinksV1, []byte(valid)))

	assert.Error(t, Validate(SchemaLinksV1, []byte(`{"categories":[]}`)), "empty categories")
	assert.Error(t, Validate(SchemaLinksV1, []byte(`{"categories":[{"name":""}]}`)), "missing name")
	assert.Error(t, Validate(SchemaLinksV1, []byte(`{"categories":[{"name":"G","links":[{"label":"x"}]}]}`)), "missing url")
}

func TestValidateFAQV1(t *testing.T) {
	t.Parallel()
	assert.NoError(t, Validate(SchemaFAQV1, []byte(`{"entries":[{"question":"Q","answer":"A"}]}`)))
	assert.Error(t, Validate(SchemaFAQV1, []byte(`{"entries":[]}`)))
	assert.Error(t, Validate(SchemaFAQV1, []byte(`{"entries":[{"question":"Q"}]}`)))
}

func TestValidateGenericShapes(t *testing.T) {
	t.Parallel()
	assert.NoError(t, Validate(SchemaObject, []byte(`{"any":"thing"}`)))
	assert.Error(t, Validate(SchemaObject, []byte(`[1,2]`)))
	assert.NoError(t, Validate(SchemaArray, []byte(`[1,2]`)))
	assert.Error(t, Validate(SchemaArray, []byte(`{"a":1}`)))
	assert.Error(t, Validate(SchemaObject, []byte(``)))
}

func TestValidateUnknownSchema(t *testing.T) {
	t.Parallel()
	assert.Error(t, Validate("csv.v9", []byte(`{}`)))
}
