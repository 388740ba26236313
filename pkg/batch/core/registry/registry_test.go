package registry_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/serendip/pkg/batch/core/registry"
)

const axesYAML = `
axis_templates:
  synesthesia:
    template: "Render the {SENSATION} of {SUBJECT}. {context} {h1} {h2}"
  macro_micro:
    template: "Zoom into {SUBJECT} with {{literal braces}}"
    placeholders: [SUBJECT]
`

const vocabYAML = `
vocab:
  SENSATION: [warmth, static]
  SUBJECT:
    animals: [otter, heron]
    machines: [lathe]
    _weights:
      machines: 3
`

const domainsYAML = `
domains:
  - domain_id: kitchen
    bundle: food
    context: A busy kitchen.
    hints: [steam, knives]
`

func parse(t *testing.T) *registry.Registry {
	t.Helper()
	r, err := registry.Parse([]byte(axesYAML), []byte(vocabYAML), []byte(domainsYAML))
	require.NoError(t, err)
	return r
}

func TestParseDerivesPlaceholdersAndKeepsOrder(t *testing.T) {
	r := parse(t)

	assert.Equal(t, []string{"synesthesia", "macro_micro"}, r.AxisIDs())
	axis, ok := r.Axis("synesthesia")
	require.True(t, ok)
	assert.Equal(t, []string{"SENSATION", "SUBJECT"}, axis.Placeholders)

	subject, ok := r.Category("SUBJECT")
	require.True(t, ok)
	require.True(t, subject.Tagged())
	assert.Equal(t, "animals", subject.Tags[0].Name)
	assert.Equal(t, "machines", subject.Tags[1].Name)
	assert.Equal(t, 3.0, subject.TagWeight("machines"))
	assert.Equal(t, 1.0, subject.TagWeight("animals"))
	assert.Equal(t, []string{"otter", "heron", "lathe"}, subject.All())
	assert.Equal(t, "machines", subject.TagOf("lathe"))

	d, ok := r.Domain("kitchen")
	require.True(t, ok)
	assert.Equal(t, "food", d.Bundle)
}

func TestValidate(t *testing.T) {
	r := parse(t)
	assert.NoError(t, r.Validate([]string{"synesthesia", "macro_micro"}, true, true))

	err := r.Validate([]string{"synesthesia", "unknown"}, false, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `axis "unknown" has no template`)
}

func TestValidateMissingVocabulary(t *testing.T) {
	r, err := registry.Parse([]byte(`
axis_templates:
  a:
    template: "{COLOR} {SHAPE}"
`), []byte("vocab:\n  COLOR: [red]\n  SHAPE: []\n"), nil)
	require.NoError(t, err)

	err = r.Validate([]string{"a"}, false, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "vocab missing for placeholder SHAPE")
}

func TestValidateRequiresTwoHints(t *testing.T) {
	r, err := registry.Parse([]byte(axesYAML), []byte(vocabYAML), []byte(`
domains:
  - domain_id: sparse
    context: x
    hints: [one]
`))
	require.NoError(t, err)

	assert.NoError(t, r.Validate([]string{"synesthesia"}, true, false))
	err = r.Validate([]string{"synesthesia"}, true, true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least 2 hints")
}

func TestParseRejectsMalformedCategory(t *testing.T) {
	_, err := registry.Parse([]byte(axesYAML), []byte("vocab:\n  SUBJECT: 12\n"), nil)
	assert.Error(t, err)
}

func TestLoadFromDirectory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, registry.AxisTemplatesFile), []byte(axesYAML), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, registry.VocabFile), []byte(vocabYAML), 0o644))

	r, err := registry.Load(dir)
	require.NoError(t, err)
	assert.Empty(t, r.Domains())

	_, err = registry.Load(t.TempDir())
	assert.Error(t, err)
}

func TestRender(t *testing.T) {
	out, err := registry.Render("A {X} and {{Y}} {X}", map[string]string{"X": "fox"})
	require.NoError(t, err)
	assert.Equal(t, "A fox and {Y} fox", out)

	_, err = registry.Render("A {MISSING}", map[string]string{})
	assert.Error(t, err)

	_, err = registry.Render("A {X", map[string]string{"X": "x"})
	assert.Error(t, err)

	fields, err := registry.Fields("{A} {{B}} {C} {A}")
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "C"}, fields)
}
