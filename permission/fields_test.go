package permission

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func entryWithFields(allow, deny FieldSet) EffectivePermission {
	return EffectivePermission{
		PermissionKey: "doc:read:get",
		Scope:         ScopeAny,
		AllowFields:   allow,
		DenyFields:    deny,
	}
}

func TestCheckFieldsDenyList(t *testing.T) {
	p := entryWithFields(nil, FieldSet{SourceJSON: {"ssn"}})

	err := CheckFields(p, FieldPolicyDenyList, RequestKeys{SourceJSON: {"name", "ssn"}})
	require.Error(t, err)
	require.ErrorIs(t, err, ErrFieldsNotAllowed)

	var fe *FieldError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, SourceJSON, fe.Source)
	assert.Equal(t, []string{"ssn"}, fe.Fields)

	require.NoError(t, CheckFields(p, FieldPolicyDenyList, RequestKeys{SourceJSON: {"name"}}))
	require.NoError(t, CheckFields(p, FieldPolicyDenyList, RequestKeys{SourceQuery: {"ssn"}}))
}

func TestCheckFieldsAllowList(t *testing.T) {
	p := entryWithFields(FieldSet{SourceQuery: {"limit", "offset"}}, nil)

	err := CheckFields(p, FieldPolicyAllowList, RequestKeys{SourceQuery: {"limit", "sort", "filter"}})
	var fe *FieldError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, []string{"filter", "sort"}, fe.Fields)

	require.NoError(t, CheckFields(p, FieldPolicyAllowList, RequestKeys{SourceQuery: {"limit"}}))
	// sources without an allow set are unrestricted
	require.NoError(t, CheckFields(p, FieldPolicyAllowList, RequestKeys{SourceJSON: {"anything"}}))
}

func TestCheckFieldsMixedAppliesDenyFirst(t *testing.T) {
	p := entryWithFields(
		FieldSet{SourceJSON: {"email", "name"}},
		FieldSet{SourceJSON: {"email"}},
	)

	err := CheckFields(p, FieldPolicyMixed, RequestKeys{SourceJSON: {"email"}})
	var fe *FieldError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, []string{"email"}, fe.Fields)

	err = CheckFields(p, FieldPolicyMixed, RequestKeys{SourceJSON: {"name", "role"}})
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, []string{"role"}, fe.Fields)
}

func TestCheckFieldsEmptyGrantsAcceptEverything(t *testing.T) {
	p := entryWithFields(FieldSet{}, FieldSet{})
	for _, policy := range []FieldPolicy{FieldPolicyNone, FieldPolicyDenyList, FieldPolicyAllowList, FieldPolicyMixed} {
		require.NoError(t, CheckFields(p, policy, RequestKeys{SourceJSON: {"ssn"}, SourceQuery: {"q"}}))
	}
}

func TestCollectKeysNested(t *testing.T) {
	body := map[string]any{
		"name": "x",
		"profile": map[string]any{
			"ssn": "1",
			"tags": []any{
				map[string]any{"label": "a"},
				"plain",
			},
		},
	}

	keys, err := CollectKeys(body, DefaultKeyDepth)
	require.NoError(t, err)
	assert.Equal(t, []string{"label", "name", "profile", "ssn", "tags"}, keys)
}

func TestCollectKeysDepthLimit(t *testing.T) {
	body := map[string]any{"a": map[string]any{"b": map[string]any{"c": 1}}}

	_, err := CollectKeys(body, 1)
	require.ErrorIs(t, err, ErrKeyDepthExceeded)

	keys, err := CollectKeys(body, 0)
	require.NoError(t, err)
	assert.Len(t, keys, 3)
}

func TestKeyAndParseKey(t *testing.T) {
	key := Key("Doc", ActionRead, "Get")
	assert.Equal(t, "doc:read:get", key)

	res, action, op, err := ParseKey(key)
	require.NoError(t, err)
	assert.Equal(t, "doc", res)
	assert.Equal(t, ActionRead, action)
	assert.Equal(t, "get", op)

	_, _, _, err = ParseKey("doc:fly:get")
	require.Error(t, err)
	_, _, _, err = ParseKey("doc:read")
	require.Error(t, err)
}
