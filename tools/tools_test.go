package tools_test

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/sqlagent/mocks/mocktools"
	"github.com/effective-security/sqlagent/tools"
	"github.com/invopop/jsonschema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func mockTool(ctrl *gomock.Controller, name string) *mocktools.MockITool {
	m := mocktools.NewMockITool(ctrl)
	m.EXPECT().Name().Return(name).AnyTimes()
	m.EXPECT().Description().Return("runs " + name).AnyTimes()
	m.EXPECT().Parameters().Return(&jsonschema.Schema{Type: "object"}).AnyTimes()
	return m
}

func TestRegistry(t *testing.T) {
	ctrl := gomock.NewController(t)
	q := mockTool(ctrl, "query_db")
	l := mockTool(ctrl, "list_tables")

	r, err := tools.NewRegistry(q, l)
	require.NoError(t, err)
	assert.Equal(t, 2, r.Len())
	assert.Equal(t, []string{"query_db", "list_tables"}, r.Names())

	got, ok := r.Get("list_tables")
	require.True(t, ok)
	assert.Equal(t, "list_tables", got.Name())

	_, ok = r.Get("LIST_TABLES")
	assert.False(t, ok)
	_, ok = r.Get("list")
	assert.False(t, ok)

	defs := r.Definitions()
	require.Len(t, defs, 2)
	assert.Equal(t, "function", defs[0].Type)
	assert.Equal(t, "query_db", defs[0].Function.Name)
	assert.Equal(t, "runs query_db", defs[0].Function.Description)
	assert.Equal(t, "object", defs[0].Function.Parameters.Type)

	_, err = tools.NewRegistry(q, mockTool(ctrl, "query_db"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, tools.ErrDuplicateTool))
	assert.EqualError(t, err, `duplicate tool name: "query_db"`)

	empty, err := tools.NewRegistry()
	require.NoError(t, err)
	assert.Empty(t, empty.Definitions())
}

func TestGetDescriptions(t *testing.T) {
	ctrl := gomock.NewController(t)
	d := tools.GetDescriptions(mockTool(ctrl, "query_db"))
	assert.Equal(t, "Tools:\n    - Name: query_db\n      Description: runs query_db\n", d)
}
