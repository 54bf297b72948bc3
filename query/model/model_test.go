package model_test

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/microtan/shaolinq/query/model"
)

const shopYAML = `
entities:
  - name: Region
    properties:
      - {name: Code, type: string, primaryKey: true}
  - name: Address
    properties:
      - {name: Street, type: string, primaryKey: true}
      - {name: Region, type: Region, primaryKey: true}
      - {name: City, type: string}
  - name: Person
    table: People
    defaultFilter: "p => !p.Deleted"
    properties:
      - {name: Id, type: int, primaryKey: true}
      - {name: Name, type: string}
      - {name: Address, type: Address, nullable: true}
      - {name: Deleted, type: bool}
`

func TestColumnInfosFlattenNestedKeys(t *testing.T) {
	m, err := model.Parse([]byte(shopYAML), "yaml")
	require.NoError(t, err)

	person, err := m.Type("Person")
	require.NoError(t, err)
	assert.Equal(t, "People", person.Table)

	var names, paths []string
	for _, c := range model.ColumnInfos(person) {
		names = append(names, c.ColumnName)
		paths = append(paths, c.PathString())
	}
	assert.Equal(t, []string{"Id", "Name", "AddressStreet", "AddressRegionCode", "Deleted"}, names)
	assert.Equal(t, []string{"Id", "Name", "Address.Street", "Address.Region.Code", "Deleted"}, paths)
}

func TestPrimaryKeyColumns(t *testing.T) {
	m, err := model.Parse([]byte(shopYAML), "yaml")
	require.NoError(t, err)

	address, err := m.Type("Address")
	require.NoError(t, err)

	keys := model.PrimaryKeyColumns(address)
	require.Len(t, keys, 2)
	assert.Equal(t, "Street", keys[0].ColumnName)
	assert.Equal(t, "RegionCode", keys[1].ColumnName)
	assert.Equal(t, "Region", keys[1].ForeignType.Name)
}

func TestLoadFileTOML(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/m/model.toml", []byte(`
[[entities]]
name = "Person"

  [[entities.properties]]
  name = "Id"
  type = "int"
  primaryKey = true

  [[entities.properties]]
  name = "Age"
  type = "int"
`), 0o644))

	m, err := model.LoadFile(fs, "/m/model.toml")
	require.NoError(t, err)

	person, err := m.Type("Person")
	require.NoError(t, err)
	assert.Len(t, person.Properties, 2)
	assert.Equal(t, "Person", person.Table)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		err  error
	}{
		{
			name: "missing primary key",
			yaml: `
entities:
  - name: Person
    properties:
      - {name: Name, type: string}
`,
			err: model.ErrNoPrimaryKey,
		},
		{
			name: "unknown related type",
			yaml: `
entities:
  - name: Person
    properties:
      - {name: Id, type: int, primaryKey: true}
      - {name: Pet, type: Dog}
`,
			err: model.ErrUnknownType,
		},
		{
			name: "key cycle",
			yaml: `
entities:
  - name: A
    properties:
      - {name: B, type: B, primaryKey: true}
  - name: B
    properties:
      - {name: A, type: A, primaryKey: true}
`,
			err: model.ErrKeyCycle,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := model.Parse([]byte(tt.yaml), "yaml")
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.err)
		})
	}
}
