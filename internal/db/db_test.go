package db

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDialector_Scheme(t *testing.T) {
	cases := map[string]string{
		"postgres://u:p@localhost:5432/x?sslmode=disable": "postgres",
		"postgresql://u:p@localhost/x":                    "postgres",
		"sqlite://local.db":                               "sqlite",
		"file::memory:?cache=shared":                      "sqlite",
		"mysql://app:pw@tcp(127.0.0.1:3306)/x":            "mysql",
		"app:pw@tcp(127.0.0.1:3306)/x":                    "mysql",
	}
	for dsn, want := range cases {
		d, err := Dialector(dsn)
		require.NoError(t, err, dsn)
		assert.Equal(t, want, d.Name(), dsn)
	}
}

func TestDialector_Empty(t *testing.T) {
	_, err := Dialector("  ")
	assert.Error(t, err)
}

func TestConnect_SQLiteMemory(t *testing.T) {
	gdb, err := Connect("file:db_connect_test?mode=memory&cache=shared")
	require.NoError(t, err)
	require.NoError(t, gdb.Exec("SELECT 1").Error)
}
