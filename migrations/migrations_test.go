package migrations

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deelflow/deelflow/internal/shared"
)

func TestMigrationsArePaired(t *testing.T) {
	files, err := fs.Glob(FS, "*.sql")
	require.NoError(t, err)
	require.NotEmpty(t, files)

	ups := map[string]bool{}
	downs := map[string]bool{}
	for _, name := range files {
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			ups[strings.TrimSuffix(name, ".up.sql")] = true
		case strings.HasSuffix(name, ".down.sql"):
			downs[strings.TrimSuffix(name, ".down.sql")] = true
		default:
			t.Fatalf("unexpected migration file %s", name)
		}
	}
	assert.Equal(t, ups, downs)
}

func TestSeedCoversPermissionCatalog(t *testing.T) {
	data, err := fs.ReadFile(FS, "0002_seed_permissions.up.sql")
	require.NoError(t, err)
	seed := string(data)

	for _, def := range shared.PermissionCatalog() {
		row := "('" + def.Name + "', '" + def.Label + "', '" + def.Group + "')"
		assert.Contains(t, seed, row, "permission %s missing from seed", def.Name)
	}
}
