package directory

import (
	"strings"
	"testing"

	"github.com/carelink/portal/internal/platform/db"
)

// Guards against the repository selecting a column the profiles migration
// never creates.
func TestProfileColumnsExistInSchema(t *testing.T) {
	var ddl string
	for _, m := range db.Migrations {
		if m.Name == "profiles" {
			ddl = m.SQL
		}
	}
	if ddl == "" {
		t.Fatal("profiles migration not found")
	}

	for _, col := range strings.Split(profileCols, ", ") {
		if !strings.Contains(ddl, col) {
			t.Errorf("query selects %q but the profiles migration does not create it", col)
		}
	}
}
