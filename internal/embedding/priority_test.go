package embedding

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cloo-solutions/codelens/internal/domain"
)

func TestPriority(t *testing.T) {
	tests := []struct {
		path string
		want int
	}{
		{"src/index.ts", PriorityEntryPoint},
		{"main.py", PriorityEntryPoint},
		{"server.js", PriorityEntryPoint},
		{"src/lib/cache.ts", PriorityLibrary},
		{"app/services/Billing.java", PriorityLibrary},
		{"src/components/Button.tsx", PriorityUI},
		{"src/Widget.jsx", PriorityUI},
		{"src/routes/users.js", PriorityAPI},
		{"api/handlers/login.py", PriorityAPI},
		{"scripts/release.sh", PriorityOther},
		{"webpack.config.js", PriorityConfig},
		{"src/types/user.d.ts", PriorityConfig},
		{"package.json", PriorityConfig},
		{"src/auth.test.ts", PriorityTest},
		{"tests/test_auth.py", PriorityTest},
		{"src/__tests__/index.js", PriorityTest},
		{"src/test/java/CartTest.java", PriorityTest},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, Priority(tt.path))
		})
	}
}

func TestPrioritize_StableWithinTier(t *testing.T) {
	chunks := []domain.CodeChunk{
		{ID: "t1", FilePath: "src/auth.test.js"},
		{ID: "o1", FilePath: "scripts/a.sh"},
		{ID: "o2", FilePath: "scripts/b.js"},
		{ID: "m1", FilePath: "src/index.js"},
		{ID: "o3", FilePath: "scripts/c.js"},
		{ID: "m2", FilePath: "src/index.js"},
	}

	out := Prioritize(chunks)

	ids := make([]string, len(out))
	for i, c := range out {
		ids[i] = c.ID
	}
	assert.Equal(t, []string{"m1", "m2", "o2", "o3", "o1", "t1"}, ids)
	assert.Equal(t, "t1", chunks[0].ID, "input is not reordered")
}
