package coding

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConstraints(t *testing.T) {
	t.Run("none", func(t *testing.T) {
		c, err := NewConstraints(nil, nil)
		require.NoError(t, err)
		assert.Nil(t, c)
		assert.NoError(t, c.CheckWrite("anything.go"))
		assert.Empty(t, c.Describe())
	})

	t.Run("allowed and denied", func(t *testing.T) {
		c, err := NewConstraints([]string{"pkg/**", "*.go"}, []string{"**/generated/**", "**.pb.go"})
		require.NoError(t, err)

		tests := []struct {
			path  string
			allow bool
		}{
			{"pkg/pager/pager.go", true},
			{"main.go", true},
			{"cmd/app/main.go", false},
			{"pkg/generated/api.go", false},
			{"pkg/api/api.pb.go", false},
			{"README.md", false},
		}
		for _, tt := range tests {
			err := c.CheckWrite(tt.path)
			if tt.allow {
				assert.NoError(t, err, tt.path)
			} else {
				assert.Error(t, err, tt.path)
			}
		}

		desc := c.Describe()
		assert.Contains(t, desc, "You may only write files matching: pkg/**, *.go")
		assert.Contains(t, desc, "You must not write files matching: **/generated/**, **.pb.go")
	})

	t.Run("denied only", func(t *testing.T) {
		c, err := NewConstraints(nil, []string{"go.mod", "go.sum"})
		require.NoError(t, err)
		assert.Error(t, c.CheckWrite("go.mod"))
		assert.NoError(t, c.CheckWrite("internal/x.go"))
	})
}
