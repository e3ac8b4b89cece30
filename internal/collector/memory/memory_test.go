package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorRecordsItems(t *testing.T) {
	t.Parallel()

	c := New()
	require.NoError(t, c.Collect(context.Background(), "a", "b"))
	require.NoError(t, c.Collect(context.Background()))
	require.NoError(t, c.Collect(context.Background(), "c"))

	items := c.Items()
	assert.Equal(t, []any{"a", "b", "c"}, items)
	items[0] = "changed"
	assert.Equal(t, "a", c.Items()[0])
}
