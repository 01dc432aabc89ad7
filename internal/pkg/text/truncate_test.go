package text

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTruncate(t *testing.T) {
	assert.Equal(t, "bridge down", Truncate("  bridge down \n", 0))
	assert.Equal(t, "bri...", Truncate("bridge down", 3))
	assert.Equal(t, "止损修...", Truncate("止损修改被拒绝", 3))
	assert.Equal(t, "ok", Truncate("ok", 10))
}
