package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNextSessionVersion(t *testing.T) {
	assert.Equal(t, int64(2), NextSessionVersion(1))
	assert.Equal(t, int64(101), NextSessionVersion(100))
}

func TestNextEntityVersion(t *testing.T) {
	assert.Equal(t, int64(2), NextEntityVersion(1))
	var v int64 = 1
	for i := 0; i < 5; i++ {
		v = NextEntityVersion(v)
	}
	assert.Equal(t, int64(6), v)
}
