package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKey(t *testing.T) {
	assert.Equal(t, "registrar:notifications:user-1:STUDENT:20", Key("notifications", "user-1", "STUDENT", "20"))
	assert.Equal(t, "registrar:notifications:*", Key("notifications", "*"))
}
