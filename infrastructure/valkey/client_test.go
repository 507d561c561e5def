package valkey

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeyJoinsUnderPrefix(t *testing.T) {
	c := &Client{prefix: "yoman:"}
	assert.Equal(t, "yoman:session:972501234567", c.Key("session", "972501234567"))
	assert.Equal(t, "yoman", c.Key())

	bare := &Client{}
	assert.Equal(t, "dedup:abc", bare.Key("dedup", "abc"))
	assert.Equal(t, "", bare.Key())
}
