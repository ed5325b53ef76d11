package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestObjectKey(t *testing.T) {
	assert.Equal(t, "scope/src/a.go", objectKey("scope", "src/a.go"))
	assert.Equal(t, "scope/src/a.go", objectKey("scope", "/src/a.go"))
}

func TestSplitList(t *testing.T) {
	assert.Nil(t, splitList(""))
	assert.Equal(t, []string{"os", "sys"}, splitList("os,sys"))
}
