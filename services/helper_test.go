package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNames(t *testing.T) {
	assert.Equal(t, "labeling-test", ContainerName("labeling", "test"))
	assert.Equal(t, "my-project-api", ContainerName("My Project", "api"))
	assert.Equal(t, "labeling", NetworkName("labeling"))
	assert.Equal(t, "labeling-build:abc123def456", ImageTag("labeling", "abc123def456"))
}
