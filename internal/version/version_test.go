package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSetDefaultsEmptyVersion(t *testing.T) {
	t.Cleanup(func() { Set(Info{}) })

	Set(Info{Commit: "abc123"})
	got := Current()
	assert.Equal(t, "dev", got.Version)
	assert.Equal(t, "abc123", got.Commit)
	assert.Equal(t, "lab-agent/dev", UserAgent())

	Set(Info{Version: "1.4.0"})
	assert.Equal(t, "lab-agent/1.4.0", UserAgent())
}
