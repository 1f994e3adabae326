package logfields

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorAttr(t *testing.T) {
	a := Error(errors.New("boom"))
	assert.Equal(t, KeyError, a.Key)
	assert.Equal(t, "boom", a.Value.String())

	a = Error(nil)
	assert.Equal(t, "", a.Value.String())
}

func TestKeysAreStable(t *testing.T) {
	// These keys end up in dashboards; renaming them is a breaking change.
	assert.Equal(t, "run_id", RunID("x").Key)
	assert.Equal(t, "task", Task("archive").Key)
	assert.Equal(t, "tag", Tag("v1.0").Key)
	assert.Equal(t, "version", Version("1.0").Key)
	assert.Equal(t, "artifact", Artifact("a.tar.gz").Key)
	assert.Equal(t, "duration_ms", DurationMS(1).Key)
}
