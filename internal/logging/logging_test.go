package logging

import (
	"bytes"
	"testing"

	"github.com/joeycumines/logiface"
	"github.com/stretchr/testify/assert"
)

func TestNew_WritesJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, logiface.LevelInformational)

	logger.Info().
		Str(`name`, `pool`).
		Log(`hello`)
	logger.Debug().
		Log(`filtered`)

	assert.Equal(t, "{\"lvl\":\"info\",\"name\":\"pool\",\"msg\":\"hello\"}\n", buf.String())
}

func TestNew_NilSafe(t *testing.T) {
	var logger *logiface.Logger[logiface.Event]
	logger.Emerg().Int(`size`, 1).Log(`ignored`)
}
