package sundaecli

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/tj/assert"
)

func TestInitCommonOpts(t *testing.T) {
	defer func() {
		CommonOpts.LogLevel = ""
		CommonOpts.LogFormat = ""
		zerolog.SetGlobalLevel(zerolog.TraceLevel)
	}()

	CommonOpts.LogLevel = "warn"
	assert.Nil(t, InitCommonOpts(nil))
	assert.Equal(t, zerolog.WarnLevel, zerolog.GlobalLevel())

	CommonOpts.LogLevel = "loud"
	assert.NotNil(t, InitCommonOpts(nil))

	CommonOpts.LogLevel = ""
	CommonOpts.LogFormat = "xml"
	assert.NotNil(t, InitCommonOpts(nil))
}

func TestEnvVar(t *testing.T) {
	assert.Equal(t, "TABLE_NAME", envVar("table-name"))
	assert.Equal(t, "PORT", envVar("port"))
}
