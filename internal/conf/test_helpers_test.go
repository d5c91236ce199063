package conf

import (
	"io/fs"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
)

func mustEmbedded(t *testing.T) []byte {
	t.Helper()
	data, err := fs.ReadFile(configFiles, "config.yaml")
	require.NoError(t, err)
	return data
}

func newTestViper() *viper.Viper {
	v := viper.New()
	setDefaultConfig(v)
	return v
}
