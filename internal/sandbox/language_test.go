package sandbox

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookupKnownLanguages(t *testing.T) {
	for _, lang := range SupportedLanguages {
		cfg, err := Lookup(lang)
		require.NoError(t, err, lang)
		assert.NotEmpty(t, cfg.Image, lang)
		assert.NotEmpty(t, cfg.Extension, lang)
		require.NotEmpty(t, cfg.RunCommands("/tmp/code."+cfg.Extension), lang)
	}
}

func TestLookupUnknownLanguageFails(t *testing.T) {
	_, err := Lookup("cobol")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cobol")
}

func TestGoAndRustHaveSetupSteps(t *testing.T) {
	goCfg, err := Lookup("go")
	require.NoError(t, err)
	assert.NotEmpty(t, goCfg.Setup)

	rustCfg, err := Lookup("rust")
	require.NoError(t, err)
	assert.NotEmpty(t, rustCfg.Setup)
}

func TestInstallCommandsAreLanguageSpecific(t *testing.T) {
	py, _ := Lookup("python")
	assert.Contains(t, py.InstallCommand("requests"), "pip install")

	js, _ := Lookup("javascript")
	assert.Contains(t, js.InstallCommand("lodash"), "yarn add")

	rs, _ := Lookup("rust")
	assert.Contains(t, rs.InstallCommand("serde"), "cargo add")
}

func TestCppRunCommandsCompileThenExecute(t *testing.T) {
	cpp, _ := Lookup("cpp")
	cmds := cpp.RunCommands("/tmp/code.cpp")
	require.Len(t, cmds, 2)
	assert.Contains(t, cmds[0], "g++")
	assert.Contains(t, cmds[1], "./a.out")
}
