package xspec

import (
	"testing"

	"gotest.tools/v3/assert"
)

func TestParseBasicAttributes(t *testing.T) {
	s, err := Parse("socket=192.168.102.2:8888//python=c:/this/python2.5//chdir=/hello")
	assert.NilError(t, err)
	assert.Equal(t, s.Socket, "192.168.102.2:8888")
	assert.Equal(t, s.Python, "c:/this/python2.5")
	assert.Equal(t, s.Chdir, "/hello")
	assert.Equal(t, s.Nice, "")
}

func TestParseBareKeyIsTrue(t *testing.T) {
	s, err := Parse("popen")
	assert.NilError(t, err)
	assert.Assert(t, s.Popen)
}

func TestParseSameKeyTwiceFails(t *testing.T) {
	_, err := Parse("popen//popen")
	assert.ErrorContains(t, err, "twice")

	_, err = Parse("popen//popen=123")
	assert.ErrorContains(t, err, "twice")
}

func TestParseUnknownKeysKept(t *testing.T) {
	s, err := Parse("hello=3")
	assert.NilError(t, err)
	assert.Equal(t, s.Extra["hello"], "3")
}

func TestParseEnv(t *testing.T) {
	s, err := Parse("popen//env:NAME=value1")
	assert.NilError(t, err)
	assert.Equal(t, s.Env["NAME"], "value1")
}

func TestParseEnvTwiceFails(t *testing.T) {
	_, err := Parse("popen//env:NAME=a//env:NAME=b")
	assert.ErrorContains(t, err, "twice")
}

func TestKindDispatch(t *testing.T) {
	s, _ := Parse("popen")
	kind, err := s.Kind()
	assert.NilError(t, err)
	assert.Equal(t, kind, "popen")

	s, _ = Parse("ssh=user@host")
	kind, err = s.Kind()
	assert.NilError(t, err)
	assert.Equal(t, kind, "ssh")

	s, _ = Parse("hello=3")
	_, err = s.Kind()
	assert.ErrorContains(t, err, "no gateway type")
}

func TestSSHArgsWithConfig(t *testing.T) {
	s, err := Parse("ssh=-p 22100 user@host//python=python3")
	assert.NilError(t, err)
	s.SSHConfig = "/home/user/ssh_config"
	args := s.SSHArgs()
	assert.DeepEqual(t, args[:6], []string{"ssh", "-C", "-F", s.SSHConfig, "-p", "22100"})
}
