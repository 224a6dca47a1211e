// Package xspec parses the "execution specification" mini-DSL used to
// describe how to spawn a peer gateway: key1=value1//key2=value2//...
//
// Grounded on execnet.XSpec (see
// _examples/original_source/execnet/multi.py and
// _examples/original_source/testing/test_xspec.py for the exact behavior
// this mirrors): a bare key means true, a repeated key is a parse error,
// and unknown keys are kept rather than rejected so callers can build their
// own extensions on top of the same syntax.
package xspec

import (
	"strings"

	"github.com/pkg/errors"
)

// Spec is a parsed execution specification.
type Spec struct {
	raw string

	// known, commonly-recognized keys.
	ID         string
	Python     string
	Chdir      string
	Nice       string
	Popen      bool
	SSH        string
	Socket     string
	InstallVia string
	ExecModel  string
	SSHConfig  string

	// Env holds repeatable env:NAME=value entries.
	Env map[string]string

	// Extra holds any key not promoted to a named field above, still
	// available to callers that extend the DSL.
	Extra map[string]string

	seen map[string]bool
}

// Parse parses spec text into a Spec. Each key may appear at most once;
// reusing a key (including its env: variants with the same NAME) is an
// error.
func Parse(spec string) (*Spec, error) {
	s := &Spec{
		raw:   spec,
		Env:   map[string]string{},
		Extra: map[string]string{},
		seen:  map[string]bool{},
	}
	if spec == "" {
		return s, nil
	}
	for _, part := range strings.Split(spec, "//") {
		if part == "" {
			continue
		}
		key, value, hasValue := strings.Cut(part, "=")
		if err := s.set(key, value, hasValue); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Spec) set(key, value string, hasValue bool) error {
	if !hasValue {
		value = "true"
	}
	if strings.HasPrefix(key, "env:") {
		name := strings.TrimPrefix(key, "env:")
		seenKey := "env:" + name
		if s.seen[seenKey] {
			return errors.Errorf("xspec: key %q specified twice", key)
		}
		s.seen[seenKey] = true
		s.Env[name] = value
		return nil
	}
	if s.seen[key] {
		return errors.Errorf("xspec: key %q specified twice", key)
	}
	s.seen[key] = true

	switch key {
	case "id":
		s.ID = value
	case "python":
		s.Python = value
	case "chdir":
		s.Chdir = value
	case "nice":
		s.Nice = value
	case "popen":
		s.Popen = true
	case "ssh":
		s.SSH = value
	case "socket":
		s.Socket = value
	case "installvia":
		s.InstallVia = value
	case "execmodel":
		s.ExecModel = value
	case "ssh_config":
		s.SSHConfig = value
	default:
		s.Extra[key] = value
	}
	return nil
}

// String returns the original spec text, round-tripping Parse(s).String()
// for any s this package produced.
func (s *Spec) String() string { return s.raw }

// Kind reports which gateway kind this spec describes, as execnet's
// makegateway dispatch does (_examples/original_source/execnet/multi.py).
func (s *Spec) Kind() (string, error) {
	switch {
	case s.Popen:
		return "popen", nil
	case s.SSH != "":
		return "ssh", nil
	case s.Socket != "":
		return "socket", nil
	default:
		return "", errors.Errorf("xspec: no gateway type found in %q", s.raw)
	}
}
