package xspec

// PopenArgs builds the argv used to spawn a local peer process for a
// "popen" spec, mirroring execnet's gateway_io.popen_args
// (_examples/original_source/testing/test_xspec.py's test_popen_with_sudo_python
// exercises the equivalent Python behavior). Since this fabric's peer is an
// xnet binary rather than a Python interpreter, Spec.Python names the
// executable (defaulting to "xnet") and the remainder is the fixed
// "serve" invocation.
func (s *Spec) PopenArgs() (name string, args []string) {
	exe := s.Python
	if exe == "" {
		exe = "xnet"
	}
	parts := splitCommand(exe)
	return parts[0], append(parts[1:], "serve")
}

// SSHArgs builds the full argv (including the "ssh" program name itself at
// index 0) for an "ssh" spec, mirroring execnet's gateway_io.ssh_args.
func (s *Spec) SSHArgs() []string {
	args := []string{"ssh", "-C"}
	if s.SSHConfig != "" {
		args = append(args, "-F", s.SSHConfig)
	}
	args = append(args, splitCommand(s.SSH)...)
	remote := s.Python
	if remote == "" {
		remote = "xnet"
	}
	args = append(args, splitCommand(remote)...)
	args = append(args, "serve")
	return args
}

// splitCommand splits a shell-style command string on whitespace, without
// interpreting quoting. Spec fields like "ssh" and "python" carry
// pre-assembled option strings ("-p 22100 user@host"), not shell syntax
// that needs real quoting support.
func splitCommand(s string) []string {
	var fields []string
	start := -1
	for i, r := range s {
		if r == ' ' || r == '\t' {
			if start >= 0 {
				fields = append(fields, s[start:i])
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		fields = append(fields, s[start:])
	}
	if len(fields) == 0 {
		return []string{""}
	}
	return fields
}
