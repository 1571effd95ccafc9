package runner

import (
	"strings"
)

// posixQuote single-quotes s for a POSIX shell. Embedded single quotes are
// closed, escaped, and reopened ('\'' sequence).
func posixQuote(s string) string {
	if s == "" {
		return "''"
	}
	if !strings.ContainsAny(s, " \t\n\"'`$\\|&;<>()*?[]#~%!{}") {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// posixQuoteAll quotes every argument and joins them with spaces.
func posixQuoteAll(args []string) string {
	quoted := make([]string, len(args))
	for i, a := range args {
		quoted[i] = posixQuote(a)
	}
	return strings.Join(quoted, " ")
}

// quoteDirExpandingTilde produces the shell fragment for a target directory.
// A leading "~" is rewritten against $HOME explicitly because tilde expansion
// does not happen inside quoted strings, and the WSL transport has just
// corrected HOME to the value from the distro's own user database.
func quoteDirExpandingTilde(dir string) string {
	if dir == "~" {
		return `"$HOME"`
	}
	if rest, ok := strings.CutPrefix(dir, "~/"); ok {
		return `"$HOME"/` + posixQuote(rest)
	}
	return posixQuote(dir)
}

// buildPosixScript assembles the bootstrap script run by the WSL and SSH
// transports: optionally correct HOME, source the caller's preamble, cd to
// the working directory, then exec the binary with quoted arguments.
//
// The script execs the target binary so the provider CLI receives signals
// directly instead of through an intermediate shell.
func buildPosixScript(cmd SpawnCommand, fixHome bool) string {
	var b strings.Builder

	if fixHome {
		// The host environment leaks a host-specific HOME into WSL, which
		// breaks toolchain discovery (nvm, asdf, provider config dirs).
		// Read the real one from the distro's user database.
		b.WriteString(`HOME="$(getent passwd "$(id -un)" | cut -d: -f6)"; export HOME` + "\n")
	}

	if cmd.Preamble != "" {
		b.WriteString(cmd.Preamble)
		if !strings.HasSuffix(cmd.Preamble, "\n") {
			b.WriteString("\n")
		}
	}

	if cmd.Dir != "" {
		b.WriteString("cd " + quoteDirExpandingTilde(cmd.Dir) + " || exit 1\n")
	}

	b.WriteString("exec " + posixQuote(cmd.Binary))
	if len(cmd.Args) > 0 {
		b.WriteString(" " + posixQuoteAll(cmd.Args))
	}
	return b.String()
}
