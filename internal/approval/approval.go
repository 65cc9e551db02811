// Package approval implements the ApprovalPrompt collaborator as a
// controlling-tty confirmation: print the signer and host context, read
// a single y/n keystroke with a timeout, grounded on the
// term.IsTerminal/term.ReadPassword pattern the example pack uses for
// token prompts (majorcontext-moat's provider/util.PromptForToken).
package approval

import (
	"fmt"
	"io"
	"os"
	"time"

	"golang.org/x/term"

	"github.com/tavisrudd/ssh-guard-agent/internal/agentproto"
	"github.com/tavisrudd/ssh-guard-agent/internal/sessiontable"
	"github.com/tavisrudd/ssh-guard-agent/internal/signer"
)

// DefaultTimeout bounds how long the prompt waits for a keystroke
// before resolving to deny.
const DefaultTimeout = 30 * time.Second

// TerminalPrompt implements handler.ApprovalPrompt against a
// controlling terminal. A TerminalPrompt with no controlling tty (for
// example, a daemonized process with stdin/stdout redirected) always
// denies rather than blocking forever.
type TerminalPrompt struct {
	In      *os.File
	Out     io.Writer
	Timeout time.Duration
}

// NewTerminalPrompt builds a TerminalPrompt reading from stdin and
// writing to stderr, the same stream split the teacher's CLI helpers
// use so prompt text never pollutes stdout redirected to a pipe.
func NewTerminalPrompt() *TerminalPrompt {
	return &TerminalPrompt{In: os.Stdin, Out: os.Stderr, Timeout: DefaultTimeout}
}

// Approve renders the request and blocks for a single y/n keystroke.
// It satisfies handler.ApprovalPrompt.
func (p *TerminalPrompt) Approve(view signer.View, introspection *agentproto.Introspection, hostContext *sessiontable.HostContext) bool {
	fd := int(p.In.Fd())
	if !term.IsTerminal(fd) {
		fmt.Fprintln(p.Out, "ssh-guard-agent: approval requested on a non-interactive session, denying")
		return false
	}

	fmt.Fprintln(p.Out, "--- ssh-guard-agent signing request ---")
	fmt.Fprintf(p.Out, "key: %s (%s) %q\n", view.Fingerprint(), view.Algorithm(), view.Comment())
	if introspection != nil {
		fmt.Fprintf(p.Out, "user: %s  algorithm: %s\n", introspection.Username, introspection.Algorithm)
	}
	fmt.Fprintln(p.Out, "host:", describeHostContext(hostContext))
	fmt.Fprint(p.Out, "approve? [y/N] ")

	resultCh := make(chan bool, 1)
	go func() {
		resultCh <- readYesNo(p.In)
	}()

	select {
	case approved := <-resultCh:
		return approved
	case <-time.After(p.Timeout):
		fmt.Fprintln(p.Out, "\nssh-guard-agent: approval timed out, denying")
		return false
	}
}

func describeHostContext(ctx *sessiontable.HostContext) string {
	if ctx == nil {
		return "unknown (no session binding observed)"
	}
	switch ctx.Verification {
	case sessiontable.Verified:
		return fmt.Sprintf("%s (verified against known_hosts)", ctx.Hostname)
	case sessiontable.Mismatch:
		return fmt.Sprintf("%s (MISMATCH against known_hosts — key differs from the one on record)", ctx.Hostname)
	default:
		return fmt.Sprintf("%s (not present in known_hosts)", ctx.Hostname)
	}
}

func readYesNo(f *os.File) bool {
	if oldState, err := term.MakeRaw(int(f.Fd())); err == nil {
		defer term.Restore(int(f.Fd()), oldState)
	}
	buf := make([]byte, 1)
	n, err := f.Read(buf)
	if err != nil || n == 0 {
		return false
	}
	return buf[0] == 'y' || buf[0] == 'Y'
}
