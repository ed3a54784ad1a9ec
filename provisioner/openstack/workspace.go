package openstack

import (
	"fmt"
	"strings"

	"github.com/alessio/shellescape"
	"golang.org/x/crypto/ssh"
)

// workspace is the directory prepared on a node for the job layer.
type workspace struct {
	root string
	ssh  *ssh.Client
}

func newWorkspace(root string, client *ssh.Client) *workspace {
	return &workspace{
		root: strings.TrimRight(root, "/"),
		ssh:  client,
	}
}

func (w *workspace) through(thunk func(*ssh.Session) error) error {
	session, err := w.ssh.NewSession()
	if err != nil {
		return fmt.Errorf("failed to create SSH session: %w", err)
	}
	defer session.Close()

	return thunk(session)
}

func (w *workspace) Prepare() error {
	return w.through(func(session *ssh.Session) error {
		if err := session.Run("mkdir -p " + shellescape.Quote(w.root)); err != nil {
			return fmt.Errorf("failed to create workspace '%s': %w", w.root, err)
		}
		return nil
	})
}
