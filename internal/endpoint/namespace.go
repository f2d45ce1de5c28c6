// Package endpoint provides the named channel primitive the chat is built on:
// FIFOs at deterministic paths under one root directory.
//
// Opening an endpoint is a rendezvous. A write-only open blocks until a reader
// has the FIFO open and a read-only open blocks until a writer does, so the
// broker and a client must open a session's two FIFOs in the same order.
package endpoint

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// DefaultRoot is the well-known directory holding the chat FIFOs.
const DefaultRoot = "/tmp/chat"

const controlName = "server_input"

// Namespace maps endpoint roles onto paths under Root.
type Namespace struct {
	Root string
}

// NewNamespace returns a namespace rooted at root, or DefaultRoot when root is empty.
func NewNamespace(root string) Namespace {
	if root == "" {
		root = DefaultRoot
	}
	return Namespace{Root: root}
}

// Ensure creates the root directory if it does not exist.
func (n Namespace) Ensure() error {
	if err := os.MkdirAll(n.Root, 0o777); err != nil {
		return errors.Wrapf(err, "create namespace root %s", n.Root)
	}
	return nil
}

// ControlPath is the shared FIFO clients write handshakes to.
func (n Namespace) ControlPath() string {
	return filepath.Join(n.Root, controlName)
}

// InboundPath is the FIFO the broker writes broadcasts to for client id.
func (n Namespace) InboundPath(id int32) string {
	return filepath.Join(n.Root, fmt.Sprintf("client.%d", id))
}

// OutboundPath is the FIFO client id writes its chat messages to.
func (n Namespace) OutboundPath(id int32) string {
	return filepath.Join(n.Root, fmt.Sprintf("client.%d.out", id))
}

// RemoveSession unlinks both FIFOs of client id. Missing files are not an error.
func (n Namespace) RemoveSession(id int32) error {
	for _, p := range []string{n.InboundPath(id), n.OutboundPath(id)} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return errors.Wrapf(err, "remove %s", p)
		}
	}
	return nil
}
