package httpclient

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
)

// Notifier surfaces terminal request failures to the person using the client.
type Notifier interface {
	Notify(err error)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(err error)

func (f NotifierFunc) Notify(err error) { f(err) }

// WriterNotifier prints one line per failure, e.g. to stderr in the CLI.
type WriterNotifier struct {
	mu sync.Mutex
	W  io.Writer
}

// NewStderrNotifier returns the default CLI notifier.
func NewStderrNotifier() *WriterNotifier {
	return &WriterNotifier{W: os.Stderr}
}

func (n *WriterNotifier) Notify(err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	fmt.Fprintln(n.W, UserMessage(err))
}

// UserMessage is the human-facing text for a terminal failure.
func UserMessage(err error) string {
	switch KindOf(err) {
	case KindAuthExpired:
		return "Your session has expired. Please log in again."
	case KindClientError:
		var he *HTTPError
		if errors.As(err, &he) && he.Message != "" {
			return he.Message
		}
		return "The request could not be processed."
	case KindServerError:
		return "The server reported an error. Please try again later."
	case KindNetworkUnreachable:
		return "No response from the server. Check your network connection."
	default:
		return "Request failed: " + err.Error()
	}
}

type discardNotifier struct{}

func (discardNotifier) Notify(error) {}
