//nolint:revive,nolintlint // Package name "common" is intentional for shared helpers.
package common

import (
	"fmt"
	"os"
	"os/user"

	"github.com/oshokin/loadshed/internal/domain/shed"
)

// sudoUserEnv names the operator behind sudo.
const sudoUserEnv = "SUDO_USER"

// actorSources are the lookups DetectActor uses; replaced in tests.
type actorSources struct {
	hostname func() (string, error)
	username func() (string, error)
	getenv   func(string) string
}

// DetectActor identifies who starts the event, for the journal. An event run
// through sudo is attributed to the invoking operator rather than root.
func DetectActor() (*shed.Actor, error) {
	return detectActor(actorSources{
		hostname: os.Hostname,
		username: func() (string, error) {
			u, err := user.Current()
			if err != nil {
				return "", err
			}

			return u.Username, nil
		},
		getenv: os.Getenv,
	})
}

func detectActor(src actorSources) (*shed.Actor, error) {
	hostname, err := src.hostname()
	if err != nil {
		return nil, fmt.Errorf("hostname: %w", err)
	}

	if operator := src.getenv(sudoUserEnv); operator != "" {
		return &shed.Actor{Hostname: hostname, Username: operator}, nil
	}

	username, err := src.username()
	if err != nil {
		return nil, fmt.Errorf("current user: %w", err)
	}

	return &shed.Actor{Hostname: hostname, Username: username}, nil
}
