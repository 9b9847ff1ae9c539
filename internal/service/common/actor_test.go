//nolint:revive,nolintlint // Package name "common" is intentional for shared helpers.
package common

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

var errNoPasswd = errors.New("no passwd entry")

func fakeSources(sudoUser string, userErr error) actorSources {
	return actorSources{
		hostname: func() (string, error) { return "bms-01", nil },
		username: func() (string, error) { return "root", userErr },
		getenv: func(key string) string {
			if key == sudoUserEnv {
				return sudoUser
			}

			return ""
		},
	}
}

// TestDetectActor ensures hostname and username are detected and non-empty.
func TestDetectActor(t *testing.T) {
	t.Parallel()

	a, err := DetectActor()
	require.NoError(t, err)
	require.NotEmpty(t, a.Hostname)
	require.NotEmpty(t, a.Username)
	require.Equal(t, a.Username+"@"+a.Hostname, a.String())
}

// TestDetectActor_Sudo attributes sudo runs to the invoking operator.
func TestDetectActor_Sudo(t *testing.T) {
	t.Parallel()

	a, err := detectActor(fakeSources("operator", nil))
	require.NoError(t, err)
	require.Equal(t, "operator@bms-01", a.String())

	// The user database is not consulted under sudo.
	a, err = detectActor(fakeSources("operator", errNoPasswd))
	require.NoError(t, err)
	require.Equal(t, "operator", a.Username)

	a, err = detectActor(fakeSources("", nil))
	require.NoError(t, err)
	require.Equal(t, "root@bms-01", a.String())

	_, err = detectActor(fakeSources("", errNoPasswd))
	require.ErrorIs(t, err, errNoPasswd)
}
