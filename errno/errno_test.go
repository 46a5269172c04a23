package errno

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrno_String(t *testing.T) {
	for _, tc := range []struct {
		code Errno
		want string
	}{
		{OK, `OK`},
		{EINTR, `EINTR`},
		{EAGAIN, `EAGAIN`},
		{ECHILD, `ECHILD`},
		{EOVERFLOW, `EOVERFLOW`},
		{ETIMEDOUT, `ETIMEDOUT`},
		{Errno(-9999), `errno(-9999)`},
	} {
		assert.Equal(t, tc.want, tc.code.String())
		if tc.code != OK {
			assert.Equal(t, tc.want, tc.code.Error())
		}
	}
}

func TestErrno_Err(t *testing.T) {
	require.NoError(t, OK.Err())
	require.NoError(t, Errno(1).Err())
	err := ESRCH.Err()
	require.Error(t, err)
	require.ErrorIs(t, err, ESRCH)
}

func TestErrno_Distinct(t *testing.T) {
	codes := []Errno{EPERM, ESRCH, EINTR, EAGAIN, ENOMEM, EBADF, ECHILD, EINVAL, EMFILE, ENOSPC, EOVERFLOW, ETIMEDOUT}
	seen := make(map[Errno]bool)
	for _, c := range codes {
		require.Negative(t, int(c))
		require.False(t, seen[c], c.String())
		seen[c] = true
	}
}
