package password

import (
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestHasher_HashAndCompare(t *testing.T) {
	h := NewHasher(bcrypt.MinCost)
	hash, err := h.Hash("Secr3t!pass")
	require.NoError(t, err)
	require.NotEqual(t, "Secr3t!pass", hash)

	require.NoError(t, h.Compare(hash, "Secr3t!pass"))
	require.ErrorIs(t, h.Compare(hash, "wrong"), ErrMismatch)
	require.ErrorIs(t, h.Compare("", "anything"), ErrMismatch)
}

func TestValidate(t *testing.T) {
	cases := []struct {
		pw   string
		want error
	}{
		{"Ab1!", ErrTooShort},
		{"abcdefg1!", ErrNoUpper},
		{"ABCDEFG1!", ErrNoLower},
		{"Abcdefgh!", ErrNoDigit},
		{"Abcdefgh1", ErrNoSymbol},
		{"Abcd efg1!", ErrHasWhitespace},
		{"Abcdefg1!", nil},
		{"Пароль1!Aa", nil},
	}
	for _, tc := range cases {
		err := Validate(tc.pw)
		if tc.want == nil {
			require.NoError(t, err, tc.pw)
			continue
		}
		require.ErrorIs(t, err, tc.want, tc.pw)
	}

	long := make([]byte, MaxLength+1)
	for i := range long {
		long[i] = 'a'
	}
	require.ErrorIs(t, Validate(string(long)), ErrTooLong)
}

func TestNormalizeEmail(t *testing.T) {
	require.Equal(t, "alice@example.com", NormalizeEmail("  Alice@Example.COM "))
}
