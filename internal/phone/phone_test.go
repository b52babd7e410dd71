package phone

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeValid(t *testing.T) {
	cases := []struct {
		raw  string
		code string
		want string
	}{
		{raw: "98765 43210", code: "+91", want: "+919876543210"},
		{raw: "(987) 654-3210", code: "+91", want: "+919876543210"},
		{raw: "+919876543210", code: "+91", want: "+919876543210"},
		{raw: "6123456789", code: "", want: "+916123456789"},
		{raw: "415-555-0100", code: "+1", want: "+14155550100"},
		{raw: "20 7946 0958", code: "+44", want: "+442079460958"},
		{raw: "501234567", code: "+971", want: "+971501234567"},
	}
	for _, tc := range cases {
		got, err := Normalize(tc.raw, tc.code)
		require.NoError(t, err, tc.raw)
		require.Equal(t, tc.want, got)
		code := tc.code
		if code == "" {
			code = DefaultCallingCode
		}
		require.True(t, IsCanonical(got))
		if tc.raw[0] != '+' {
			require.Equal(t, code+DigitsOnly(tc.raw), got)
		}
	}
}

func TestNormalizeInvalid(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		code string
	}{
		{name: "too short", raw: "12345", code: "+1"},
		{name: "too long", raw: "1234567890123456", code: "+1"},
		{name: "india leading digit", raw: "1234567890", code: "+91"},
		{name: "india too short", raw: "98765432", code: "+91"},
		{name: "unknown code", raw: "9876543210", code: "+999"},
		{name: "letters only", raw: "call me", code: "+44"},
		{name: "empty", raw: "", code: "+91"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Normalize(tc.raw, tc.code)
			require.ErrorIs(t, err, ErrInvalidFormat)
		})
	}
}

func TestCodesIsACopy(t *testing.T) {
	list := Codes()
	require.Equal(t, "+91", list[0].Code)
	list[0].Code = "+0"
	require.Equal(t, "+91", Codes()[0].Code)
}

func TestIsCanonical(t *testing.T) {
	require.True(t, IsCanonical("+919999999999"))
	require.False(t, IsCanonical("9999999999"))
	require.False(t, IsCanonical("+91 99999 99999"))
	require.False(t, IsCanonical("+911234567890"))
	require.True(t, IsE164("+911234567890"))
	require.False(t, IsE164("911234567890"))
}
