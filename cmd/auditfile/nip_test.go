package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runNIP(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	nipCheckDigit = false
	nipCmd.SetOut(&out)
	nipCmd.SetArgs(args)
	err := nipCmd.Flags().Parse(args)
	require.NoError(t, err)
	err = nipCmd.RunE(nipCmd, nipCmd.Flags().Args())
	return out.String(), err
}

func TestNIPCommand(t *testing.T) {
	out, err := runNIP(t, "5213017228", "521-301-72-28")
	require.NoError(t, err)
	assert.Contains(t, out, "5213017228\tvalid")
	assert.Contains(t, out, "521-301-72-28\tvalid")

	out, err = runNIP(t, "5213017229")
	assert.EqualError(t, err, "1 invalid NIP(s)")
	assert.Contains(t, out, "invalid")
}

func TestNIPCommandCheckDigit(t *testing.T) {
	out, err := runNIP(t, "--check-digit", "521301722")
	require.NoError(t, err)
	assert.Equal(t, "521301722\t8\n", out)
}
