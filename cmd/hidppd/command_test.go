package main

import (
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
)

func TestRunCommandRequiresDeviceFlags(t *testing.T) {
	flag := runCmd.Flags().Lookup("short-device")
	require.NotNil(t, flag)
	require.Equal(t, "true", flag.Annotations[cobra.BashCompOneRequiredFlag][0])

	flag = runCmd.Flags().Lookup("long-device")
	require.NotNil(t, flag)
	require.Equal(t, "true", flag.Annotations[cobra.BashCompOneRequiredFlag][0])
}

func TestProbeCommandRequiresDeviceFlags(t *testing.T) {
	flag := probeCmd.Flags().Lookup("short-device")
	require.NotNil(t, flag)
	require.Equal(t, "true", flag.Annotations[cobra.BashCompOneRequiredFlag][0])

	flag = probeCmd.Flags().Lookup("long-device")
	require.NotNil(t, flag)
	require.Equal(t, "true", flag.Annotations[cobra.BashCompOneRequiredFlag][0])
}

func TestRootCommandRegistersSubcommands(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	require.True(t, names["run"])
	require.True(t, names["probe"])
	require.True(t, names["version"])
}
