package cmd

import "testing"

func TestSubcommandsRegistered(t *testing.T) {
	t.Parallel()

	registered := map[string]bool{}
	for _, sub := range rootCmd.Commands() {
		registered[sub.Name()] = true
	}

	for _, want := range []string{"bridge", "version"} {
		if !registered[want] {
			t.Fatalf("command %q not registered on root", want)
		}
	}
}
