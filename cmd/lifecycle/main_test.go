package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRunRejectsBadInvocations(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want int
	}{
		{name: "no command", args: nil, want: exitUsage},
		{name: "unknown job", args: []string{"invoices"}, want: exitUsage},
		{name: "two commands", args: []string{"alerts", "retention"}, want: exitUsage},
		{name: "unknown flag", args: []string{"alerts", "--force"}, want: exitUsage},
		{name: "help", args: []string{"--help"}, want: exitOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			got := run(tt.args, &stdout, &stderr)
			assert.Equal(t, tt.want, got)
			assert.Empty(t, stdout.String())
		})
	}
}

func TestUsageListsEveryCommand(t *testing.T) {
	var stdout, stderr bytes.Buffer
	run(nil, &stdout, &stderr)

	usage := stderr.String()
	for _, command := range []string{"subscriptions", "retention", "referrals", "alerts", "all", "seed", "--dry-run", "--no-reminders"} {
		assert.Contains(t, usage, command)
	}
}
