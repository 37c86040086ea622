package cmd

import (
	"fmt"
	"io"
	"os"
	"testing"

	"github.com/codenu/laythe-v2/laythe"
	"github.com/stretchr/testify/assert"
)

func TestVersionCommand(t *testing.T) {
	originalVersion := laythe.Version
	originalCommitSHA := laythe.CommitSHA
	originalBuildTime := laythe.BuildTime

	t.Cleanup(
		func() {
			laythe.Version = originalVersion
			laythe.CommitSHA = originalCommitSHA
			laythe.BuildTime = originalBuildTime
		},
	)

	laythe.Version = "1.0.0"
	laythe.CommitSHA = "abc123"
	laythe.BuildTime = "2023-10-01T12:00:00Z"

	orig := os.Stdout
	r, w, _ := os.Pipe()
	os.Stdout = w
	t.Cleanup(
		func() {
			os.Stdout = orig
		},
	)

	// Capture the output
	versionCmd.Run(nil, nil)

	_ = w.Close()

	out, _ := io.ReadAll(r)
	output := string(out)
	t.Logf("output: %s", string(out))
	expected := fmt.Sprintf(
		"version=%s commit=%s built: %s",
		laythe.Version,
		laythe.CommitSHA,
		laythe.BuildTime,
	)
	assert.Equal(t, expected, output)
}
