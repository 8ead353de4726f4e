package main

import (
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/nodegeo/nodegeo/cmd"
)

func main() {
	// sentry is initialized in cmd/root.go once the config is loaded
	defer sentry.Flush(2 * time.Second)

	cmd.Execute()
}
