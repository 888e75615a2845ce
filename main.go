// SPDX-FileCopyrightText: 2026 Bonial International GmbH
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/bonial-oss/vuln-risk-prio/cmd"
)

func main() {
	os.Exit(run())
}

func run() int {
	err := cmd.NewRootCommand().Execute()
	if err == nil {
		return 0
	}
	var exitErr *cmd.ExitError
	if errors.As(err, &exitErr) {
		if exitErr.Message != "" {
			fmt.Fprintln(os.Stderr, "Error: "+exitErr.Message)
		}
		return exitErr.Code
	}
	fmt.Fprintln(os.Stderr, "Error: "+err.Error())
	return 2
}
