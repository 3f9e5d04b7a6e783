/*
 * Copyright (c) 2019 The aether developers.
 * See the LICENSE file for more information.
 */

package main

import (
	"fmt"
	"os"

	"github.com/aether-im/aether/app"
)

func main() {
	if err := app.New(os.Stdout, os.Args).Run(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "aether: %v\n", err)
		os.Exit(1)
	}
}
