// Command qbodemo はQuickBooks Online連携デモのWebアプリケーションを起動する。
//
//	qbodemo [serve|migrate|cleanup|healthcheck]
package main

import (
	"fmt"
	"os"

	"github.com/hitoshi/qbodemo/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "qbodemo: %v\n", err)
		os.Exit(1)
	}
}
