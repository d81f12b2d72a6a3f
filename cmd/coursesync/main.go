// Command coursesync は課題・成績の同期サービスを起動する。
//
// サブコマンド: serve（デフォルト）, worker, sync, migrate [up|down [steps]], healthcheck
package main

import (
	"fmt"
	"os"

	"github.com/hitoshi/coursesync/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "coursesync: %v\n", err)
		os.Exit(1)
	}
}
