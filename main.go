package main

import (
	_ "github.com/mattn/go-sqlite3"

	"github.com/yoavra/yoman/cmd"
)

func main() {
	cmd.Execute()
}
