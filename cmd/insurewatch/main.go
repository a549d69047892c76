package main

import (
	"os"

	"horse.fit/insurewatch/internal/app"
)

func main() {
	os.Exit(app.Run(os.Args[1:]))
}
