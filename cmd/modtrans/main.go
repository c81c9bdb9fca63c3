package main

import (
	"os"

	"horse.fit/modtrans/internal/app"
)

func main() {
	os.Exit(app.Run(os.Args[1:]))
}
