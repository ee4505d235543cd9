package main

import (
	"github.com/joho/godotenv"

	"github.com/periscopehq/periscope/api/cmd/periscope"
)

func main() {
	_ = godotenv.Load()
	periscope.Execute()
}
