package main

import (
	"cogni/cmd/handlers"
	"cogni/internal/logger"
)

func main() {
	logger.Init()
	handlers.Execute()
}
