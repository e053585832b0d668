package main

import (
	"os"

	"github.com/JoshBonura/ai-agent-playground-sub001/internal/app"
)

// @title           AI Agent Playground API
// @version         1.0
// @description     Streaming session controller for a conversational AI client.
// @BasePath        /api
func main() {
	os.Exit(app.Run())
}
