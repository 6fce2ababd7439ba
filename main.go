package main

import (
	"github.com/arkime-go/capture/cmd/capture"
)

func main() {
	capture.Execute()
}
