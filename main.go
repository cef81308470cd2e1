/*
Copyright © 2025 Joseph Goksu josephgoksu@gmail.com
*/
package main

import (
	"github.com/josephgoksu/FlowWing/cmd"
	"github.com/josephgoksu/FlowWing/internal/logger"
)

func main() {
	defer logger.HandlePanic()
	cmd.Execute()
}
