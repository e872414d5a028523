package main

import (
	"os"

	"github.com/sirupsen/logrus"

	"github.com/ieee0824/hsmmtrain/cmd/hsmmtrain/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		logrus.Error(err)
		os.Exit(1)
	}
}
