package main

import (
	"github.com/criticalstack/swimkv/cmd/swimkv/app"
	"github.com/criticalstack/swimkv/pkg/log"
)

func main() {
	if err := app.NewCommand().Execute(); err != nil {
		log.Fatalf("%+v", err)
	}
}
