package main

import (
	"go.uber.org/fx"

	"github.com/gatewise/tarmac/internal/app"
)

func main() {
	fx.New(app.Module).Run()
}
