package main

import (
	"context"
	"fmt"
	"os"
	_ "time/tzdata"

	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	r := NewRunner(os.Stdout)
	if err := newApp(r).Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "importctl:", err)
		os.Exit(1)
	}
}
