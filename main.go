package main

import (
	"math/rand"
	"time"

	"github.com/luma/chirp/cmd"
)

func main() {
	rand.Seed(time.Now().UnixNano())

	cmd.Execute()
}
