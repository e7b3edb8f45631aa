package main

import "github.com/victorisiguzoruzoma874/stellar-insights-sub000/internal/cli"

func main() {
	cli.Execute()
}
