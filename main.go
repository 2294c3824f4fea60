package main

import "github.com/fbz-tec/pg2parquet/cmd"

func main() {
	cmd.Execute()
}
