package main

import "github.com/vibast-solutions/ms-go-investment-payments/cmd"

func main() {
	cmd.Execute()
}
