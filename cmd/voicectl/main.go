package main

import "coliblanco-backend/internal/cli"

func main() {
	cli.Execute()
}
