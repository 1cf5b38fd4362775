package main

import "outbound-router/internal/app"

func main() {
	app.Execute()
}
