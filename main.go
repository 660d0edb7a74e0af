package main

import (
	"log"

	"hotspot-portal/cmd"
)

func main() {
	if err := cmd.Start(); err != nil {
		log.Fatal(err)
	}
}
