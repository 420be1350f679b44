package main

import (
	"log"
	"os"
)

func main() {
	log.SetFlags(0)
	if err := newRootCmd().Execute(); err != nil {
		log.Printf("[!] %v", err)
		os.Exit(1)
	}
}
