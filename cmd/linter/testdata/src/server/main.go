package main

import (
	"log"
	"os"
)

var delays = []int{1, 3, 5}

func configure() {
	delays = []int{1}
	log.Fatalln("bad config") // want "found usage of log.Fatalln outside of main function"
}

func main() {
	configure()
	if len(delays) == 0 {
		os.Exit(1)
	}
}
