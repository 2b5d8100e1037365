package session

import (
	"log"
	"os"
)

type state struct {
	userID int64
}

var (
	currentUser int64
	current     state
	byEmail     = map[string]int64{}
	requests    int
)

func init() {
	currentUser = 0
}

func Bind(id int64) {
	currentUser = id // want "assignment to package-level variable currentUser"
	current.userID = id // want "assignment to package-level variable current"
	byEmail["a@b.c"] = id // want "assignment to package-level variable byEmail"
	requests++ // want "assignment to package-level variable requests"
}

func Local(id int64) int64 {
	var s state
	s.userID = id
	local := id
	local++
	return local + s.userID + currentUser
}

func Fail() {
	panic("unreachable") // want "found usage of panic"
}

func Stop() {
	log.Fatal("stop") // want "found usage of log.Fatal outside of main function"
	os.Exit(1) // want "found usage of os.Exit outside of main function"
}
