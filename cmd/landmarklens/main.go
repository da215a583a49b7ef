package main

import "github.com/bryanchriswhite/LandmarkLens/cmd/landmarklens/commands"

func main() {
	commands.Execute()
}
