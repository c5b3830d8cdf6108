// Command ticksim runs the random walk demo on the tick-synchronized engine.
package main

func main() {
	Execute()
}
