// Package viz renders merge runs in the terminal.
//
//   - [Model]: Bubble Tea live view stepping a controller and its road
//   - [Canvas]: braille dot canvas the road is drawn on
//   - [RenderErrors], [RenderSpeeds]: asciigraph plots of stored runs
//
// # Key Bindings
//
//	Space - Pause/Resume
//	N     - Single step while paused
//	T     - Cycle color themes
//	?     - Show help overlay
//	Q     - Quit
package viz
