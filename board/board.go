// Package board brings up the target board and its console before any
// peripheral is touched. Each build provides Default, which returns the board
// for the current target, and Halt, the fatal stop used when bring-up fails.
package board

import "errors"

var ErrNoConsole = errors.New("board: no console")
