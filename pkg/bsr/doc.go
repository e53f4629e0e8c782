// Package bsr (Boundary Scan Runtime) models the pins behind one device's
// boundary scan register.
//
// A Board is built from a BSDL register map. Attached to a session as its
// capture source and update sink, it plays the part of the device pins:
//
//   - EXTEST, EXTEST_PULSE, EXTEST_TRAIN and CLAMP connect the boundary
//     update latches to the pins. Output cells drive their pin when the
//     governing control cell enables them, otherwise the pin floats.
//   - HIGHZ tri-states every driven pin.
//   - Any other instruction hands the pins back to system logic.
//
// Capture-DR under a boundary instruction loads input cells from the pin
// levels (the driven value when the device drives the pin, otherwise the
// level applied with SetInput) and output and control cells from their
// update latches.
//
// The vector helpers build boundary register images for scripts: all cells
// at their safe values, all pins high-impedance, or selected pins driven.
//
//	board, err := bsr.NewBoard(regmap)
//	cfg.Source, cfg.Sink = board, board
//	bits, err := board.DriveVector(map[string]bool{"IO0": true})
package bsr
