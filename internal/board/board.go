// Package board holds the 64-cell position model and its FEN serialization.
// Positions produced here are plausible-looking but not necessarily legal;
// legality is the engine's problem, not ours.
package board

import (
	"errors"
	"fmt"
	"math/rand"
	"strings"
)

// Color is the side to move in a serialized position.
type Color byte

const (
	White Color = 'w'
	Black Color = 'b'
)

const (
	// Squares is the number of cells on the board.
	Squares = 64

	// Pawn placement is restricted to ranks 2-7, i.e. rank-major
	// indices [8, 56). Pawns on a back rank crash some engines outright.
	pawnMin = 8
	pawnMax = 56
)

const pieceSymbols = "pnbrqkPNBRQK"

var (
	ErrInvalidMover = errors.New("side to move must be white or black")
	ErrBoardFull    = errors.New("no empty square available for piece")
)

// Board is a fixed 64-cell grid in rank-major order: index 0 is a8 as
// printed, index 63 is h1. A zero byte means the cell is empty.
type Board struct {
	cells [Squares]byte
}

// New returns an empty board.
func New() *Board {
	return &Board{}
}

// MakeEmpty clears every cell.
func (b *Board) MakeEmpty() {
	b.cells = [Squares]byte{}
}

// MakeInitial sets the standard starting arrangement.
func (b *Board) MakeInitial() {
	b.MakeEmpty()
	back := []byte("rnbqkbnr")
	for i := 0; i < 8; i++ {
		b.cells[i] = back[i]
		b.cells[8+i] = 'p'
		b.cells[48+i] = 'P'
		b.cells[56+i] = back[i] - 'a' + 'A'
	}
}

// At reports the piece byte at index i, or zero for an empty cell.
func (b *Board) At(i int) byte {
	return b.cells[i]
}

// PlaceRandom scatters the given piece symbols onto currently-empty cells,
// one at a time without replacement. Pawns only land on ranks 2-7. The
// placement is deterministic for a given rand source, which is how tests
// pin it down.
//
// Requesting more pieces than there are legal empty cells is an invalid
// configuration and returns an error; the board is left partially filled.
func (b *Board) PlaceRandom(pieces string, r *rand.Rand) error {
	empty := make([]int, 0, Squares)
	for i := 0; i < Squares; i++ {
		if b.cells[i] == 0 {
			empty = append(empty, i)
		}
	}

	for _, piece := range []byte(pieces) {
		if !strings.ContainsRune(pieceSymbols, rune(piece)) {
			return fmt.Errorf("invalid piece symbol %q", string(piece))
		}

		candidates := empty
		if piece == 'p' || piece == 'P' {
			candidates = make([]int, 0, len(empty))
			for _, sq := range empty {
				if sq >= pawnMin && sq < pawnMax {
					candidates = append(candidates, sq)
				}
			}
		}
		if len(candidates) == 0 {
			return fmt.Errorf("place %q: %w", string(piece), ErrBoardFull)
		}

		sq := candidates[r.Intn(len(candidates))]
		b.cells[sq] = piece
		for i, e := range empty {
			if e == sq {
				empty = append(empty[:i], empty[i+1:]...)
				break
			}
		}
	}
	return nil
}

// FEN serializes the board plus side to move using rank-compressed
// notation. Castling rights, en-passant target, halfmove clock, and
// fullmove number are fixed placeholders: generated positions never
// carry castling or en-passant state.
func (b *Board) FEN(mover Color) (string, error) {
	if mover != White && mover != Black {
		return "", fmt.Errorf("%w: got %q", ErrInvalidMover, string(mover))
	}

	var sb strings.Builder
	for rank := 0; rank < 8; rank++ {
		if rank > 0 {
			sb.WriteByte('/')
		}
		run := 0
		for file := 0; file < 8; file++ {
			piece := b.cells[rank*8+file]
			if piece == 0 {
				run++
				continue
			}
			if run > 0 {
				sb.WriteByte(byte('0' + run))
				run = 0
			}
			sb.WriteByte(piece)
		}
		if run > 0 {
			sb.WriteByte(byte('0' + run))
		}
	}
	sb.WriteByte(' ')
	sb.WriteByte(byte(mover))
	sb.WriteString(" - - 0 1")
	return sb.String(), nil
}

// String renders the board as eight rows with dots for empty cells.
func (b *Board) String() string {
	var sb strings.Builder
	for rank := 0; rank < 8; rank++ {
		for file := 0; file < 8; file++ {
			piece := b.cells[rank*8+file]
			if piece == 0 {
				piece = '.'
			}
			sb.WriteByte(piece)
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}
