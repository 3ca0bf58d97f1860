package render

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	imagedraw "image/draw"
	"image/png"
	"strings"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/park285/Cheese-Match-server/internal/board"
)

// Highlight marks the last move.
type Highlight struct {
	FromRow, FromCol int
	ToRow, ToCol     int
}

// HighlightFromUCI parses the squares of a long algebraic move such as "e2e4".
func HighlightFromUCI(uci string) (*Highlight, bool) {
	if len(uci) < 4 {
		return nil, false
	}
	fc, fr, ok1 := parseSquare(uci[0:2])
	tc, tr, ok2 := parseSquare(uci[2:4])
	if !ok1 || !ok2 {
		return nil, false
	}
	return &Highlight{FromRow: fr, FromCol: fc, ToRow: tr, ToCol: tc}, true
}

func parseSquare(sq string) (col, row int, ok bool) {
	if sq[0] < 'a' || sq[0] > 'h' || sq[1] < '1' || sq[1] > '8' {
		return 0, 0, false
	}
	return int(sq[0] - 'a'), 8 - int(sq[1]-'0'), true
}

type Options struct {
	Highlight *Highlight
	// Perspective puts this color at the bottom. Defaults to white.
	Perspective board.Color
	Header      string
	Turn        string
}

const (
	squareSize   = 64
	boardSize    = squareSize * 8
	sideMargin   = 32
	topMargin    = 96
	bottomMargin = 32
	panelRadius  = 10
	titleHeight  = 34
	turnHeight   = 26
	panelGap     = 10
	gapToBoard   = 16
)

var (
	lightSquare         = color.RGBA{233, 207, 163, 255}
	darkSquare          = color.RGBA{187, 136, 96, 255}
	whiteMoveFill       = color.NRGBA{R: 255, G: 228, B: 120, A: 140}
	blackMoveArrow      = color.NRGBA{R: 148, G: 207, B: 255, A: 170}
	neutralMoveArrow    = color.NRGBA{R: 182, G: 184, B: 190, A: 140}
	backgroundColor     = color.RGBA{20, 22, 33, 255}
	hudPanelColor       = color.NRGBA{R: 28, G: 31, B: 46, A: 250}
	hudTurnPanelColor   = color.NRGBA{R: 32, G: 35, B: 52, A: 245}
	hudTextPrimary      = color.NRGBA{R: 236, G: 239, B: 255, A: 255}
	hudTurnTextColor    = color.NRGBA{R: 204, G: 210, B: 236, A: 255}
	coordinateTextColor = color.NRGBA{R: 8, G: 214, B: 120, A: 255}
)

// PNG renders the board with a small header.
func PNG(ctx context.Context, b board.Board, opts Options) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	flip := opts.Perspective == board.Black
	origin := image.Point{X: sideMargin, Y: topMargin}
	boardRect := image.Rect(origin.X, origin.Y, origin.X+boardSize, origin.Y+boardSize)

	img := image.NewRGBA(image.Rect(0, 0, boardSize+sideMargin*2, boardSize+topMargin+bottomMargin))
	imagedraw.Draw(img, img.Bounds(), image.NewUniform(backgroundColor), image.Point{}, imagedraw.Src)

	drawHUD(img, opts, boardRect)
	drawSquares(img, origin)
	drawHighlight(img, b, opts.Highlight, origin, flip)
	if err := drawPieces(img, b, origin, flip); err != nil {
		return nil, err
	}
	drawCoordinates(img, origin, flip)

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// cell converts board coordinates to screen cell coordinates.
func cell(row, col int, flip bool) (int, int) {
	if flip {
		return 7 - row, 7 - col
	}
	return row, col
}

func squareRect(row, col int, origin image.Point, flip bool) image.Rectangle {
	r, c := cell(row, col, flip)
	x := origin.X + c*squareSize
	y := origin.Y + r*squareSize
	return image.Rect(x, y, x+squareSize, y+squareSize)
}

func drawSquares(dst imagedraw.Image, origin image.Point) {
	for r := 0; r < 8; r++ {
		for c := 0; c < 8; c++ {
			clr := lightSquare
			if (r+c)%2 == 1 {
				clr = darkSquare
			}
			x := origin.X + c*squareSize
			y := origin.Y + r*squareSize
			imagedraw.Draw(dst, image.Rect(x, y, x+squareSize, y+squareSize), image.NewUniform(clr), image.Point{}, imagedraw.Src)
		}
	}
}

func drawPieces(dst imagedraw.Image, b board.Board, origin image.Point, flip bool) error {
	for r := 0; r < 8; r++ {
		for c := 0; c < 8; c++ {
			piece := b[r][c]
			if piece == "" {
				continue
			}
			pimg, err := renderPieceImage(piece, squareSize)
			if err != nil {
				return err
			}
			imagedraw.Draw(dst, squareRect(r, c, origin, flip), pimg, image.Point{}, imagedraw.Over)
		}
	}
	return nil
}

// drawHighlight fills both squares for white moves and draws an arrow for black moves.
func drawHighlight(img *image.RGBA, b board.Board, h *Highlight, origin image.Point, flip bool) {
	if h == nil || !board.InRange(h.FromRow, h.FromCol) || !board.InRange(h.ToRow, h.ToCol) {
		return
	}
	from := squareRect(h.FromRow, h.FromCol, origin, flip)
	to := squareRect(h.ToRow, h.ToCol, origin, flip)
	mover, ok := board.PieceColor(b[h.ToRow][h.ToCol])
	switch {
	case ok && mover == board.White:
		imagedraw.Draw(img, from, image.NewUniform(whiteMoveFill), image.Point{}, imagedraw.Over)
		imagedraw.Draw(img, to, image.NewUniform(whiteMoveFill), image.Point{}, imagedraw.Over)
	case ok && mover == board.Black:
		drawArrow(img, center(from), center(to), blackMoveArrow)
	default:
		drawArrow(img, center(from), center(to), neutralMoveArrow)
	}
}

func center(r image.Rectangle) image.Point {
	return image.Point{X: r.Min.X + r.Dx()/2, Y: r.Min.Y + r.Dy()/2}
}

func drawHUD(img *image.RGBA, opts Options, boardRect image.Rectangle) {
	face := basicfont.Face7x13
	drawer := &font.Drawer{Dst: img, Face: face}

	title := strings.TrimSpace(opts.Header)
	if title == "" {
		title = "Match"
	}
	turn := strings.TrimSpace(opts.Turn)

	turnBottom := boardRect.Min.Y - gapToBoard
	turnTop := turnBottom - turnHeight
	titleBottom := turnTop - panelGap
	titleTop := titleBottom - titleHeight

	titleRect := image.Rect(boardRect.Min.X, titleTop, boardRect.Max.X, titleBottom)
	drawRoundedPanel(img, titleRect, panelRadius, hudPanelColor)
	drawCenteredString(drawer, titleRect, truncateWithEllipsis(face, title, titleRect.Dx()-24), hudTextPrimary)

	if turn != "" {
		w := drawer.MeasureString(turn).Round() + 40
		turnRect := image.Rect(boardRect.Min.X, turnTop, boardRect.Min.X+w, turnBottom)
		drawRoundedPanel(img, turnRect, panelRadius, hudTurnPanelColor)
		drawCenteredString(drawer, turnRect, turn, hudTurnTextColor)
	}
}

func drawCoordinates(dst imagedraw.Image, origin image.Point, flip bool) {
	face := basicfont.Face7x13
	drawer := &font.Drawer{Dst: dst, Face: face, Src: image.NewUniform(coordinateTextColor)}
	ascent := face.Metrics().Ascent.Ceil()

	for i := 0; i < 8; i++ {
		row, col := i, i
		if flip {
			row, col = 7-i, 7-i
		}
		rank := string(rune('8' - row))
		file := string(rune('a' + col))
		rankCenter := origin.Y + i*squareSize + squareSize/2
		fileCenter := origin.X + i*squareSize + squareSize/2
		drawCenteredText(drawer, rank, origin.X-sideMargin/2, rankCenter+ascent/2)
		drawCenteredText(drawer, file, fileCenter, origin.Y+boardSize+ascent+4)
	}
}

func drawCenteredText(drawer *font.Drawer, text string, centerX, baseline int) {
	if text == "" {
		return
	}
	width := drawer.MeasureString(text).Round()
	drawer.Dot = fixed.P(centerX-width/2, baseline)
	drawer.DrawString(text)
}

func drawCenteredString(drawer *font.Drawer, rect image.Rectangle, text string, clr color.Color) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	metrics := drawer.Face.Metrics()
	width := drawer.MeasureString(text).Round()
	x := rect.Min.X + (rect.Dx()-width)/2
	if x < rect.Min.X {
		x = rect.Min.X
	}
	baseline := rect.Min.Y + (rect.Dy()+metrics.Ascent.Ceil()-metrics.Descent.Ceil())/2
	drawer.Src = image.NewUniform(clr)
	drawer.Dot = fixed.P(x, baseline)
	drawer.DrawString(text)
}

func truncateWithEllipsis(face font.Face, text string, maxWidth int) string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" || maxWidth <= 0 {
		return trimmed
	}
	drawer := font.Drawer{Face: face}
	if drawer.MeasureString(trimmed).Round() <= maxWidth {
		return trimmed
	}
	const ellipsis = "..."
	runes := []rune(trimmed)
	for len(runes) > 0 {
		runes = runes[:len(runes)-1]
		candidate := string(runes) + ellipsis
		if drawer.MeasureString(candidate).Round() <= maxWidth {
			return candidate
		}
	}
	return ellipsis
}
