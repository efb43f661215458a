// Command desktop opens a window showing the output trace of a source file.
// Press R to reload and re-run the file, arrow keys to scroll.
package main

import (
	"context"
	"fmt"
	"image/color"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/inpututil"
	"github.com/hajimehoshi/ebiten/v2/text/v2"
	"golang.org/x/image/font/basicfont"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"omnivm/pkg/config"
	"omnivm/pkg/runner"
	"omnivm/pkg/utils"
)

const (
	screenWidth  = 640
	screenHeight = 480
	lineHeight   = 16
	margin       = 8
)

var (
	textColor  = color.RGBA{0xd0, 0xd0, 0xd0, 0xff}
	errorColor = color.RGBA{0xff, 0x60, 0x60, 0xff}
	background = color.RGBA{0x10, 0x10, 0x18, 0xff}

	face = text.NewGoXFace(basicfont.Face7x13)
)

type Game struct {
	path   string
	runner *runner.Runner
	lines  []string
	scroll int
}

// reload reads the source file again and runs it.
func (g *Game) reload() {
	src, err := os.ReadFile(g.path)
	if err != nil {
		g.lines = []string{runner.DiagnosticPrefix + err.Error()}
		return
	}
	g.lines = trace(g.runner.Execute(context.Background(), string(src)))
	g.scroll = 0
}

// trace splits run output into display lines with a header.
func trace(out string) []string {
	return append([]string{"--- output (R reloads) ---"}, strings.Split(out, "\n")...)
}

func visibleRows() int { return (screenHeight - 2*margin) / lineHeight }

func (g *Game) maxScroll() int {
	return max(0, len(g.lines)-visibleRows())
}

func (g *Game) Update() error {
	if inpututil.IsKeyJustPressed(ebiten.KeyR) {
		g.reload()
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyDown) {
		g.scroll = min(g.scroll+1, g.maxScroll())
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyUp) {
		g.scroll = max(g.scroll-1, 0)
	}
	return nil
}

func (g *Game) Draw(screen *ebiten.Image) {
	screen.Fill(background)
	end := min(len(g.lines), g.scroll+visibleRows())
	for row, line := range g.lines[g.scroll:end] {
		clr := textColor
		if strings.HasPrefix(line, runner.DiagnosticPrefix) {
			clr = errorColor
		}
		op := &text.DrawOptions{}
		op.GeoM.Translate(margin, float64(margin+row*lineHeight))
		op.ColorScale.ScaleWithColor(clr)
		text.Draw(screen, line, face, op)
	}
}

func (g *Game) Layout(outsideWidth, outsideHeight int) (int, int) {
	return screenWidth, screenHeight
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: desktop <file.c>")
		os.Exit(2)
	}
	fullPath, baseDir, err := utils.ResolveSource(os.Args[1])
	if err != nil {
		log.Fatalf("Failed to open source file: %v", err)
	}

	cfg, err := config.FindAndLoad(baseDir)
	if err != nil {
		log.Fatalf("Config: %v", err)
	}
	commonlog.Configure(cfg.Log.Verbosity, cfg.LogFile())
	r, err := runner.FromConfig(cfg, nil)
	if err != nil {
		log.Fatalf("Runner: %v", err)
	}

	game := &Game{path: fullPath, runner: r}
	game.reload()

	ebiten.SetWindowResizingMode(ebiten.WindowResizingModeEnabled)
	ebiten.SetWindowSize(screenWidth, screenHeight)
	ebiten.SetWindowTitle("OmniVM - " + filepath.Base(fullPath))
	if err := ebiten.RunGame(game); err != nil {
		log.Fatal(err)
	}
}
