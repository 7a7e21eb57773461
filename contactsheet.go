package styletransfer

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"sync"

	"github.com/golang/freetype"
	"github.com/golang/freetype/truetype"
	"github.com/wbrown/styletransfer/imageutil"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
)

const (
	sheetPadding  = 4
	sheetLabelPt  = 12.0
	sheetLabelGap = 18
)

var (
	labelFontOnce sync.Once
	labelFont     *truetype.Font
	labelFontErr  error
)

func loadLabelFont() (*truetype.Font, error) {
	labelFontOnce.Do(func() {
		labelFont, labelFontErr = freetype.ParseFont(goregular.TTF)
	})
	return labelFont, labelFontErr
}

// ContactSheet lays the snapshots out in a grid, cols wide, each scaled
// to thumbWidth pixels and captioned with its iteration and loss.
func ContactSheet(snapshots []Snapshot, cols, thumbWidth int) (*imageutil.RGBAImage, error) {
	if len(snapshots) == 0 {
		return nil, ErrNoImage
	}
	if cols <= 0 || thumbWidth <= 0 {
		return nil, fmt.Errorf("invalid grid: %d columns of width %d", cols, thumbWidth)
	}
	cols = min(cols, len(snapshots))
	rows := (len(snapshots) + cols - 1) / cols

	thumbs := make([]*imageutil.RGBAImage, len(snapshots))
	thumbHeight := 0
	for i, s := range snapshots {
		thumbs[i] = imageutil.ResizeToWidth(s.Image, thumbWidth, imageutil.InterpolationArea)
		thumbHeight = max(thumbHeight, thumbs[i].Height())
	}

	cellW := thumbWidth + sheetPadding
	cellH := thumbHeight + sheetLabelGap + sheetPadding
	sheet := imageutil.NewRGBAImage(cols*cellW+sheetPadding, rows*cellH+sheetPadding)
	draw.Draw(sheet.RGBA, sheet.Bounds(), image.NewUniform(color.RGBA{R: 24, G: 24, B: 24, A: 255}),
		image.Point{}, draw.Src)

	f, err := loadLabelFont()
	if err != nil {
		return nil, fmt.Errorf("failed to parse label font: %w", err)
	}
	ctx := freetype.NewContext()
	ctx.SetDPI(72)
	ctx.SetFont(f)
	ctx.SetFontSize(sheetLabelPt)
	ctx.SetClip(sheet.Bounds())
	ctx.SetDst(sheet.RGBA)
	ctx.SetSrc(image.White)
	ctx.SetHinting(font.HintingFull)

	for i, s := range snapshots {
		x0 := sheetPadding + (i%cols)*cellW
		y0 := sheetPadding + (i/cols)*cellH
		th := thumbs[i]
		draw.Draw(sheet.RGBA, image.Rect(x0, y0, x0+th.Width(), y0+th.Height()),
			th.RGBA, image.Point{}, draw.Src)

		label := fmt.Sprintf("#%d  %.4g", s.Iteration, s.Loss)
		pt := freetype.Pt(x0, y0+thumbHeight+sheetLabelGap-5)
		if _, err := ctx.DrawString(label, pt); err != nil {
			return nil, fmt.Errorf("failed to draw label: %w", err)
		}
	}
	return sheet, nil
}
