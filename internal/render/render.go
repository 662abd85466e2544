// 包 render：根据当前快照绘制汇总图（总数、最近刷新时间、估算 GDP 前五名）
package render

import (
	"bytes"
	"fmt"
	"sort"
	"time"

	"github.com/fogleman/gg"
	"golang.org/x/image/font/basicfont"

	"country-api/internal/cache"
)

const (
	imgWidth  = 640
	imgHeight = 400
	topN      = 5
)

// TopByGDP：按估算 GDP 降序取前 n 个实体
// 约束：无估值实体不参与排名，也不会用于补位；并列按名称升序保证确定性
func TopByGDP(entities []cache.Country, n int) []cache.Country {
	ranked := make([]cache.Country, 0, len(entities))
	for _, e := range entities {
		if e.EstimatedGDP != nil {
			ranked = append(ranked, e)
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if *ranked[i].EstimatedGDP == *ranked[j].EstimatedGDP {
			return cache.Key(ranked[i].Name) < cache.Key(ranked[j].Name)
		}
		return *ranked[i].EstimatedGDP > *ranked[j].EstimatedGDP
	})
	if len(ranked) > n {
		ranked = ranked[:n]
	}
	return ranked
}

// Summary：绘制固定版式的 PNG 汇总图
// 背景：相同快照与状态输入产出相同内容；编码层的非确定性可接受
func Summary(entities []cache.Country, total int, refreshedAt *time.Time) ([]byte, error) {
	dc := gg.NewContext(imgWidth, imgHeight)
	dc.SetRGB(1, 1, 1)
	dc.Clear()
	dc.SetFontFace(basicfont.Face7x13)

	dc.SetRGB(0.1, 0.1, 0.1)
	dc.DrawString("Country Cache Summary", 24, 36)
	dc.DrawLine(24, 46, imgWidth-24, 46)
	dc.SetLineWidth(1)
	dc.Stroke()

	refreshed := "never"
	if refreshedAt != nil {
		refreshed = refreshedAt.UTC().Format(time.RFC3339)
	}
	dc.SetRGB(0.2, 0.2, 0.2)
	dc.DrawString(fmt.Sprintf("Total countries: %d", total), 24, 76)
	dc.DrawString("Last refreshed:  "+refreshed, 24, 96)

	dc.SetRGB(0.1, 0.1, 0.1)
	dc.DrawString("Top 5 by estimated GDP", 24, 136)
	y := 160.0
	for i, e := range TopByGDP(entities, topN) {
		line := fmt.Sprintf("%d. %-28s %-4s %18.2f", i+1, clip(e.Name, 28), e.CurrencyCode, *e.EstimatedGDP)
		dc.SetRGB(0.25, 0.25, 0.25)
		dc.DrawString(line, 24, y)
		y += 24
	}

	var buf bytes.Buffer
	if err := dc.EncodePNG(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
