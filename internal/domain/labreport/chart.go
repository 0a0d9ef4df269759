package labreport

import (
	"bytes"
	"fmt"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
)

// Point is one numeric value of an analyte at a visit.
type Point struct {
	Date  string  `json:"date"`
	Value float64 `json:"value"`
	Unit  string  `json:"unit,omitempty"`
}

// Series returns the numeric values of key across visits, oldest first.
// Values whose unit differs from the most recent one are left out.
func Series(reports []Report, key string) (label string, points []Point) {
	sorted := ordered(reports)
	unit := ""
	for i := range sorted {
		it, ok := sorted[i].find(key)
		if !ok || IsFreeform(it) {
			continue
		}
		v, ok := it.Value.Float()
		if !ok {
			continue
		}
		if label == "" {
			label, unit = it.Label, it.Unit
		}
		if !unitsCompatible(unit, it.Unit) {
			continue
		}
		points = append(points, Point{Date: sorted[i].Visit.Date, Value: v, Unit: it.Unit})
	}
	for i, j := 0, len(points)-1; i < j; i, j = i+1, j-1 {
		points[i], points[j] = points[j], points[i]
	}
	if label == "" {
		label = key
	}
	return label, points
}

// TrendChart renders an HTML line chart of one analyte across visits. It
// returns "" when the analyte has no numeric values.
func TrendChart(reports []Report, key string) (string, error) {
	label, points := Series(reports, key)
	if len(points) == 0 {
		return "", nil
	}

	xAxis := make([]string, 0, len(points))
	yData := make([]opts.LineData, 0, len(points))
	for _, p := range points {
		xAxis = append(xAxis, p.Date)
		yData = append(yData, opts.LineData{Value: p.Value})
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{
			Title: label,
		}),
		charts.WithTooltipOpts(opts.Tooltip{
			Show: opts.Bool(true),
		}),
		charts.WithLegendOpts(opts.Legend{
			Show: opts.Bool(false),
		}),
		charts.WithYAxisOpts(opts.YAxis{
			Name: points[len(points)-1].Unit,
		}),
	)
	line.SetXAxis(xAxis).
		AddSeries(label, yData).
		SetSeriesOptions(
			charts.WithLineChartOpts(opts.LineChart{
				Smooth:     opts.Bool(true),
				ShowSymbol: opts.Bool(true),
			}),
			charts.WithMarkPointNameTypeItemOpts(
				opts.MarkPointNameTypeItem{Name: "Max", Type: "max"},
				opts.MarkPointNameTypeItem{Name: "Min", Type: "min"},
			),
		)

	var buf bytes.Buffer
	if err := line.Render(&buf); err != nil {
		return "", fmt.Errorf("render trend chart: %w", err)
	}
	return buf.String(), nil
}
