package report

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/sebcam/sebcamd/internal/journal"
)

// Options select which journal window to render and where to write the page.
type Options struct {
	DSN   string        // journal DSN, must be readable (SQLite or PostgreSQL)
	Name  string        // capture process name
	Since time.Duration // how far back to look; 0 means the whole journal
	Out   string        // output HTML path
}

// timeAxisFormat labels chart points down to the second.
const timeAxisFormat = "15:04:05"

// Generate renders the post-run HTML report: CPU, memory, and descriptor
// charts built from journal samples, plus the lifecycle event timeline.
// ClickHouse journals are write-only and cannot back a report.
func Generate(ctx context.Context, o Options) error {
	reader, closeReader, err := journal.OpenReader(o.DSN)
	if err != nil {
		return err
	}
	defer func() { _ = closeReader() }()

	var since time.Time
	if o.Since > 0 {
		since = time.Now().Add(-o.Since)
	}
	events, err := reader.EventsSince(ctx, o.Name, since)
	if err != nil {
		return fmt.Errorf("read journal events: %w", err)
	}
	samples, err := reader.SamplesSince(ctx, o.Name, since)
	if err != nil {
		return fmt.Errorf("read journal samples: %w", err)
	}
	if len(events) == 0 && len(samples) == 0 {
		return fmt.Errorf("journal has no records for %q", o.Name)
	}

	page := components.NewPage()
	page.SetPageTitle(fmt.Sprintf("%s capture report", o.Name))
	// A single sample cannot make a line; skip the resource charts then and
	// let the event timeline carry the report.
	if len(samples) >= 2 {
		page.AddCharts(
			cpuChart(o.Name, samples),
			memoryChart(o.Name, samples),
			descriptorChart(o.Name, samples),
		)
	}
	if len(events) > 0 {
		page.AddCharts(eventChart(o.Name, events))
	}

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		return fmt.Errorf("render report: %w", err)
	}
	if dir := filepath.Dir(o.Out); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	if err := os.WriteFile(o.Out, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

func sampleAxis(samples []journal.Sample) []string {
	x := make([]string, 0, len(samples))
	for _, s := range samples {
		x = append(x, s.At.Format(timeAxisFormat))
	}
	return x
}

func cpuChart(name string, samples []journal.Sample) *charts.Line {
	y := make([]opts.LineData, 0, len(samples))
	for _, s := range samples {
		y = append(y, opts.LineData{Value: s.CPUPercent})
	}
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: name + " CPU usage"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "Time"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "CPU %"}),
	)
	line.SetXAxis(sampleAxis(samples)).
		AddSeries("CPU", y).
		SetSeriesOptions(charts.WithLineChartOpts(opts.LineChart{Smooth: opts.Bool(true)}))
	return line
}

func memoryChart(name string, samples []journal.Sample) *charts.Line {
	rss := make([]opts.LineData, 0, len(samples))
	vms := make([]opts.LineData, 0, len(samples))
	for _, s := range samples {
		rss = append(rss, opts.LineData{Value: float64(s.RSSBytes) / (1 << 20)})
		vms = append(vms, opts.LineData{Value: float64(s.VMSBytes) / (1 << 20)})
	}
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: name + " memory"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "Time"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "MB"}),
	)
	line.SetXAxis(sampleAxis(samples)).
		AddSeries("RSS", rss).
		AddSeries("VMS", vms).
		SetSeriesOptions(charts.WithLineChartOpts(opts.LineChart{Smooth: opts.Bool(true)}))
	return line
}

func descriptorChart(name string, samples []journal.Sample) *charts.Line {
	threads := make([]opts.LineData, 0, len(samples))
	fds := make([]opts.LineData, 0, len(samples))
	for _, s := range samples {
		threads = append(threads, opts.LineData{Value: s.NumThreads})
		fds = append(fds, opts.LineData{Value: s.NumFDs})
	}
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: name + " threads and descriptors"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "Time"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "Count"}),
	)
	line.SetXAxis(sampleAxis(samples)).
		AddSeries("threads", threads).
		AddSeries("fds", fds).
		SetSeriesOptions(charts.WithLineChartOpts(opts.LineChart{Smooth: opts.Bool(true)}))
	return line
}

func eventChart(name string, events []journal.Event) *charts.Scatter {
	x := make([]string, 0, len(events))
	y := make([]opts.ScatterData, 0, len(events))
	for _, e := range events {
		x = append(x, e.At.Format(timeAxisFormat))
		label := string(e.Type)
		if e.Detail != "" {
			label += ": " + e.Detail
		}
		y = append(y, opts.ScatterData{
			Name:       label,
			Value:      1,
			Symbol:     "circle",
			SymbolSize: 12,
		})
	}
	sc := charts.NewScatter()
	sc.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: name + " lifecycle events"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "Time"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Formatter: "{b}"}),
	)
	sc.SetXAxis(x).AddSeries("events", y)
	return sc
}
