// Package report renders study and run results: an HTML study report
// with go-echarts and PNG learning curves with gonum/plot.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"sort"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/gonum/stat"

	"github.com/helios-labs/moonlander/internal/store"
	"github.com/helios-labs/moonlander/internal/sweep"
)

// StudyReport renders one study's trials as an HTML page.
type StudyReport struct {
	Study  *store.StudyRecord
	Trials []store.TrialRecord
}

// NewStudyReport loads a study and its trials from the store.
func NewStudyReport(s *store.Store, studyID string) (*StudyReport, error) {
	study, err := s.GetStudy(studyID)
	if err != nil {
		return nil, err
	}
	if study == nil {
		return nil, fmt.Errorf("study %s not found", studyID)
	}
	trials, err := s.Trials(studyID)
	if err != nil {
		return nil, err
	}
	return &StudyReport{Study: study, Trials: trials}, nil
}

// Render writes the HTML report.
func (r *StudyReport) Render(w io.Writer) error {
	page := components.NewPage()
	page.PageTitle = fmt.Sprintf("study %s", r.Study.Name)
	page.AddCharts(r.valueChart(), r.importanceChart())
	if err := page.Render(w); err != nil {
		return fmt.Errorf("rendering study report: %w", err)
	}
	return nil
}

// valueChart is trial value by number with a running-best overlay.
func (r *StudyReport) valueChart() components.Charter {
	var x []string
	var values []opts.ScatterData
	var runningBest []opts.LineData

	best := math.NaN()
	for _, trial := range r.Trials {
		x = append(x, fmt.Sprintf("%d", trial.Number))
		if trial.State == string(sweep.TrialComplete) && trial.Value != nil {
			v := *trial.Value
			values = append(values, opts.ScatterData{Value: v})
			if math.IsNaN(best) || r.better(v, best) {
				best = v
			}
		} else {
			values = append(values, opts.ScatterData{Value: nil})
		}
		if math.IsNaN(best) {
			runningBest = append(runningBest, opts.LineData{Value: nil})
		} else {
			runningBest = append(runningBest, opts.LineData{Value: best})
		}
	}

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{
			Title:    fmt.Sprintf("Study %s", r.Study.Name),
			Subtitle: fmt.Sprintf("%s %s, sampler %s", r.Study.Direction, r.Study.Metric, r.Study.Sampler),
		}),
		charts.WithXAxisOpts(opts.XAxis{Name: "trial"}),
		charts.WithYAxisOpts(opts.YAxis{Name: r.Study.Metric}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	scatter.SetXAxis(x).AddSeries("trial value", values,
		charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 8}))

	line := charts.NewLine()
	line.SetXAxis(x).AddSeries("running best", runningBest)
	scatter.Overlap(line)
	return scatter
}

// importanceChart is a bar chart of per-parameter importance, measured
// as the absolute correlation between a numeric parameter and the trial
// value over completed trials.
func (r *StudyReport) importanceChart() components.Charter {
	importance := r.Importances()

	names := make([]string, 0, len(importance))
	for name := range importance {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return importance[names[i]] > importance[names[j]] })

	var bars []opts.BarData
	for _, name := range names {
		bars = append(bars, opts.BarData{Value: importance[name]})
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: "Parameter importance", Subtitle: "abs. correlation with trial value"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	bar.SetXAxis(names).AddSeries("importance", bars,
		charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}))
	return bar
}

// Importances returns abs. Pearson correlation of each numeric parameter
// with the trial value across completed trials. Parameters with fewer
// than three numeric observations are omitted.
func (r *StudyReport) Importances() map[string]float64 {
	type row struct {
		params map[string]any
		value  float64
	}
	var rows []row
	names := make(map[string]bool)
	for _, trial := range r.Trials {
		if trial.State != string(sweep.TrialComplete) || trial.Value == nil {
			continue
		}
		var params map[string]any
		if err := json.Unmarshal(trial.Params, &params); err != nil {
			continue
		}
		rows = append(rows, row{params: params, value: *trial.Value})
		for name := range params {
			names[name] = true
		}
	}

	out := make(map[string]float64)
	for name := range names {
		var xs, ys []float64
		for _, rw := range rows {
			v, ok := asFloat(rw.params[name])
			if !ok {
				continue
			}
			xs = append(xs, v)
			ys = append(ys, rw.value)
		}
		if len(xs) < 3 {
			continue
		}
		c := stat.Correlation(xs, ys, nil)
		if math.IsNaN(c) {
			continue
		}
		out[name] = math.Abs(c)
	}
	return out
}

func (r *StudyReport) better(a, b float64) bool {
	if r.Study.Direction == sweep.DirectionMinimize {
		return a < b
	}
	return a > b
}

func asFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int:
		return float64(x), true
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
