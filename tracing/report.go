package tracing

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/smart-fm/simmobility-prod-sub015/datarecording"
)

// RegisterTables binds every table a DBTracer writes to its entry type.
func RegisterTables(r *datarecording.Reader) {
	for _, t := range tables {
		r.Register(t.name, t.sample)
	}
}

// Summary condenses a recorded run.
type Summary struct {
	Ticks         int
	LastTick      uint64
	SimMS         uint64
	MeanEntities  float64
	PeakEntities  int
	Born          int
	Died          int
	Failures      int
	Removed       int
	Rebalances    int
	Moves         int
	MeanUpdateUS  float64
	MeanFlipUS    float64
	PeakImbalance float64
}

// Summarize reads the tables of a recording written by a DBTracer.
func Summarize(ctx context.Context, r *datarecording.Reader) (Summary, error) {
	RegisterTables(r)

	rows, err := r.Rows(ctx, TickTable, datarecording.Filter{OrderBy: "Tick"})
	if err != nil {
		return Summary{}, err
	}

	var (
		s                      Summary
		entities, update, flip int64
	)

	for _, row := range rows {
		e := row.(*TickEntry)

		s.Ticks++
		s.LastTick = e.Tick
		s.SimMS = e.SimMS
		s.PeakEntities = max(s.PeakEntities, e.Entities)
		s.PeakImbalance = max(s.PeakImbalance, e.Imbalance)
		s.Born += e.Born
		s.Died += e.Died
		s.Failures += e.Failures

		entities += int64(e.Entities)
		update += e.UpdateUS
		flip += e.FlipUS
	}

	if s.Ticks > 0 {
		n := float64(s.Ticks)
		s.MeanEntities = float64(entities) / n
		s.MeanUpdateUS = float64(update) / n
		s.MeanFlipUS = float64(flip) / n
	}

	counts := []struct {
		dst   *int
		table string
		where string
		args  []any
	}{
		{&s.Removed, FailureTable, "Removed = ?", []any{true}},
		{&s.Rebalances, RebalanceTable, "", nil},
		{&s.Moves, MoveTable, "", nil},
	}

	for _, c := range counts {
		if *c.dst, err = r.Count(ctx, c.table, c.where, c.args...); err != nil {
			return Summary{}, err
		}
	}

	return s, nil
}

// Print writes the summary as an aligned two-column listing.
func (s Summary) Print(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)

	fmt.Fprintf(tw, "ticks\t%d\n", s.Ticks)
	fmt.Fprintf(tw, "last tick\t%d\n", s.LastTick)
	fmt.Fprintf(tw, "simulated ms\t%d\n", s.SimMS)
	fmt.Fprintf(tw, "mean entities\t%.1f\n", s.MeanEntities)
	fmt.Fprintf(tw, "peak entities\t%d\n", s.PeakEntities)
	fmt.Fprintf(tw, "born\t%d\n", s.Born)
	fmt.Fprintf(tw, "died\t%d\n", s.Died)
	fmt.Fprintf(tw, "failures\t%d\n", s.Failures)
	fmt.Fprintf(tw, "removed after failures\t%d\n", s.Removed)
	fmt.Fprintf(tw, "rebalances\t%d\n", s.Rebalances)
	fmt.Fprintf(tw, "moves\t%d\n", s.Moves)
	fmt.Fprintf(tw, "mean update us\t%.1f\n", s.MeanUpdateUS)
	fmt.Fprintf(tw, "mean flip us\t%.1f\n", s.MeanFlipUS)
	fmt.Fprintf(tw, "peak imbalance\t%.3f\n", s.PeakImbalance)

	return tw.Flush()
}
