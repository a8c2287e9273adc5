package migrator

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/seafleet/pivotx/pkg/db/watermark"
)

// Status renders a per-entity migration report: source data range, both
// watermarks, the backfill bound, and the newest row already written to the
// destination.
func (a *App) Status(ctx context.Context) (string, error) {
	var b strings.Builder
	w := tabwriter.NewWriter(&b, 0, 0, 2, ' ', 0)

	fmt.Fprintf(w, "ENTITY\tSOURCE RANGE\tBACKFILL\tBOUND\tSTREAMING\tDEST LATEST\n")
	for _, entityID := range a.Config.EntityIDs {
		dataRange, hasData, err := a.Narrow.DataTimeRange(ctx, entityID, nil)
		if err != nil {
			return "", err
		}

		backfill, hasBackfill, err := a.Watermarks.Get(ctx, entityID, watermark.ModeBackfill)
		if err != nil {
			return "", err
		}
		bound, hasBound, err := a.Watermarks.BackfillBound(ctx, entityID)
		if err != nil {
			return "", err
		}
		streaming, hasStreaming, err := a.Watermarks.Get(ctx, entityID, watermark.ModeStreaming)
		if err != nil {
			return "", err
		}
		latest, hasLatest, err := a.Wide.LatestTimestamp(ctx, entityID)
		if err != nil {
			return "", err
		}

		sourceRange := "-"
		if hasData {
			sourceRange = fmt.Sprintf("%s .. %s", formatTS(dataRange.Start), formatTS(dataRange.End))
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			entityID,
			sourceRange,
			formatOptTS(backfill, hasBackfill),
			formatOptTS(bound, hasBound),
			formatOptTS(streaming, hasStreaming),
			formatOptTS(latest, hasLatest),
		)
	}

	if err := w.Flush(); err != nil {
		return "", err
	}
	fmt.Fprintf(&b, "\nentities=%d workers=%d chunk_width=%s\n",
		len(a.Config.EntityIDs), a.Workers, a.Config.ChunkWidth)
	return b.String(), nil
}

func formatTS(t time.Time) string {
	return t.UTC().Format("2006-01-02 15:04:05")
}

func formatOptTS(t time.Time, ok bool) string {
	if !ok {
		return "-"
	}
	return formatTS(t)
}
