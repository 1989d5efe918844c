// Package export writes ranked lead lists to CSV.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/territory-intel/internal/model"
)

var csvHeader = []string{
	"name",
	"phone",
	"website",
	"address",
	"primary_type",
	"industry_bucket",
	"mobility_fit",
	"security_fit",
	"voip_fit",
	"fleet_attach",
	"rating",
	"review_count",
	"total_score",
	"ai_reason",
}

// WriteCSV writes places to w as a ranked CSV, highest total score
// first. Unscored places sort last.
func WriteCSV(w io.Writer, places []*model.Place) error {
	ranked := make([]*model.Place, len(places))
	copy(ranked, places)
	sort.SliceStable(ranked, func(i, j int) bool {
		return scoreOf(ranked[i]) > scoreOf(ranked[j])
	})

	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return eris.Wrap(err, "export: write header")
	}
	for _, p := range ranked {
		if err := cw.Write(row(p)); err != nil {
			return eris.Wrapf(err, "export: write row for %s", p.PlaceID)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return eris.Wrap(err, "export: flush")
	}

	return nil
}

// WriteFile writes places to path, creating parent directories.
func WriteFile(path string, places []*model.Place) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return eris.Wrapf(err, "export: create dir %s", dir)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "export: create %s", path)
	}
	defer f.Close()

	if err := WriteCSV(f, places); err != nil {
		return err
	}
	if err := f.Close(); err != nil {
		return eris.Wrapf(err, "export: close %s", path)
	}

	zap.L().Info("export written",
		zap.String("path", path),
		zap.Int("rows", len(places)))

	return nil
}

func scoreOf(p *model.Place) float64 {
	if p.TotalScore == nil {
		return -1
	}
	return *p.TotalScore
}

func row(p *model.Place) []string {
	return []string{
		model.Deref(p.Name),
		model.Deref(p.Phone),
		model.Deref(p.Website),
		model.Deref(p.Address),
		model.Deref(p.PrimaryType),
		model.Deref(p.IndustryBucket),
		intCell(p.MobilityFit),
		intCell(p.SecurityFit),
		intCell(p.VoipFit),
		intCell(p.FleetAttach),
		floatCell(p.Rating),
		intCell(p.ReviewCount),
		floatCell(p.TotalScore),
		model.Deref(p.AIReason),
	}
}

func intCell(v *int64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatInt(*v, 10)
}

func floatCell(v *float64) string {
	if v == nil {
		return ""
	}
	return fmt.Sprintf("%g", *v)
}
