package apportion

import (
	"fmt"
	"sort"

	"github.com/politicai/apportion/pkg/config"
	"github.com/politicai/apportion/pkg/logging"
	"github.com/politicai/apportion/pkg/models"
	"github.com/politicai/apportion/pkg/normalize"
	"github.com/politicai/apportion/pkg/tabular"
)

// shareTolerance absorbs rounding in hand-entered shares
const shareTolerance = 1e-6

// ReadMappings reads the sub-district to constituency share rows. A missing
// or invalid share degrades to 0 with a warning. Shares of one sub-district
// summing above 1 are reported but kept.
func ReadMappings(table *tabular.Table, cfg config.Mapping, norm *normalize.Normalizer, report *Report, log *logging.FieldLogger) ([]models.ShareMapping, error) {
	cols, err := table.ResolveAll(map[string]tabular.Selector{
		"sub_district": cfg.SubDistrict,
		"constituency": cfg.Constituency,
		"state_code":   cfg.StateCode,
		"share":        cfg.Share,
	})
	if err != nil {
		return nil, err
	}
	districtCol, err := optionalColumn(table, cfg.District)
	if err != nil {
		return nil, err
	}

	mappings := make([]models.ShareMapping, 0, table.Len())
	totals := make(map[scopedKey]float64)
	names := make(map[scopedKey]string)

	for r := 0; r < table.Len(); r++ {
		sub := table.Cell(r, cols["sub_district"])
		constituency := normalize.Text(table.Cell(r, cols["constituency"]))
		if sub == "" && constituency == "" {
			continue
		}
		if constituency == "" {
			report.Summary.InvalidShares++
			report.warn(WarnShareInvalid, table.Name, sub, fmt.Sprintf("row %d has no constituency", r+2))
			log.Warn("Mapping row without constituency", logging.String("sub_district", sub), logging.Int("row", r+2))
			continue
		}

		m := models.ShareMapping{
			Row:          r + 2,
			StateCode:    stateCode(table.Cell(r, cols["state_code"])),
			SubDistrict:  sub,
			Constituency: constituency,
		}
		if districtCol >= 0 {
			m.District = normalize.Text(table.Cell(r, districtCol))
		}

		raw := table.Cell(r, cols["share"])
		share, ok := parseNumber(raw)
		if !ok || raw == "" || share < 0 || share > 1+shareTolerance {
			report.Summary.InvalidShares++
			w := report.warn(WarnShareInvalid, table.Name, fmt.Sprintf("%s -> %s", sub, constituency), fmt.Sprintf("share %q treated as 0", raw))
			log.Warn("Invalid share", logging.String("table", w.Table), logging.String("sub_district", sub),
				logging.String("constituency", constituency), logging.String("value", raw))
			share = 0
		}
		m.Share = share

		if key := norm.Key(sub); key != "" {
			sk := scopedKey{state: m.StateCode, key: key}
			totals[sk] += share
			if _, seen := names[sk]; !seen {
				names[sk] = sub
			}
		}
		mappings = append(mappings, m)
	}

	overflows := make([]scopedKey, 0)
	for sk, total := range totals {
		if total > 1+shareTolerance {
			overflows = append(overflows, sk)
		}
	}
	sort.Slice(overflows, func(i, j int) bool {
		if overflows[i].state != overflows[j].state {
			return overflows[i].state < overflows[j].state
		}
		return overflows[i].key < overflows[j].key
	})
	for _, sk := range overflows {
		report.Summary.ShareOverflows++
		report.warn(WarnShareOverflow, table.Name, names[sk], fmt.Sprintf("shares sum to %.4f", totals[sk]))
		log.Warn("Shares exceed 1", logging.String("sub_district", names[sk]), logging.Float("total", totals[sk]))
	}

	report.Summary.MappingRows = len(mappings)
	return mappings, nil
}
