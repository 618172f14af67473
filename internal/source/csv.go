// Package source loads ranked domain lists.
package source

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/webtaxon/webtaxon/internal/domain"
	"github.com/webtaxon/webtaxon/internal/pipeline"
)

// CSV reads a Tranco-style "rank,domain" list from disk.
type CSV struct {
	path   string
	logger *zap.Logger
}

// NewCSV builds a CSV source over the file at path.
func NewCSV(path string, logger *zap.Logger) *CSV {
	return &CSV{path: path, logger: logger}
}

// Load returns up to limit entries in file order. A limit <= 0 loads the
// whole file. Rows that do not parse are skipped with a warning rather than
// failing the load.
func (c *CSV) Load(ctx context.Context, limit int) ([]pipeline.RankedDomain, error) {
	f, err := os.Open(c.path)
	if err != nil {
		return nil, fmt.Errorf("open domain list: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1

	var domains []pipeline.RankedDomain
	for {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("domain list load canceled: %w", err)
		}
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read domain list row: %w", err)
		}
		if len(record) < 2 {
			c.logger.Warn("skipping short row", zap.Strings("row", record))
			continue
		}

		rank, err := strconv.Atoi(strings.TrimSpace(record[0]))
		if err != nil {
			// The first row of some exports is a header.
			if len(domains) == 0 {
				continue
			}
			c.logger.Warn("skipping row with non-numeric rank", zap.String("rank", record[0]))
			continue
		}

		domains = append(domains, pipeline.RankedDomain{
			Rank:   rank,
			Domain: domain.Normalize(record[1]),
		})
		if limit > 0 && len(domains) >= limit {
			break
		}
	}

	c.logger.Info("loaded ranked domain list",
		zap.String("path", c.path),
		zap.Int("domains", len(domains)),
	)
	return domains, nil
}
