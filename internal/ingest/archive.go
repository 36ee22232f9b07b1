package ingest

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/alanyoungcy/wagerwatch/internal/domain"
)

// Archiver writes replayed event batches to object storage as CSV.
type Archiver struct {
	writer domain.BlobWriter
	prefix string
	logger *slog.Logger
}

// NewArchiver creates an Archiver writing under prefix.
func NewArchiver(w domain.BlobWriter, prefix string, logger *slog.Logger) *Archiver {
	return &Archiver{
		writer: w,
		prefix: strings.Trim(prefix, "/"),
		logger: logger.With(slog.String("component", "archiver")),
	}
}

// Archive uploads evs, which must be in chain order, to
// {prefix}/{kind}/{fromBlock}-{toBlock}.csv and returns the path.
func (a *Archiver) Archive(ctx context.Context, kind domain.EventKind, evs []domain.Event) (string, error) {
	if len(evs) == 0 {
		return "", nil
	}
	data, err := eventsToCSV(evs)
	if err != nil {
		return "", fmt.Errorf("ingest: encode %s archive: %w", kind, err)
	}

	path := fmt.Sprintf("%s/%s/%d-%d.csv", a.prefix, kind, evs[0].Block, evs[len(evs)-1].Block)
	if a.prefix == "" {
		path = strings.TrimPrefix(path, "/")
	}
	if err := a.writer.Put(ctx, path, bytes.NewReader(data), "text/csv"); err != nil {
		return "", fmt.Errorf("ingest: upload %s: %w", path, err)
	}

	a.logger.Info("archived events",
		slog.String("kind", kind.String()),
		slog.Int("events", len(evs)),
		slog.String("s3_path", path),
	)
	return path, nil
}

// eventsToCSV converts events to CSV bytes with a header row. Wager columns
// are empty for flag events.
func eventsToCSV(evs []domain.Event) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	header := []string{
		"block",
		"log_index",
		"tx_hash",
		"kind",
		"match_id",
		"wager_id",
		"bettor",
		"amount",
		"outcome",
	}
	if err := w.Write(header); err != nil {
		return nil, fmt.Errorf("writing CSV header: %w", err)
	}

	for _, ev := range evs {
		row := []string{
			strconv.FormatUint(ev.Block, 10),
			strconv.FormatUint(uint64(ev.LogIndex), 10),
			ev.TxHash,
			ev.Kind.String(),
			strconv.FormatUint(ev.MatchID, 10),
			strconv.FormatUint(ev.WagerID, 10),
			"", "", "",
		}
		if ev.Wager != nil {
			row[6] = ev.Wager.Bettor
			row[7] = ev.Wager.Amount.String()
			row[8] = strconv.Itoa(ev.Wager.Outcome)
		}
		if err := w.Write(row); err != nil {
			return nil, fmt.Errorf("writing CSV row: %w", err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("flushing CSV writer: %w", err)
	}
	return buf.Bytes(), nil
}
