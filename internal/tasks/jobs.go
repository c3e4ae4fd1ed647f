package tasks

import (
	"context"
	"io"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"hypstar-handler/internal/config"
	"hypstar-handler/internal/db"
	"hypstar-handler/internal/driver"
	"hypstar-handler/internal/model"
	"hypstar-handler/internal/output"
	"hypstar-handler/internal/protocol"
	"hypstar-handler/internal/relay"
	"hypstar-handler/internal/session"
)

// Serials connects and returns the instrument and radiometer serial numbers.
func Serials(ctx context.Context, cfg config.Config, c driver.Connector) (session.Serials, error) {
	sess, err := Open(ctx, cfg, c, nil)
	if err != nil {
		return session.Serials{}, err
	}
	defer sess.Close()
	return sess.Serials()
}

// EnvLog connects and writes the latest environmental record to w as a CSV line.
func EnvLog(ctx context.Context, cfg config.Config, c driver.Connector, w io.Writer) (protocol.EnvLog, error) {
	sess, err := Open(ctx, cfg, c, w)
	if err != nil {
		return protocol.EnvLog{}, err
	}
	defer sess.Close()
	rec, err := sess.EnvLog()
	if err != nil {
		log.Error().Err(err).Msg("read env log failed")
		return rec, err
	}
	_, err = io.WriteString(w, rec.CSVLine()+"\n")
	return rec, err
}

// HistoryOptions selects and optionally exports capture history rows.
type HistoryOptions struct {
	Limit int
	// JSONPath and CSVPath export the selected rows when set.
	JSONPath string
	CSVPath  string
}

// History returns the newest captures from the history database.
func History(ctx context.Context, cfg config.Config, opts HistoryOptions) ([]model.Capture, error) {
	h, err := db.Open(cfg.Storage.DBPath)
	if err != nil {
		return nil, err
	}
	defer h.Close()
	rows, err := h.ListCaptures(ctx, opts.Limit)
	if err != nil {
		return nil, err
	}
	if opts.JSONPath != "" {
		if err := output.WriteJSON(opts.JSONPath, rows); err != nil {
			return rows, err
		}
	}
	if opts.CSVPath != "" {
		if err := output.WriteCSV(opts.CSVPath, rows); err != nil {
			return rows, err
		}
	}
	return rows, nil
}

// HistoryStats summarises the history database as JSON.
func HistoryStats(ctx context.Context, cfg config.Config) ([]byte, error) {
	h, err := db.Open(cfg.Storage.DBPath)
	if err != nil {
		return nil, err
	}
	defer h.Close()
	return h.StatsJSON(ctx)
}

// PowerCycle switches the instrument off and on through the configured relay.
func PowerCycle(ctx context.Context, cfg config.Config) error {
	if !cfg.Relay.Enabled {
		return errors.New("relay is not enabled in the configuration")
	}
	r, err := relay.New(cfg.Relay)
	if err != nil {
		return err
	}
	return r.PowerCycle(ctx)
}
