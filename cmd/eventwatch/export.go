package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"eventWatch/internal/model"
)

func runExport(cmd *cobra.Command, _ []string) error {
	location, _ := cmd.Flags().GetString("storage")
	prefix, _ := cmd.Flags().GetString("redis-prefix")
	outPath, _ := cmd.Flags().GetString("out")
	level, _ := cmd.Flags().GetString("log-level")

	logger, err := newLogger(level)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, location, prefix, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	records, err := st.Records(ctx)
	if err != nil {
		return fmt.Errorf("read records: %w", err)
	}

	if outPath == "" {
		if err := writeRecords(cmd.OutOrStdout(), records); err != nil {
			return err
		}
	} else {
		w, err := newJSONLWriter(outPath)
		if err != nil {
			return err
		}
		if err := writeRecords(w, records); err != nil {
			w.Close()
			return err
		}
		if err := w.Close(); err != nil {
			return fmt.Errorf("close %s: %w", outPath, err)
		}
	}

	logger.Info("export done",
		zap.String("storage", redactDSN(location)),
		zap.Int("records", len(records)),
		zap.String("out", outPath),
	)
	return nil
}

func writeRecords(w io.Writer, records []model.EventRecord) error {
	enc := json.NewEncoder(w)
	for _, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return fmt.Errorf("write record %s: %w", rec.TransactionHash, err)
		}
	}
	return nil
}

type jsonlWriter struct {
	file   *os.File
	writer *bufio.Writer
}

func newJSONLWriter(path string) (*jsonlWriter, error) {
	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create dir: %w", err)
		}
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}

	return &jsonlWriter{
		file:   file,
		writer: bufio.NewWriter(file),
	}, nil
}

func (w *jsonlWriter) Write(p []byte) (int, error) {
	return w.writer.Write(p)
}

func (w *jsonlWriter) Close() error {
	if err := w.writer.Flush(); err != nil {
		w.file.Close()
		return err
	}
	return w.file.Close()
}
