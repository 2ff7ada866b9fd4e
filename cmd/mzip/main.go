// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command mzip lists, extracts, creates and appends to ZIP archives.
package main

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/lemon4ksan/mzip"
	"github.com/lemon4ksan/mzip/internal/logging"

	_ "github.com/lemon4ksan/mzip/brotli"
	_ "github.com/lemon4ksan/mzip/lz4"
	_ "github.com/lemon4ksan/mzip/lzma"
	_ "github.com/lemon4ksan/mzip/zstd"
)

var rootCmd = &cobra.Command{
	Use:           "mzip",
	Short:         "Work with ZIP archives",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var listCmd = &cobra.Command{
	Use:   "list <archive>",
	Short: "List archive entries",
	Args:  cobra.ExactArgs(1),
	RunE:  list,
}

var extractCmd = &cobra.Command{
	Use:   "extract <archive> [names...]",
	Short: "Extract entries into a directory",
	Args:  cobra.MinimumNArgs(1),
	RunE:  extract,
}

var createCmd = &cobra.Command{
	Use:   "create <archive> <files...>",
	Short: "Create an archive from files",
	Args:  cobra.MinimumNArgs(2),
	RunE:  create,
}

var appendCmd = &cobra.Command{
	Use:   "append <archive> <files...>",
	Short: "Append files to an existing archive",
	Args:  cobra.MinimumNArgs(2),
	RunE:  appendFiles,
}

func init() {
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-output-dir", "", "directory to write log files")
	viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("log_output_dir", rootCmd.PersistentFlags().Lookup("log-output-dir"))

	extractCmd.Flags().StringP("output", "o", ".", "directory to extract into")
	extractCmd.Flags().Int("workers", 0, "concurrent decode workers (0 = number of CPUs)")

	for _, cmd := range []*cobra.Command{createCmd, appendCmd} {
		cmd.Flags().StringP("method", "m", "store", "compression method (store, deflate, lzma, zstd, lz4, brotli)")
		cmd.Flags().String("comment", "", "archive comment")
		cmd.Flags().Bool("store-if-larger", false, "store entries the chosen method would expand")
	}

	rootCmd.AddCommand(listCmd, extractCmd, createCmd, appendCmd)

	viper.SetEnvPrefix("MZIP")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func setup() error {
	return logging.Setup(viper.GetString("log_level"), viper.GetString("log_output_dir"))
}

func list(cmd *cobra.Command, args []string) error {
	if err := setup(); err != nil {
		return err
	}

	a, err := mzip.Open(args[0], mzip.ReadOnly)
	if err != nil {
		return err
	}
	defer a.Close()

	fmt.Printf("%-10s %-10s %-8s %-8s %-16s %s\n", "size", "packed", "method", "crc32", "modified", "name")
	for i := 0; i < a.EntryCount(); i++ {
		e, err := a.Entry(i)
		if err != nil {
			return err
		}
		fmt.Printf("%-10d %-10d %-8s %08x %-16s %s\n",
			e.UncompressedSize(), e.CompressedSize(), e.Method(), e.CRC32(),
			e.ModTime().Format("2006-01-02 15:04"), e.Name())
	}
	if comment := a.Comment(); comment != "" {
		fmt.Printf("comment: %s\n", comment)
	}

	return nil
}

func extract(cmd *cobra.Command, args []string) error {
	if err := setup(); err != nil {
		return err
	}

	outDir, _ := cmd.Flags().GetString("output")
	workers, _ := cmd.Flags().GetInt("workers")

	a, err := mzip.Open(args[0], mzip.ReadOnly)
	if err != nil {
		return err
	}
	defer a.Close()

	indices, err := selectEntries(a, args[1:])
	if err != nil {
		return err
	}

	// Full extraction tries one parallel pass first. A single bad entry
	// cancels that pass, so on failure fall through to the per-entry loop:
	// failures are reported and skipped, never fatal to the run.
	var failed bool
	if len(args) == 1 {
		payloads, err := a.Payloads(context.Background(), workers)
		if err == nil {
			for i, data := range payloads {
				e, _ := a.Entry(i)
				if err := writeExtracted(outDir, e, data); err != nil {
					slog.Error("extract failed", "entry", e.Name(), "error", err)
					failed = true
				}
			}
			if failed {
				return fmt.Errorf("some entries were not extracted")
			}
			return nil
		}
		slog.Warn("parallel extraction aborted, retrying entry by entry", "error", err)
	}

	for _, i := range indices {
		e, _ := a.Entry(i)
		data, err := a.Payload(i)
		if err != nil {
			slog.Error("extract failed", "entry", e.Name(), "error", err)
			failed = true
			continue
		}
		if err := writeExtracted(outDir, e, data); err != nil {
			slog.Error("extract failed", "entry", e.Name(), "error", err)
			failed = true
		}
	}

	if failed {
		return fmt.Errorf("some entries were not extracted")
	}
	return nil
}

func selectEntries(a *mzip.Archive, names []string) ([]int, error) {
	if len(names) == 0 {
		indices := make([]int, a.EntryCount())
		for i := range indices {
			indices[i] = i
		}
		return indices, nil
	}

	indices := make([]int, 0, len(names))
	for _, name := range names {
		i, err := a.FindEntry(name)
		if err != nil {
			return nil, err
		}
		indices = append(indices, i)
	}
	return indices, nil
}

func writeExtracted(outDir string, e *mzip.Entry, data []byte) error {
	name := filepath.FromSlash(e.Name())
	if !filepath.IsLocal(name) {
		return fmt.Errorf("unsafe entry path %q", e.Name())
	}
	dest := filepath.Join(outDir, name)

	if e.IsDir() {
		return os.MkdirAll(dest, 0o755)
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(dest, data, 0o644); err != nil {
		return err
	}
	return os.Chtimes(dest, e.ModTime(), e.ModTime())
}

func create(cmd *cobra.Command, args []string) error {
	return addFiles(cmd, args, mzip.Truncate)
}

func appendFiles(cmd *cobra.Command, args []string) error {
	return addFiles(cmd, args, mzip.ReadWrite)
}

func addFiles(cmd *cobra.Command, args []string, mode mzip.Mode) error {
	if err := setup(); err != nil {
		return err
	}

	methodName, _ := cmd.Flags().GetString("method")
	method, err := mzip.ParseMethod(methodName)
	if err != nil {
		return err
	}
	comment, _ := cmd.Flags().GetString("comment")
	storeIfLarger, _ := cmd.Flags().GetBool("store-if-larger")

	var opts []mzip.Option
	if comment != "" {
		opts = append(opts, mzip.WithComment(comment))
	}
	if storeIfLarger {
		opts = append(opts, mzip.WithStoreFallback())
	}

	a, err := mzip.Open(args[0], mode, opts...)
	if err != nil {
		return err
	}

	var failed bool
	for _, path := range args[1:] {
		if err := addPath(a, path, method); err != nil {
			slog.Error("add failed", "path", path, "error", err)
			failed = true
		}
	}

	if err := a.Close(); err != nil {
		return err
	}
	if failed {
		return fmt.Errorf("some files were not added")
	}
	return nil
}

// addPath stages a file, or every file under a directory, keeping
// forward-slash entry names relative to the argument's parent.
func addPath(a *mzip.Archive, path string, method mzip.Method) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}

	if !info.IsDir() {
		return addFile(a, path, filepath.Base(path), method)
	}

	base := filepath.Dir(filepath.Clean(path))
	return filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(base, p)
		if err != nil {
			return err
		}
		return addFile(a, p, filepath.ToSlash(rel), method)
	})
}

func addFile(a *mzip.Archive, path, name string, method mzip.Method) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if _, err := a.AddEntry(name, mzip.OwnedBytes(data), method); err != nil {
		return err
	}
	slog.Debug("staged entry", "name", name, "size", len(data), "method", method)
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
