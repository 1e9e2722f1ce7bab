package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"ChainPilot/pkg/logger"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// newDocsCommand 提供离线维护文档索引的子命令，不需要连接工具提供方。
func newDocsCommand(v *viper.Viper) *cobra.Command {
	docs := &cobra.Command{
		Use:   "docs",
		Short: "Manage the documentation index",
	}

	var reset bool
	index := &cobra.Command{
		Use:   "index [files...]",
		Short: "Build the SQLite documentation index from the built-in corpus and the given files",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(v)
			if err != nil {
				return err
			}
			if err := initLogger(cfg, true); err != nil {
				return err
			}
			defer logger.Sync()

			path := docsIndexPath(cfg)
			if reset {
				if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
					return fmt.Errorf("删除旧索引失败: %w", err)
				}
			}
			if err := os.MkdirAll(cfg.Runtime.DataDir, 0o755); err != nil {
				return err
			}
			idx, err := openDocsIndex(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer idx.Close()

			corpus := append(append([]string(nil), cfg.Docs.Corpus...), args...)
			total, err := seedDocsIndex(cmd.Context(), idx, corpus)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "indexed %d snippets into %s\n", total, path)
			return nil
		},
	}
	index.Flags().BoolVar(&reset, "reset", false, "drop the existing index first")

	search := &cobra.Command{
		Use:   "search <query>",
		Short: "Query the SQLite documentation index",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(v)
			if err != nil {
				return err
			}
			if err := initLogger(cfg, true); err != nil {
				return err
			}
			defer logger.Sync()

			idx, err := openDocsIndex(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer idx.Close()

			snippets, err := idx.Search(cmd.Context(), strings.Join(args, " "), cfg.Docs.MaxResults)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(snippets) == 0 {
				fmt.Fprintln(out, "no matching documentation")
				return nil
			}
			for _, s := range snippets {
				fmt.Fprintf(out, "%.2f  %s\n      %s\n", s.Score, s.Title, s.Content)
			}
			return nil
		},
	}

	docs.AddCommand(index, search)
	return docs
}
