package cmd

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/quarrysearch/quarry/internal/index"
)

// maxIndexFileSize skips blobs no chunker output would justify loading.
const maxIndexFileSize = 10 << 20

// skipDirs are never descended into during file collection.
var skipDirs = map[string]struct{}{
	".git":         {},
	".hg":          {},
	".svn":         {},
	"node_modules": {},
	"vendor":       {},
	"__pycache__":  {},
}

func newIndexCmd() *cobra.Command {
	var (
		force   bool
		prune   bool
		reindex bool
		noWait  bool
	)

	cmd := &cobra.Command{
		Use:   "index <store> [path]",
		Short: "Index a directory into a store",
		Long: `Index a directory into a store.

Files are diffed against the tracked state: unchanged files are
skipped, changed files replace their old chunks. Use --force to
reprocess unchanged files, --reindex to drop the store's data first,
and --prune to also remove tracked files missing from disk.

By default the command drains the enqueued jobs before returning.
With --no-wait it only enqueues; a separate 'quarry worker' process
must drain them.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			store := args[0]
			root := "."
			if len(args) > 1 {
				root = args[1]
			}
			if force && reindex {
				return fmt.Errorf("--force and --reindex are mutually exclusive")
			}

			svc, cleanup, err := openService()
			if err != nil {
				return err
			}
			defer cleanup()

			files, paths, err := collectFiles(root)
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			var res *index.Result
			if reindex {
				res, err = svc.Reindex(ctx, store, files)
			} else {
				res, err = svc.Index(ctx, store, files, force)
			}
			if err != nil {
				return err
			}

			pruned := 0
			if prune {
				if pruned, err = svc.Sync(ctx, store, paths); err != nil {
					return err
				}
			}

			if !noWait {
				if err := svc.Drain(ctx); err != nil {
					return err
				}
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "store %s: %d new, %d changed, %d unchanged, %d skipped, %d chunks\n",
				store, res.New, res.Changed, res.Unchanged, res.Skipped, res.Chunks)
			if prune {
				fmt.Fprintf(out, "pruned %d deleted files\n", pruned)
			}
			if noWait {
				fmt.Fprintln(out, "jobs enqueued; run 'quarry worker' to process them")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Reprocess unchanged files")
	cmd.Flags().BoolVar(&reindex, "reindex", false, "Drop the store's data and rebuild from scratch")
	cmd.Flags().BoolVar(&prune, "prune", false, "Remove tracked files missing from disk")
	cmd.Flags().BoolVar(&noWait, "no-wait", false, "Enqueue only; do not drain the job queues")

	return cmd
}

// collectFiles walks root and loads every candidate file. Paths are
// returned relative to root with forward slashes so that stores are
// portable across checkouts.
func collectFiles(root string) ([]index.File, []string, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, nil, err
	}

	var (
		files []index.File
		paths []string
	)
	err = filepath.WalkDir(absRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name := d.Name()
		if d.IsDir() {
			if path == absRoot {
				return nil
			}
			if _, skip := skipDirs[name]; skip || strings.HasPrefix(name, ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(name, ".") {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.Size() > maxIndexFileSize || !info.Mode().IsRegular() {
			return nil
		}

		content, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(absRoot, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		files = append(files, index.File{Path: rel, Content: content})
		paths = append(paths, rel)
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return files, paths, nil
}
