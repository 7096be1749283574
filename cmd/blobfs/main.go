// Command blobfs is a small command-line client for blobfs-managed object
// stores: list, read, upload, copy and delete files behind an S3 bucket or a
// local directory.
//
// Configuration comes from flags, the environment (BLOBFS_*) or an optional
// config file:
//
//	blobfs --backend s3 --bucket my-bucket ls reports/
//	BLOBFS_BACKEND=local BLOBFS_ROOT=/tmp/store blobfs put backup.tar backups/db.tar
package main

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hupe1980/blobfs"
	"github.com/hupe1980/blobfs/objstore"
	"github.com/hupe1980/blobfs/objstore/s3"
	"github.com/hupe1980/blobfs/uploader"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "blobfs:", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:           "blobfs",
		Short:         "Hierarchical file operations on flat object stores",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := v.BindPFlags(cmd.Flags()); err != nil {
				return err
			}
			v.SetEnvPrefix("BLOBFS")
			v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
			v.AutomaticEnv()

			if cfg := v.GetString("config"); cfg != "" {
				v.SetConfigFile(cfg)
				if err := v.ReadInConfig(); err != nil {
					return fmt.Errorf("read config %q: %w", cfg, err)
				}
			}
			return nil
		},
	}

	pf := cmd.PersistentFlags()
	pf.String("config", "", "config file (optional)")
	pf.String("backend", "local", "storage backend: s3 or local")
	pf.String("bucket", "", "bucket name (s3 backend)")
	pf.String("root", ".blobfs", "root directory (local backend)")
	pf.String("prefix", "", "key prefix all paths live under")
	pf.Int("chunk-limit", 0, "upload chunk size in bytes (default 50 MiB)")
	pf.Bool("verbose", false, "log operations to stderr")

	cmd.AddCommand(
		lsCmd(v), catCmd(v), putCmd(v), statCmd(v),
		rmCmd(v), mkdirCmd(v), cpCmd(v), duCmd(v),
	)
	return cmd
}

func openFS(cmd *cobra.Command, v *viper.Viper) (*blobfs.FS, error) {
	var store objstore.Store
	switch backend := v.GetString("backend"); backend {
	case "s3":
		bucket := v.GetString("bucket")
		if bucket == "" {
			return nil, fmt.Errorf("the s3 backend needs --bucket")
		}
		cfg, err := awsconfig.LoadDefaultConfig(cmd.Context())
		if err != nil {
			return nil, fmt.Errorf("load AWS config: %w", err)
		}
		store = s3.New(awss3.NewFromConfig(cfg), bucket)
	case "local":
		local, err := objstore.NewLocal(v.GetString("root"))
		if err != nil {
			return nil, err
		}
		store = local
	default:
		return nil, fmt.Errorf("unknown backend %q (want s3 or local)", backend)
	}

	opts := []blobfs.Option{blobfs.WithPrefix(v.GetString("prefix"))}
	if n := v.GetInt("chunk-limit"); n > 0 {
		opts = append(opts, blobfs.WithChunkLimit(n))
	}
	if v.GetBool("verbose") {
		opts = append(opts, blobfs.WithLogLevel(slog.LevelDebug))
	}
	return blobfs.New(store, opts...)
}

func lsCmd(v *viper.Viper) *cobra.Command {
	var long bool
	cmd := &cobra.Command{
		Use:   "ls [dir]",
		Short: "List a directory",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fsys, err := openFS(cmd, v)
			if err != nil {
				return err
			}
			defer fsys.Close()

			dir := ""
			if len(args) == 1 {
				dir = args[0]
			}
			items, err := fsys.List(cmd.Context(), dir)
			if err != nil {
				return err
			}
			for _, item := range items {
				name := item.Name()
				if item.IsDir() {
					name += "/"
				}
				if long && !item.IsDir() {
					fmt.Fprintf(cmd.OutOrStdout(), "%12d %s %s\n", item.Size(), item.ModTime().Format("2006-01-02 15:04:05"), name)
				} else {
					fmt.Fprintln(cmd.OutOrStdout(), name)
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&long, "long", "l", false, "show size and modification time")
	return cmd
}

func catCmd(v *viper.Viper) *cobra.Command {
	var offset int64
	cmd := &cobra.Command{
		Use:   "cat <path>",
		Short: "Write a file's content to stdout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fsys, err := openFS(cmd, v)
			if err != nil {
				return err
			}
			defer fsys.Close()

			r, err := fsys.OpenAt(cmd.Context(), args[0], offset)
			if err != nil {
				return err
			}
			defer r.Close()

			_, err = io.Copy(cmd.OutOrStdout(), r)
			return err
		},
	}
	cmd.Flags().Int64Var(&offset, "offset", 0, "start reading at this byte offset")
	return cmd
}

func putCmd(v *viper.Viper) *cobra.Command {
	var resume bool
	cmd := &cobra.Command{
		Use:   "put <local-file> <path>",
		Short: "Upload a local file through a resumable chunked upload",
		Long: `Upload a local file through a resumable chunked upload.

With --resume, an interrupted upload of the same path is continued from its
last durable chunk: the resume token is kept next to the target under
"<path>.resume" until the upload completes.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			fsys, err := openFS(cmd, v)
			if err != nil {
				return err
			}
			defer fsys.Close()

			src, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer src.Close()

			ctx := cmd.Context()
			path := args[1]
			tokenPath := path + ".resume"

			var (
				up   *blobfs.Upload
				skip int64
			)
			if resume {
				token, offset := readResumeState(ctx, fsys, tokenPath)
				up, err = fsys.ResumeUpload(ctx, path, token)
				if err != nil {
					return err
				}
				if up.StagedChunks() > 0 && offset > 0 {
					if _, err := src.Seek(offset, io.SeekStart); err != nil {
						return err
					}
					skip = offset
					fmt.Fprintf(cmd.ErrOrStderr(), "resuming at byte %d\n", offset)
				}
			} else {
				up, err = fsys.BeginUpload(ctx, path)
				if err != nil {
					return err
				}
			}

			if _, err := io.Copy(up, src); err != nil {
				if resume {
					saveResumeState(ctx, fsys, up, tokenPath, skip)
				} else {
					_ = up.Close()
				}
				return err
			}
			if err := up.Complete(ctx); err != nil {
				return err
			}
			if resume {
				_ = fsys.Remove(ctx, tokenPath)
			}

			fmt.Fprintf(cmd.ErrOrStderr(), "uploaded %d bytes to %s\n", up.BytesWritten(), path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&resume, "resume", false, "continue an interrupted upload of the same path")
	return cmd
}

// Resume state blob: the uploader's token followed by the durable source
// byte offset as 8 little-endian bytes.

// readResumeState loads a previously saved token and source offset. Any
// failure just means starting the upload over.
func readResumeState(ctx context.Context, fsys *blobfs.FS, tokenPath string) ([]byte, int64) {
	r, err := fsys.Open(ctx, tokenPath)
	if err != nil {
		return nil, 0
	}
	defer r.Close()

	state, err := io.ReadAll(r)
	if err != nil || len(state) != uploader.TokenSize+8 {
		return nil, 0
	}
	offset := int64(binary.LittleEndian.Uint64(state[uploader.TokenSize:]))
	return state[:uploader.TokenSize], offset
}

// saveResumeState commits the session's outstanding chunks and stores the
// token plus source offset next to the target, so a later "put --resume" can
// pick the upload back up.
func saveResumeState(ctx context.Context, fsys *blobfs.FS, up *blobfs.Upload, tokenPath string, skip int64) {
	written := up.BytesWritten()
	token, err := up.Commit(ctx)
	if err != nil {
		return
	}

	state := make([]byte, 0, uploader.TokenSize+8)
	state = append(state, token...)
	state = binary.LittleEndian.AppendUint64(state, uint64(skip+written))

	w, err := fsys.Create(ctx, tokenPath)
	if err != nil {
		return
	}
	if _, err := w.Write(state); err == nil {
		_ = w.Close()
	}
}

func statCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "stat <path>",
		Short: "Describe a file or directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fsys, err := openFS(cmd, v)
			if err != nil {
				return err
			}
			defer fsys.Close()

			item, err := fsys.Stat(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if item.IsDir() {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: directory\n", item.Name())
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: file, %d bytes, modified %s\n",
				item.Name(), item.Size(), item.ModTime().Format("2006-01-02 15:04:05"))
			return nil
		},
	}
}

func rmCmd(v *viper.Viper) *cobra.Command {
	var recursive bool
	cmd := &cobra.Command{
		Use:   "rm <path>",
		Short: "Delete a file, or a directory with --recursive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fsys, err := openFS(cmd, v)
			if err != nil {
				return err
			}
			defer fsys.Close()

			if recursive {
				return fsys.RemoveDir(cmd.Context(), args[0], true)
			}
			return fsys.Remove(cmd.Context(), args[0])
		},
	}
	cmd.Flags().BoolVarP(&recursive, "recursive", "r", false, "delete a directory and everything beneath it")
	return cmd
}

func mkdirCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "mkdir <dir>",
		Short: "Create a directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fsys, err := openFS(cmd, v)
			if err != nil {
				return err
			}
			defer fsys.Close()

			return fsys.Mkdir(cmd.Context(), args[0])
		},
	}
}

func cpCmd(v *viper.Viper) *cobra.Command {
	var overwrite bool
	cmd := &cobra.Command{
		Use:   "cp <src> <dst>",
		Short: "Copy a file server-side",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			fsys, err := openFS(cmd, v)
			if err != nil {
				return err
			}
			defer fsys.Close()

			return fsys.Copy(cmd.Context(), args[0], args[1], overwrite)
		},
	}
	cmd.Flags().BoolVarP(&overwrite, "force", "f", false, "overwrite an existing destination")
	return cmd
}

func duCmd(v *viper.Viper) *cobra.Command {
	var recursive bool
	cmd := &cobra.Command{
		Use:   "du <dir>",
		Short: "Sum the sizes of the files in a directory",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fsys, err := openFS(cmd, v)
			if err != nil {
				return err
			}
			defer fsys.Close()

			dir := ""
			if len(args) == 1 {
				dir = args[0]
			}
			total, err := fsys.DirSize(cmd.Context(), dir, recursive)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), total)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&recursive, "recursive", "r", false, "include subdirectories")
	return cmd
}
