package blobfs_test

import (
	"context"
	"fmt"
	"io"
	"log"

	"github.com/hupe1980/blobfs"
	"github.com/hupe1980/blobfs/objstore"
	"github.com/hupe1980/blobfs/uploader"
)

// Example demonstrates basic file operations over an in-memory store.
func Example() {
	ctx := context.Background()

	fsys, err := blobfs.New(objstore.NewMemory())
	if err != nil {
		log.Fatal(err)
	}
	defer fsys.Close()

	w, err := fsys.Create(ctx, "reports/2026/q1.csv")
	if err != nil {
		log.Fatal(err)
	}
	if _, err := io.WriteString(w, "id,total\n1,42\n"); err != nil {
		log.Fatal(err)
	}
	if err := w.Close(); err != nil {
		log.Fatal(err)
	}

	items, err := fsys.List(ctx, "reports")
	if err != nil {
		log.Fatal(err)
	}
	for _, item := range items {
		fmt.Println(item.Name(), item.IsDir())
	}
	// Output: 2026 true
}

// Example_resumableUpload demonstrates pausing an upload and finishing it
// later from a resume token.
func Example_resumableUpload() {
	ctx := context.Background()

	fsys, err := blobfs.New(objstore.NewMemory(), blobfs.WithChunkLimit(4))
	if err != nil {
		log.Fatal(err)
	}
	defer fsys.Close()

	up, err := fsys.BeginUpload(ctx, "backups/db.tar")
	if err != nil {
		log.Fatal(err)
	}
	if _, err := up.Write([]byte("abcdef")); err != nil {
		log.Fatal(err)
	}

	// Commit stages everything written so far and returns a resume token;
	// the file itself does not exist yet.
	token, err := up.Commit(ctx)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println("staged chunks:", uploader.DecodeToken(token))

	// A later session, possibly in another process, picks up where the
	// token says staging stopped.
	resumed, err := fsys.ResumeUpload(ctx, "backups/db.tar", token)
	if err != nil {
		log.Fatal(err)
	}
	if _, err := resumed.Write([]byte("ghij")); err != nil {
		log.Fatal(err)
	}
	if err := resumed.Complete(ctx); err != nil {
		log.Fatal(err)
	}

	item, err := fsys.Stat(ctx, "backups/db.tar")
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println("size:", item.Size())
	// Output:
	// staged chunks: 2
	// size: 10
}

// Example_virtualDirectories demonstrates empty directories blending into
// real listings.
func Example_virtualDirectories() {
	ctx := context.Background()

	fsys, err := blobfs.New(objstore.NewMemory())
	if err != nil {
		log.Fatal(err)
	}
	defer fsys.Close()

	if err := fsys.Mkdir(ctx, "staging"); err != nil {
		log.Fatal(err)
	}

	w, err := fsys.Create(ctx, "data/records.json")
	if err != nil {
		log.Fatal(err)
	}
	if _, err := io.WriteString(w, "[]"); err != nil {
		log.Fatal(err)
	}
	if err := w.Close(); err != nil {
		log.Fatal(err)
	}

	items, err := fsys.List(ctx, "")
	if err != nil {
		log.Fatal(err)
	}
	for _, item := range items {
		fmt.Println(item.Name(), item.IsDir())
	}
	// Output:
	// data true
	// staging true
}
