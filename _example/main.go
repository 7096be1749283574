package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"

	"github.com/hupe1980/blobfs"
	"github.com/hupe1980/blobfs/objstore"
	"github.com/hupe1980/blobfs/uploader"
)

func main() {
	ctx := context.Background()

	fsys, err := blobfs.New(objstore.NewMemory(),
		blobfs.WithPrefix("demo"),
		blobfs.WithChunkLimit(1<<20),
	)
	if err != nil {
		log.Fatal(err)
	}
	defer fsys.Close()

	fmt.Println("--- Write ---")

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

	if err := fsys.Mkdir(ctx, "incoming"); err != nil {
		log.Fatal(err)
	}

	fmt.Println("--- List ---")

	items, err := fsys.List(ctx, "")
	if err != nil {
		log.Fatal(err)
	}
	for _, item := range items {
		if item.IsDir() {
			fmt.Printf("%s/\n", item.Name())
		} else {
			fmt.Printf("%s (%d bytes)\n", item.Name(), item.Size())
		}
	}

	fmt.Println("--- Resumable upload ---")

	payload := bytes.Repeat([]byte("blobfs "), 1<<18) // ~1.75 MiB, two chunks

	up, err := fsys.BeginUpload(ctx, "backups/payload.bin")
	if err != nil {
		log.Fatal(err)
	}
	if _, err := up.Write(payload[:1<<20]); err != nil {
		log.Fatal(err)
	}

	// Pause: the token is all a later process needs.
	token, err := up.Commit(ctx)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println("chunks staged so far:", uploader.DecodeToken(token))

	resumed, err := fsys.ResumeUpload(ctx, "backups/payload.bin", token)
	if err != nil {
		log.Fatal(err)
	}
	if _, err := resumed.Write(payload[1<<20:]); err != nil {
		log.Fatal(err)
	}
	if err := resumed.Complete(ctx); err != nil {
		log.Fatal(err)
	}

	item, err := fsys.Stat(ctx, "backups/payload.bin")
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("uploaded %s: %d bytes\n", item.Name(), item.Size())
}
