package blobfs

// Close releases resources held by this FS instance.
//
// This is primarily useful when a read cache is enabled: closing flushes the
// disk cache's pending writes and drops in-memory blocks. The FS must not be
// used afterwards.
func (fs *FS) Close() error {
	if fs == nil {
		return nil
	}
	var firstErr error
	if fs.blockCache != nil {
		if err := fs.blockCache.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		fs.blockCache = nil
	}
	return firstErr
}
