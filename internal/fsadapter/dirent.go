package fsadapter

import (
	"path/filepath"

	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/fuse/fuseutil"

	"github.com/audiofs/audiofs/internal/catalog"
)

func baseName(relPath string) string {
	if relPath == "." {
		return relPath
	}
	return filepath.Base(relPath)
}

// writeDirent appends one directory entry to buf in the kernel's
// expected encoding, returning the number of bytes written (0 if it
// would not fit, signalling the caller to stop and let the kernel page
// in the rest on the next ReadDirOp at this offset).
func (fs *FileSystem) writeDirent(buf []byte, entry *catalog.Entry, id fuseops.InodeID, offset fuseops.DirOffset) int {
	direntType := fuseutil.DT_File
	if entry.Kind == catalog.KindDir {
		direntType = fuseutil.DT_Directory
	}

	return fuseutil.WriteDirent(buf, fuseutil.Dirent{
		Offset: offset,
		Inode:  id,
		Name:   baseName(entry.RelPath),
		Type:   direntType,
	})
}
