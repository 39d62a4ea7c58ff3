// Package fingerprint computes the stable, collision-resistant byte
// string that names a unique derived byte
// stream, and the on-disk names derived from it.
//
// A cache file is named by the hex digest of its
// own inputs, and a build-in-progress file adds a random nonce suffix
// so concurrent builders of the *same* fingerprint never collide on a
// temp name.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/audiofs/audiofs/pkg/fsutil"
	"github.com/google/uuid"
)

// PartialSuffix is the filename suffix used for in-progress builds
// before promotion.
const PartialSuffix = ".partial-"

// Params is the canonical input tuple hashed to produce a fingerprint:
// driver identifier, driver-version tag, the driver's parameter tuple
// (already canonicalized to a string by the caller), and the source
// file's stable identity.
type Params struct {
	DriverID string
	DriverVersion string
	ParamTuple string
	Source fsutil.Identity
}

// Compute returns the hex-encoded SHA-256 fingerprint for params. Equal
// Params always yield equal fingerprints, and distinct driver-version
// tags always yield distinct fingerprints.
func Compute(p Params) string {
	h := sha256.New()
	fmt.Fprintf(h, "driver=%s\x00version=%s\x00params=%s\x00dev=%d\x00ino=%d\x00mtime=%d\x00size=%d",
		p.DriverID, p.DriverVersion, p.ParamTuple,
		p.Source.Device, p.Source.Inode, p.Source.ModTime, p.Source.Size,
	)
	return hex.EncodeToString(h.Sum(nil))
}

// PartialName returns a unique temp filename for a build in progress:
// the fingerprint plus a fresh random nonce, so concurrent reservers of
// the same fingerprint never share a partial file inode.
func PartialName(fp string) string {
	return fp + PartialSuffix + uuid.NewString()
}
