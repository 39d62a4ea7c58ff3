package fingerprint

import (
	"strings"
	"testing"

	"github.com/audiofs/audiofs/pkg/fsutil"
)

func baseParams() Params {
	return Params{
		DriverID:      "mp3encode",
		DriverVersion: "mp3encode.v1",
		ParamTuple:    "bitrate=192",
		Source:        fsutil.Identity{Device: 1, Inode: 2, ModTime: 1234, Size: 5678},
	}
}

func TestComputeIsDeterministic(t *testing.T) {
	p := baseParams()
	if Compute(p) != Compute(p) {
		t.Fatalf("Compute(p) is not deterministic for equal inputs")
	}
}

func TestComputeDiffersByDriverVersion(t *testing.T) {
	a := baseParams()
	b := baseParams()
	b.DriverVersion = "mp3encode.v2"

	if Compute(a) == Compute(b) {
		t.Fatalf("Compute() collided across different driver versions")
	}
}

func TestComputeDiffersByParamTuple(t *testing.T) {
	a := baseParams()
	b := baseParams()
	b.ParamTuple = "bitrate=320"

	if Compute(a) == Compute(b) {
		t.Fatalf("Compute() collided across different param tuples")
	}
}

func TestComputeDiffersBySourceIdentity(t *testing.T) {
	a := baseParams()
	b := baseParams()
	b.Source.ModTime++

	if Compute(a) == Compute(b) {
		t.Fatalf("Compute() collided across different source identities")
	}
}

func TestPartialNameIsUniquePerCall(t *testing.T) {
	fp := "deadbeef"
	n1 := PartialName(fp)
	n2 := PartialName(fp)

	if n1 == n2 {
		t.Fatalf("PartialName(%q) returned the same name twice: %q", fp, n1)
	}
	if !strings.HasPrefix(n1, fp) || !strings.HasPrefix(n2, fp) {
		t.Fatalf("PartialName(%q) results %q / %q don't start with the fingerprint", fp, n1, n2)
	}
	if !strings.Contains(n1, PartialSuffix) {
		t.Fatalf("PartialName(%q) = %q, missing PartialSuffix %q", fp, n1, PartialSuffix)
	}
}
